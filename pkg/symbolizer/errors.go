package symbolizer

import (
	"errors"
	"fmt"
)

// symbolsNotFoundError signals that no configured symbol server had the
// module. It is an expected miss, not a failure: frames referencing the
// module stay unresolved.
type symbolsNotFoundError struct {
	name    string
	debugID string
}

func (e symbolsNotFoundError) Error() string {
	return fmt.Sprintf("symbols not found: %s %s", e.name, e.debugID)
}

// invalidModuleError marks a module reference whose name or debug id cannot
// be used as a cache path or URL component.
type invalidModuleError struct {
	field string
	value string
}

func (e invalidModuleError) Error() string {
	return fmt.Sprintf("invalid module %s: %q", e.field, e.value)
}

type httpStatusError struct {
	statusCode int
	url        string
}

func (e httpStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.statusCode, e.url)
}

func isSymbolsNotFoundError(err error) bool {
	var nfErr symbolsNotFoundError
	return errors.As(err, &nfErr)
}

func isHTTPStatusError(err error) (int, bool) {
	var httpErr httpStatusError
	if errors.As(err, &httpErr) {
		return httpErr.statusCode, true
	}
	return 0, false
}
