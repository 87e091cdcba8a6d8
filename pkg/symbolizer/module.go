package symbolizer

import (
	"path"
	"regexp"
	"strings"
)

// Module names arrive from untrusted trace files and end up in cache paths
// and URLs; debug ids additionally key the dedup table. Both are validated
// against path traversal before use.
var validDebugID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ModuleRef identifies one binary module's symbol file: the PDB base name
// and debug id key both the on-disk cache and the symbol-server URL.
type ModuleRef struct {
	PDBBaseName    string
	DebugID        string
	SymbolFileName string
}

// NewModuleRef builds a sanitized reference from a module name and debug id
// as they appear in stack-frame text.
func NewModuleRef(name, debugID string) (ModuleRef, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "" || base == "." || base == ".." || base == "/" {
		return ModuleRef{}, invalidModuleError{field: "name", value: name}
	}
	if !validDebugID.MatchString(debugID) {
		return ModuleRef{}, invalidModuleError{field: "debug id", value: debugID}
	}
	return ModuleRef{
		PDBBaseName:    base,
		DebugID:        debugID,
		SymbolFileName: symbolFileName(base),
	}, nil
}

// key is the dedup and cache identity of the module.
func (m ModuleRef) key() string {
	return m.PDBBaseName + "/" + m.DebugID
}

// symbolFileName derives the Breakpad symbol file name from a PDB base name:
// a trailing .pdb is replaced by .sym, anything else gets .sym appended.
func symbolFileName(pdbBaseName string) string {
	if rest, ok := strings.CutSuffix(pdbBaseName, ".pdb"); ok {
		return rest + ".sym"
	}
	return pdbBaseName + ".sym"
}
