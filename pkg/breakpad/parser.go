package breakpad

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrNoRecords is returned when the input contains no recognizable symbol
// records at all. Callers use it to tell a corrupt file from a sparse one.
var ErrNoRecords = errors.New("breakpad: no recognizable symbol records")

// Maximum line length we accept. Mangled C++ names can run long, but a
// multi-megabyte "line" means the input is not a symbol file.
const maxLineSize = 1024 * 1024

// Parse consumes a line-oriented Breakpad symbol file in a single linear
// scan and builds the lookup tables. Lines that match no known record kind
// are skipped and counted. Read failures abort the parse; the grammar itself
// never does.
func Parse(r io.Reader) (*SymbolFile, error) {
	sf := &SymbolFile{files: make(map[string]string)}

	var current *FunctionRecord

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MODULE "):
			if mod, ok := parseModule(line); ok {
				sf.Module = mod
				continue
			}
		case strings.HasPrefix(line, "FILE "):
			if id, name, ok := parseFile(line); ok {
				sf.files[id] = name
				continue
			}
		case strings.HasPrefix(line, "FUNC "):
			if fn, ok := parseFunc(line); ok {
				sf.functions.Insert(fn.Address, fn)
				current = fn
				continue
			}
		case strings.HasPrefix(line, "PUBLIC "):
			if pub, ok := parsePublic(line); ok {
				sf.publics.Insert(pub.Address, pub)
				continue
			}
		default:
			if lr, ok := parseLine(line); ok {
				lr.Func = current
				sf.lines.Insert(lr.Address, lr)
				continue
			}
		}
		sf.SkippedLines++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read symbol file: %w", err)
	}

	if sf.Module == (Module{}) && sf.functions.Len() == 0 &&
		sf.lines.Len() == 0 && sf.publics.Len() == 0 && len(sf.files) == 0 {
		return nil, ErrNoRecords
	}

	sf.functions.Sort()
	sf.lines.Sort()
	sf.publics.Sort()
	return sf, nil
}

// MODULE <os> <arch> <debug id> <name, may contain spaces>
func parseModule(line string) (Module, bool) {
	parts := strings.SplitN(line, " ", 5)
	if len(parts) < 4 {
		return Module{}, false
	}
	mod := Module{OS: parts[1], Arch: parts[2], DebugID: parts[3]}
	if len(parts) == 5 {
		mod.Name = parts[4]
	}
	return mod, true
}

// FILE <id, decimal> <path, may contain spaces>
func parseFile(line string) (id, name string, ok bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", "", false
	}
	if _, err := strconv.ParseUint(parts[1], 10, 64); err != nil {
		return "", "", false
	}
	if len(parts) == 3 {
		name = parts[2]
	}
	return parts[1], name, true
}

// FUNC [m] <address> <size> <parameter size> <name, may contain spaces>
func parseFunc(line string) (*FunctionRecord, bool) {
	rest, multiple := cutMultiple(line[len("FUNC "):])
	parts := strings.SplitN(rest, " ", 4)
	if len(parts) < 3 {
		return nil, false
	}
	addr, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return nil, false
	}
	size, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return nil, false
	}
	paramSize, err := strconv.ParseUint(parts[2], 16, 64)
	if err != nil {
		return nil, false
	}
	fn := &FunctionRecord{
		Address:       addr,
		Size:          size,
		ParameterSize: paramSize,
		Multiple:      multiple,
	}
	if len(parts) == 4 {
		fn.Name = parts[3]
	}
	return fn, true
}

// PUBLIC [m] <address> <parameter size> <name, may contain spaces>
func parsePublic(line string) (*PublicSymbolRecord, bool) {
	rest, multiple := cutMultiple(line[len("PUBLIC "):])
	parts := strings.SplitN(rest, " ", 3)
	if len(parts) < 2 {
		return nil, false
	}
	addr, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return nil, false
	}
	paramSize, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return nil, false
	}
	pub := &PublicSymbolRecord{
		Address:       addr,
		ParameterSize: paramSize,
		Multiple:      multiple,
	}
	if len(parts) == 3 {
		pub.Name = parts[2]
	}
	return pub, true
}

// <address> <size> <line, decimal> <file id, decimal> — no keyword.
func parseLine(line string) (*LineRecord, bool) {
	parts := strings.Fields(line)
	if len(parts) != 4 {
		return nil, false
	}
	addr, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return nil, false
	}
	size, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return nil, false
	}
	lineNo, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, false
	}
	if _, err := strconv.ParseUint(parts[3], 10, 64); err != nil {
		return nil, false
	}
	return &LineRecord{
		Address: addr,
		Size:    size,
		Line:    lineNo,
		FileID:  parts[3],
	}, true
}

// cutMultiple strips the optional "m" marker that flags records shared by
// several compiler-folded symbols.
func cutMultiple(rest string) (string, bool) {
	if after, ok := strings.CutPrefix(rest, "m "); ok {
		return after, true
	}
	return rest, false
}
