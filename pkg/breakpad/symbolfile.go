package breakpad

// Module identifies one binary's symbol file, from the MODULE record.
type Module struct {
	OS      string
	Arch    string
	DebugID string
	Name    string
}

// FunctionRecord is one FUNC record: a named address range. Multiple is set
// when several compiler-folded functions share the range; Name is then one
// arbitrary representative.
type FunctionRecord struct {
	Address       uint64
	Size          uint64
	ParameterSize uint64
	Name          string
	Multiple      bool
}

// PublicSymbolRecord is one PUBLIC record: a named address with no known
// extent, usable only as an imprecise last-resort match.
type PublicSymbolRecord struct {
	Address       uint64
	ParameterSize uint64
	Name          string
	Multiple      bool
}

// LineRecord maps an address sub-range to a source line. Function is the
// FUNC record most recently parsed before this line, or nil when the input
// was truncated or malformed.
type LineRecord struct {
	Address uint64
	Size    uint64
	Line    int64
	FileID  string
	Func    *FunctionRecord
}

// SymbolFile is the parsed form of one Breakpad symbol file. It is built
// once by Parse and read-only afterwards; concurrent lookups are safe.
type SymbolFile struct {
	Module Module

	functions AddressIndex[*FunctionRecord]
	lines     AddressIndex[*LineRecord]
	publics   AddressIndex[*PublicSymbolRecord]
	files     map[string]string

	// SkippedLines counts input lines that matched no known record kind
	// (STACK WIN, STACK CFI, INLINE, ...). They are tolerated, not errors.
	SkippedLines int
}

// Resolution is the outcome of a successful Lookup.
type Resolution struct {
	FunctionName string
	File         string
	Line         int64
	HasLine      bool
}

// FileName returns the path registered for a FILE id, or "" if unknown.
func (sf *SymbolFile) FileName(id string) string {
	return sf.files[id]
}

// Lookup resolves a module-relative offset. Tiers are tried in fixed order:
// a line record whose range covers the offset, then a function record whose
// range covers it, then the nearest public symbol at or below it (publics
// carry no size, so they match any offset above them). Line information
// always wins over function-level, which always wins over the public
// fallback.
func (sf *SymbolFile) Lookup(offset uint64) (Resolution, bool) {
	if line, ok := sf.lines.Predecessor(offset); ok && offset < line.Address+line.Size {
		res := Resolution{
			File:    sf.files[line.FileID],
			Line:    line.Line,
			HasLine: true,
		}
		if line.Func != nil {
			res.FunctionName = line.Func.Name
		}
		return res, true
	}
	if fn, ok := sf.functions.Predecessor(offset); ok && offset < fn.Address+fn.Size {
		return Resolution{FunctionName: fn.Name}, true
	}
	if pub, ok := sf.publics.Predecessor(offset); ok {
		return Resolution{FunctionName: pub.Name}, true
	}
	return Resolution{}, false
}
