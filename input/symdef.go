package input

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-eld/eldlink/obj"
	"github.com/go-eld/eldlink/resolve"
)

// SymdefType is a symdef entry's declared symbol type (§6: "TYPE ∈
// {NOTYPE, OBJECT, FUNC}"), the small subset of ELF's STT_* types a
// symdef file ever needs since every entry describes a value-only
// absolute symbol.
type SymdefType int

const (
	SymdefNoType SymdefType = iota
	SymdefObject
	SymdefFunc
)

func (t SymdefType) String() string {
	switch t {
	case SymdefObject:
		return "OBJECT"
	case SymdefFunc:
		return "FUNC"
	default:
		return "NOTYPE"
	}
}

// SymdefStyle selects how a symdef file's entries resolve against the
// rest of the link, chosen by an optional "#<SYMDEFS-style>" header
// comment (§6).
type SymdefStyle int

const (
	// SymdefProvide only supplies a symdef's value for a name that is
	// still undefined once installed, like a script PROVIDE(); this
	// is the format's default style, absent a header comment.
	SymdefProvide SymdefStyle = iota
	// SymdefForce always installs the symdef's definition as a
	// Define/Absolute symbol, resolving through the normal override
	// table (§4.4) against whatever else defines the same name.
	SymdefForce
)

func (s SymdefStyle) String() string {
	if s == SymdefForce {
		return "FORCE"
	}
	return "PROVIDE"
}

// SymdefEntry is one parsed line of a symdef file (§6:
// "<value>\t<TYPE>\t<name>\n lines").
type SymdefEntry struct {
	Value uint64
	Type  SymdefType
	Name  string
}

// ErrMalformedSymdef reports a symdef line that isn't exactly three
// tab-separated fields, or whose value or type field doesn't parse.
type ErrMalformedSymdef struct {
	Line int
	Text string
}

func (e *ErrMalformedSymdef) Error() string {
	return fmt.Sprintf("malformed symdef line %d: %q", e.Line, e.Text)
}

// ParseSymdef reads a symdef file (§6). Lines starting with "#" or
// ";" are comments and are skipped, except a "#<SYMDEFS-style>"
// comment, which selects the style entries resolve under (defaulting
// to SymdefProvide absent one). Every other non-blank line must be
// exactly "<value>\t<TYPE>\t<name>"; the value parses in any base
// strconv.ParseUint(...,0,64) accepts (decimal, or 0x/0-prefixed).
func ParseSymdef(r io.Reader) ([]SymdefEntry, SymdefStyle, error) {
	style := SymdefProvide
	var entries []SymdefEntry

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			if s, ok := parseSymdefStyleComment(line); ok {
				style = s
			}
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, style, &ErrMalformedSymdef{Line: lineNo, Text: line}
		}
		value, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 0, 64)
		if err != nil {
			return nil, style, &ErrMalformedSymdef{Line: lineNo, Text: line}
		}
		typ, ok := parseSymdefType(strings.TrimSpace(fields[1]))
		if !ok {
			return nil, style, &ErrMalformedSymdef{Line: lineNo, Text: line}
		}
		name := strings.TrimSpace(fields[2])
		if name == "" {
			return nil, style, &ErrMalformedSymdef{Line: lineNo, Text: line}
		}
		entries = append(entries, SymdefEntry{Value: value, Type: typ, Name: name})
	}
	if err := scanner.Err(); err != nil {
		return nil, style, err
	}
	return entries, style, nil
}

func parseSymdefType(s string) (SymdefType, bool) {
	switch s {
	case "NOTYPE":
		return SymdefNoType, true
	case "OBJECT":
		return SymdefObject, true
	case "FUNC":
		return SymdefFunc, true
	default:
		return 0, false
	}
}

// parseSymdefStyleComment extracts the style name out of a
// "#<SYMDEFS-STYLE>" comment: the text between the first "-" and the
// following ">", mirroring the original reader's "split on '-', then
// on '>'" parse.
func parseSymdefStyleComment(line string) (SymdefStyle, bool) {
	if !strings.Contains(line, "<SYMDEFS") {
		return 0, false
	}
	dash := strings.Index(line, "-")
	if dash < 0 {
		return 0, false
	}
	rest := line[dash+1:]
	gt := strings.Index(rest, ">")
	if gt < 0 {
		return 0, false
	}
	switch strings.TrimSpace(rest[:gt]) {
	case "PROVIDE":
		return SymdefProvide, true
	case "FORCE":
		return SymdefForce, true
	default:
		return 0, false
	}
}

// ApplyTo installs every parsed entry into pool as an absolute
// Define symbol, under origin/ordinal (typically the symdef file's
// own Input). SymdefForce inserts every entry through the normal §4.4
// override table: it replaces an undefined, weak or common entry, but
// not a prior strong definition, which yields a duplicate-definition
// error (or is kept under AllowMultipleDefinition); SymdefProvide only installs for a name the pool doesn't
// already have a definition for, leaving a prior definition alone
// (matching PROVIDE()'s "fill in only if otherwise undefined"
// semantics).
func ApplyTo(pool *resolve.Pool, entries []SymdefEntry, style SymdefStyle, origin resolve.Origin, ordinal int) error {
	for _, e := range entries {
		if style == SymdefProvide {
			if info, ok := pool.Lookup(e.Name); ok && info.Sym.Desc == obj.DescDefined {
				continue
			}
		}
		sym := obj.Sym{
			Name:    e.Name,
			Value:   e.Value,
			Desc:    obj.DescDefined,
			Binding: obj.BindGlobal,
			Kind:    obj.SymAbsolute,
		}
		if err := pool.Insert(e.Name, sym, origin, ordinal, false); err != nil {
			return err
		}
	}
	return nil
}
