package script

import (
	"fmt"
)

// Parse parses a GNU-ld-dialect linker script, returning its AST.
func Parse(src string) (*Script, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	s := &Script{}
	for p.tok.kind != tokEOF {
		if err := p.topLevel(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("script:%d: %s", p.tok.line, fmt.Sprintf(format, args...))
}

func (p *parser) expectPunct(text string) error {
	if p.tok.kind != tokPunct || p.tok.text != text {
		return p.errorf("expected %q, got %q", text, p.tok.text)
	}
	return p.advance()
}

func (p *parser) isWord(text string) bool {
	return p.tok.kind == tokWord && p.tok.text == text
}

// word returns the current word token's text and advances, or errors
// if the current token isn't a word.
func (p *parser) word() (string, error) {
	if p.tok.kind != tokWord {
		return "", p.errorf("expected identifier, got %q", p.tok.text)
	}
	s := p.tok.text
	return s, p.advance()
}

func (p *parser) topLevel(s *Script) error {
	switch {
	case p.isWord("ENTRY"):
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct("("); err != nil {
			return err
		}
		name, err := p.word()
		if err != nil {
			return err
		}
		s.Entry = name
		return p.expectPunct(")")

	case p.isWord("OUTPUT_FORMAT"):
		return p.parseOutputFormat(s)

	case p.isWord("OUTPUT_ARCH"):
		if err := p.advance(); err != nil {
			return err
		}
		return p.skipParenList()

	case p.isWord("SEARCH_DIR"):
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct("("); err != nil {
			return err
		}
		dir, err := p.stringOrWord()
		if err != nil {
			return err
		}
		s.SearchDirs = append(s.SearchDirs, dir)
		return p.expectPunct(")")

	case p.isWord("INPUT"):
		if err := p.advance(); err != nil {
			return err
		}
		files, err := p.parseFileList()
		if err != nil {
			return err
		}
		s.Inputs = append(s.Inputs, files)
		return nil

	case p.isWord("GROUP"):
		if err := p.advance(); err != nil {
			return err
		}
		files, err := p.parseFileList()
		if err != nil {
			return err
		}
		s.Groups = append(s.Groups, files)
		return nil

	case p.isWord("EXTERN"):
		if err := p.advance(); err != nil {
			return err
		}
		files, err := p.parseFileList()
		if err != nil {
			return err
		}
		s.Externs = append(s.Externs, files...)
		return nil

	case p.isWord("ASSERT"):
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct("("); err != nil {
			return err
		}
		expr, err := p.expr()
		if err != nil {
			return err
		}
		msg := ""
		if p.tok.kind == tokPunct && p.tok.text == "," {
			if err := p.advance(); err != nil {
				return err
			}
			msg, err = p.stringOrWord()
			if err != nil {
				return err
			}
		}
		if err := p.expectPunct(")"); err != nil {
			return err
		}
		s.Asserts = append(s.Asserts, Assert{Expr: expr, Message: msg})
		return p.skipSemi()

	case p.isWord("MEMORY"):
		return p.parseMemory(s)

	case p.isWord("PHDRS"):
		return p.parsePhdrs(s)

	case p.isWord("SECTIONS"):
		return p.parseSections(s)

	case p.isWord("INCLUDE"):
		// File inclusion needs the search-dir resolver and a
		// filesystem, which Parse does not have: the file name is
		// parsed and dropped, and the included file is not read.
		if err := p.advance(); err != nil {
			return err
		}
		_, err := p.stringOrWord()
		return err

	case p.tok.kind == tokWord:
		// A bare top-level assignment: "name = expr ;".
		_, err := p.parseAssignment()
		return err

	default:
		return p.errorf("unexpected token %q at top level", p.tok.text)
	}
}

func (p *parser) stringOrWord() (string, error) {
	if p.tok.kind == tokString {
		s := p.tok.text
		return s, p.advance()
	}
	return p.word()
}

func (p *parser) skipSemi() error {
	if p.tok.kind == tokPunct && p.tok.text == ";" {
		return p.advance()
	}
	return nil
}

func (p *parser) skipParenList() error {
	if err := p.expectPunct("("); err != nil {
		return err
	}
	depth := 1
	for depth > 0 {
		if p.tok.kind == tokEOF {
			return p.errorf("unexpected EOF")
		}
		if p.tok.kind == tokPunct && p.tok.text == "(" {
			depth++
		}
		if p.tok.kind == tokPunct && p.tok.text == ")" {
			depth--
		}
		if err := p.advance(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseOutputFormat(s *Script) error {
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expectPunct("("); err != nil {
		return err
	}
	name, err := p.stringOrWord()
	if err != nil {
		return err
	}
	s.OutputFormat = name
	// OUTPUT_FORMAT may list up to three formats (default, big, little);
	// only the first is kept.
	for p.tok.kind == tokPunct && p.tok.text == "," {
		if err := p.advance(); err != nil {
			return err
		}
		if _, err := p.stringOrWord(); err != nil {
			return err
		}
	}
	return p.expectPunct(")")
}

// parseFileList parses "( name, name name ... )" for INPUT/GROUP/
// EXTERN, whose file lists may be comma- or space-separated.
func (p *parser) parseFileList() ([]string, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var files []string
	for !(p.tok.kind == tokPunct && p.tok.text == ")") {
		name, err := p.stringOrWord()
		if err != nil {
			return nil, err
		}
		files = append(files, name)
		if p.tok.kind == tokPunct && p.tok.text == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	return files, p.advance()
}

func (p *parser) parseMemory(s *Script) error {
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expectPunct("{"); err != nil {
		return err
	}
	for !(p.tok.kind == tokPunct && p.tok.text == "}") {
		name, err := p.word()
		if err != nil {
			return err
		}
		attrs := ""
		if p.tok.kind == tokPunct && p.tok.text == "(" {
			if err := p.advance(); err != nil {
				return err
			}
			attrs, err = p.word()
			if err != nil {
				return err
			}
			if err := p.expectPunct(")"); err != nil {
				return err
			}
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		region := MemoryRegion{Name: name, Attrs: attrs}
		for {
			kw, err := p.word()
			if err != nil {
				return err
			}
			if err := p.expectPunct("="); err != nil {
				return err
			}
			val, err := p.expr()
			if err != nil {
				return err
			}
			switch kw {
			case "ORIGIN", "org", "o":
				region.Origin = val
			case "LENGTH", "len", "l":
				region.Length = val
			default:
				return p.errorf("unknown MEMORY attribute %q", kw)
			}
			if p.tok.kind == tokPunct && p.tok.text == "," {
				if err := p.advance(); err != nil {
					return err
				}
				continue
			}
			break
		}
		s.Memory = append(s.Memory, region)
	}
	return p.advance()
}

func (p *parser) parsePhdrs(s *Script) error {
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expectPunct("{"); err != nil {
		return err
	}
	for !(p.tok.kind == tokPunct && p.tok.text == "}") {
		name, err := p.word()
		if err != nil {
			return err
		}
		typ, err := p.word()
		if err != nil {
			return err
		}
		ph := Phdr{Name: name, Type: typ}
		for {
			switch {
			case p.isWord("FILEHDR"):
				ph.FileHdr = true
				if err := p.advance(); err != nil {
					return err
				}
			case p.isWord("PHDRS"):
				ph.PhdrHdr = true
				if err := p.advance(); err != nil {
					return err
				}
			case p.isWord("AT"):
				if err := p.advance(); err != nil {
					return err
				}
				if err := p.expectPunct("("); err != nil {
					return err
				}
				ph.At, err = p.expr()
				if err != nil {
					return err
				}
				if err := p.expectPunct(")"); err != nil {
					return err
				}
			case p.isWord("FLAGS"):
				if err := p.advance(); err != nil {
					return err
				}
				if err := p.expectPunct("("); err != nil {
					return err
				}
				ph.Flags, err = p.expr()
				if err != nil {
					return err
				}
				if err := p.expectPunct(")"); err != nil {
					return err
				}
			default:
				goto done
			}
		}
	done:
		if err := p.skipSemi(); err != nil {
			return err
		}
		s.Phdrs = append(s.Phdrs, ph)
	}
	return p.advance()
}

func (p *parser) parseSections(s *Script) error {
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expectPunct("{"); err != nil {
		return err
	}
	cmd := &SectionsCommand{}
	for !(p.tok.kind == tokPunct && p.tok.text == "}") {
		entry, err := p.sectionsEntry()
		if err != nil {
			return err
		}
		cmd.Entries = append(cmd.Entries, entry)
	}
	s.Sections = cmd
	return p.advance()
}

func (p *parser) sectionsEntry() (SectionsEntry, error) {
	if p.isWord("PROVIDE") || p.isWord("PROVIDE_HIDDEN") {
		hidden := p.tok.text == "PROVIDE_HIDDEN"
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		a, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		a.Provide = true
		a.Hidden = hidden
		return a, p.skipSemi()
	}

	// A bare assignment ("." is a valid assignment target, e.g. ". =
	// ALIGN(8);") versus an output-section descriptor are
	// distinguished by whether the token after the name is an
	// assignment operator or ":".
	if p.tok.kind != tokWord {
		return nil, p.errorf("unexpected token %q in SECTIONS", p.tok.text)
	}
	save := *p.lex
	saveTok := p.tok
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokPunct && isAssignOp(p.tok.text) {
		*p.lex = save
		p.tok = saveTok
		return p.parseAssignment()
	}
	*p.lex = save
	p.tok = saveTok
	return p.parseOutputSection()
}

func isAssignOp(op string) bool {
	switch op {
	case "=", "+=", "-=", "*=", "/=":
		return true
	}
	return false
}

func (p *parser) parseAssignment() (*Assignment, error) {
	name, err := p.word()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokPunct || !isAssignOp(p.tok.text) {
		return nil, p.errorf("expected assignment operator, got %q", p.tok.text)
	}
	op := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.skipSemi(); err != nil {
		return nil, err
	}
	return &Assignment{Name: name, Op: op, Expr: e}, nil
}

func (p *parser) parseOutputSection() (*OutputSection, error) {
	name, err := p.word()
	if err != nil {
		return nil, err
	}
	out := &OutputSection{Name: name}

	if p.isWord("ALIGN") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		out.Align, err = p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	} else if !(p.tok.kind == tokPunct && p.tok.text == ":") {
		out.Address, err = p.expr()
		if err != nil {
			return nil, err
		}
	}

	if p.isWord("NOLOAD") {
		out.Type = "NOLOAD"
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}

	if p.isWord("AT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		out.AtExpr, err = p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}

	if p.isWord("ONLY_IF_RO") {
		out.OnlyIfRO = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else if p.isWord("ONLY_IF_RW") {
		out.OnlyIfRW = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for !(p.tok.kind == tokPunct && p.tok.text == "}") {
		if p.tok.kind == tokWord && isAssignStart(p) {
			a, err := p.parseAssignment()
			if err != nil {
				return nil, err
			}
			_ = a // output-section-internal assignments are parsed and dropped; the OutputSection does not record them
			continue
		}
		rule, err := p.parseSectionRule()
		if err != nil {
			return nil, err
		}
		out.Entries = append(out.Entries, rule)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.tok.kind == tokPunct && p.tok.text == ">" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		out.Region, err = p.word()
		if err != nil {
			return nil, err
		}
	}
	if p.isWord("AT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct(">"); err != nil {
			return nil, err
		}
		out.LMARegion, err = p.word()
		if err != nil {
			return nil, err
		}
	}
	if p.tok.kind == tokPunct && p.tok.text == "=" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		out.Fill, err = p.expr()
		if err != nil {
			return nil, err
		}
	}
	return out, p.skipSemi()
}

// isAssignStart peeks whether the upcoming tokens form "word <assign-op>"
// without consuming them permanently.
func isAssignStart(p *parser) bool {
	save := *p.lex
	saveTok := p.tok
	defer func() { *p.lex = save; p.tok = saveTok }()
	if err := p.advance(); err != nil {
		return false
	}
	return p.tok.kind == tokPunct && isAssignOp(p.tok.text)
}

func (p *parser) parseSectionRule() (SectionRule, error) {
	var rule SectionRule
	if p.isWord("KEEP") {
		rule.Keep = true
		if err := p.advance(); err != nil {
			return rule, err
		}
		if err := p.expectPunct("("); err != nil {
			return rule, err
		}
		inner, err := p.parseFileSectionSpec()
		if err != nil {
			return rule, err
		}
		rule = inner
		rule.Keep = true
		return rule, p.expectPunct(")")
	}
	return p.parseFileSectionSpec()
}

func (p *parser) parseFileSectionSpec() (SectionRule, error) {
	var rule SectionRule
	if p.isWord("EXCLUDE_FILE") {
		if err := p.advance(); err != nil {
			return rule, err
		}
		if err := p.expectPunct("("); err != nil {
			return rule, err
		}
		for !(p.tok.kind == tokPunct && p.tok.text == ")") {
			name, err := p.word()
			if err != nil {
				return rule, err
			}
			rule.ExcludeFiles = append(rule.ExcludeFiles, name)
		}
		if err := p.advance(); err != nil {
			return rule, err
		}
	}
	name, err := p.word()
	if err != nil {
		return rule, err
	}
	rule.FileWildcard = name
	if p.tok.kind == tokPunct && p.tok.text == "(" {
		if err := p.advance(); err != nil {
			return rule, err
		}
		for !(p.tok.kind == tokPunct && p.tok.text == ")") {
			sort, name, err := p.parseSortableSectionName()
			if err != nil {
				return rule, err
			}
			rule.Sort = sort
			rule.Sections = append(rule.Sections, name)
		}
		if err := p.advance(); err != nil {
			return rule, err
		}
	}
	return rule, nil
}

func (p *parser) parseSortableSectionName() (SectionSort, string, error) {
	switch {
	case p.isWord("SORT_BY_NAME") || p.isWord("SORT"):
		if err := p.advance(); err != nil {
			return 0, "", err
		}
		if err := p.expectPunct("("); err != nil {
			return 0, "", err
		}
		name, err := p.word()
		if err != nil {
			return 0, "", err
		}
		return SortByName, name, p.expectPunct(")")
	case p.isWord("SORT_BY_ALIGNMENT"):
		if err := p.advance(); err != nil {
			return 0, "", err
		}
		if err := p.expectPunct("("); err != nil {
			return 0, "", err
		}
		name, err := p.word()
		if err != nil {
			return 0, "", err
		}
		return SortByAlignment, name, p.expectPunct(")")
	case p.isWord("SORT_NONE"):
		if err := p.advance(); err != nil {
			return 0, "", err
		}
		if err := p.expectPunct("("); err != nil {
			return 0, "", err
		}
		name, err := p.word()
		if err != nil {
			return 0, "", err
		}
		return SortNone, name, p.expectPunct(")")
	default:
		name, err := p.word()
		return SortNone, name, err
	}
}
