package script

// Expression grammar, weakest to strongest binding, matching GNU ld's
// C-like precedence: ?: (unsupported, rare in practice) then || then
// && then | then ^ then & then ==/!= then relational then shift then
// +/- then */ /%.
var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, ">": 7, "<=": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

func (p *parser) expr() (Expr, error) {
	return p.binExpr(1)
}

func (p *parser) binExpr(minPrec int) (Expr, error) {
	lhs, err := p.unaryExpr()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokPunct {
		prec, ok := precedence[p.tok.text]
		if !ok || prec < minPrec {
			break
		}
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.binExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		lhs = BinaryExpr{Op: op, X: lhs, Y: rhs}
	}
	return lhs, nil
}

func (p *parser) unaryExpr() (Expr, error) {
	if p.tok.kind == tokPunct && (p.tok.text == "-" || p.tok.text == "~" || p.tok.text == "!") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.unaryExpr()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: op, X: x}, nil
	}
	return p.primaryExpr()
}

func (p *parser) primaryExpr() (Expr, error) {
	if p.tok.kind == tokPunct && p.tok.text == "(" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		return e, p.expectPunct(")")
	}

	if p.tok.kind != tokWord {
		return nil, p.errorf("expected expression, got %q", p.tok.text)
	}

	if p.tok.text == "." {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return DotExpr{}, nil
	}

	if v, ok := parseNumber(p.tok.text); ok {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return NumberExpr{Value: v}, nil
	}

	name := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.tok.kind == tokPunct && p.tok.text == "(" {
		switch name {
		case "ALIGN", "MAX", "MIN":
			if err := p.advance(); err != nil {
				return nil, err
			}
			var args []Expr
			for {
				a, err := p.expr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.tok.kind == tokPunct && p.tok.text == "," {
					if err := p.advance(); err != nil {
						return nil, err
					}
					continue
				}
				break
			}
			return CallExpr{Func: name, Args: args}, p.expectPunct(")")
		case "ABSOLUTE":
			if err := p.advance(); err != nil {
				return nil, err
			}
			a, err := p.expr()
			if err != nil {
				return nil, err
			}
			return CallExpr{Func: name, Args: []Expr{a}}, p.expectPunct(")")
		case "ADDR", "LOADADDR", "SIZEOF", "DEFINED":
			if err := p.advance(); err != nil {
				return nil, err
			}
			arg, err := p.word()
			if err != nil {
				return nil, err
			}
			return CallExpr{Func: name, Name: arg}, p.expectPunct(")")
		default:
			return nil, p.errorf("unknown function %q", name)
		}
	}

	if name == "SIZEOF_HEADERS" {
		return CallExpr{Func: name}, nil
	}

	return SymbolExpr{Name: name}, nil
}
