package script

import "fmt"

// Environment supplies the external facts an expression evaluation
// needs: the current location counter, output-section addresses and
// sizes, and whether a symbol is defined (§4.7 step 5).
type Environment interface {
	Dot() uint64
	SectionAddr(name string) (uint64, bool)
	SectionLoadAddr(name string) (uint64, bool)
	SectionSize(name string) (uint64, bool)
	SymbolValue(name string) (uint64, bool)
	SizeofHeaders() uint64
}

// Eval evaluates an expression against env, returning an error if it
// references an undefined symbol or section outside of a DEFINED(...)
// guard.
func Eval(e Expr, env Environment) (uint64, error) {
	switch x := e.(type) {
	case DotExpr:
		return env.Dot(), nil
	case NumberExpr:
		return x.Value, nil
	case SymbolExpr:
		v, ok := env.SymbolValue(x.Name)
		if !ok {
			return 0, fmt.Errorf("undefined symbol %q in script expression", x.Name)
		}
		return v, nil
	case UnaryExpr:
		v, err := Eval(x.X, env)
		if err != nil {
			return 0, err
		}
		switch x.Op {
		case "-":
			return -v, nil
		case "~":
			return ^v, nil
		case "!":
			if v == 0 {
				return 1, nil
			}
			return 0, nil
		}
		return 0, fmt.Errorf("unknown unary operator %q", x.Op)
	case BinaryExpr:
		return evalBinary(x, env)
	case CallExpr:
		return evalCall(x, env)
	default:
		return 0, fmt.Errorf("unknown expression node %T", e)
	}
}

func evalBinary(x BinaryExpr, env Environment) (uint64, error) {
	l, err := Eval(x.X, env)
	if err != nil {
		return 0, err
	}
	r, err := Eval(x.Y, env)
	if err != nil {
		return 0, err
	}
	switch x.Op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, fmt.Errorf("division by zero in script expression")
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return 0, fmt.Errorf("modulo by zero in script expression")
		}
		return l % r, nil
	case "&":
		return l & r, nil
	case "|":
		return l | r, nil
	case "^":
		return l ^ r, nil
	case "<<":
		return l << r, nil
	case ">>":
		return l >> r, nil
	case "==":
		return boolU64(l == r), nil
	case "!=":
		return boolU64(l != r), nil
	case "<":
		return boolU64(l < r), nil
	case ">":
		return boolU64(l > r), nil
	case "<=":
		return boolU64(l <= r), nil
	case ">=":
		return boolU64(l >= r), nil
	case "&&":
		return boolU64(l != 0 && r != 0), nil
	case "||":
		return boolU64(l != 0 || r != 0), nil
	}
	return 0, fmt.Errorf("unknown binary operator %q", x.Op)
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func evalCall(x CallExpr, env Environment) (uint64, error) {
	switch x.Func {
	case "ALIGN":
		v, err := Eval(x.Args[0], env)
		if err != nil {
			return 0, err
		}
		align := v
		base := env.Dot()
		if len(x.Args) == 2 {
			base, err = Eval(x.Args[0], env)
			if err != nil {
				return 0, err
			}
			align, err = Eval(x.Args[1], env)
			if err != nil {
				return 0, err
			}
		}
		if align == 0 {
			return base, nil
		}
		return (base + align - 1) &^ (align - 1), nil
	case "ABSOLUTE":
		return Eval(x.Args[0], env)
	case "MAX":
		a, err := Eval(x.Args[0], env)
		if err != nil {
			return 0, err
		}
		b, err := Eval(x.Args[1], env)
		if err != nil {
			return 0, err
		}
		if a > b {
			return a, nil
		}
		return b, nil
	case "MIN":
		a, err := Eval(x.Args[0], env)
		if err != nil {
			return 0, err
		}
		b, err := Eval(x.Args[1], env)
		if err != nil {
			return 0, err
		}
		if a < b {
			return a, nil
		}
		return b, nil
	case "ADDR":
		v, ok := env.SectionAddr(x.Name)
		if !ok {
			return 0, fmt.Errorf("ADDR of unknown section %q", x.Name)
		}
		return v, nil
	case "LOADADDR":
		v, ok := env.SectionLoadAddr(x.Name)
		if !ok {
			return 0, fmt.Errorf("LOADADDR of unknown section %q", x.Name)
		}
		return v, nil
	case "SIZEOF":
		v, ok := env.SectionSize(x.Name)
		if !ok {
			return 0, fmt.Errorf("SIZEOF of unknown section %q", x.Name)
		}
		return v, nil
	case "DEFINED":
		_, ok := env.SymbolValue(x.Name)
		return boolU64(ok), nil
	case "SIZEOF_HEADERS":
		return env.SizeofHeaders(), nil
	}
	return 0, fmt.Errorf("unknown script function %q", x.Func)
}
