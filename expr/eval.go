// Package expr evaluates the small predicate and key expressions used by
// memolock specs: parameter references, property access, method-style
// predicates, comparison/boolean/arithmetic operators, string concatenation,
// and numeric/string/bool/null literals.
//
// Values are a tagged variant (see Value); numbers are arbitrary-precision
// decimals. Evaluation is side-effect free and never mutates bound values.
// Application object types participate through the Obj interface plus a
// Registry of named predicate methods; there is no reflection.
package expr

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Eval compiles and evaluates src against env. Prefer Compile + Program.Eval
// when the same expression runs repeatedly.
func Eval(src string, env *Env) (Value, error) {
	p, err := Compile(src)
	if err != nil {
		return Null(), err
	}
	return p.Eval(env)
}

// EvalBool is Eval restricted to boolean results; a non-boolean result is an
// *Error, never coerced.
func EvalBool(src string, env *Env) (bool, error) {
	p, err := Compile(src)
	if err != nil {
		return false, err
	}
	return p.EvalBool(env)
}

func (p *Program) Eval(env *Env) (Value, error) {
	if env == nil {
		env = NewEnv(nil)
	}
	return p.eval(p.root, env)
}

func (p *Program) EvalBool(env *Env) (bool, error) {
	v, err := p.Eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.Truth()
	if !ok {
		return false, errAt(p.src, -1, "expression yielded %s, want bool", v.Kind())
	}
	return b, nil
}

func (p *Program) eval(n *node, env *Env) (Value, error) {
	switch n.op {
	case opLit:
		return n.lit, nil
	case opIdent:
		v, ok := env.lookup(n.name)
		if !ok {
			return Null(), errAt(p.src, n.pos, "unbound name %q", n.name)
		}
		return v, nil
	case opProp:
		return p.evalProp(n, env)
	case opCall:
		return p.evalCall(n, env)
	case opUnary:
		return p.evalUnary(n, env)
	case opBinary:
		return p.evalBinary(n, env)
	}
	return Null(), errAt(p.src, n.pos, "internal: bad node")
}

func (p *Program) evalProp(n *node, env *Env) (Value, error) {
	recv, err := p.eval(n.recv, env)
	if err != nil {
		return Null(), err
	}
	switch recv.Kind() {
	case KindNull:
		return Null(), errAt(p.src, n.pos, "property %q of null", n.name)
	case KindMap:
		if v, ok := recv.dict[n.name]; ok {
			return v, nil
		}
		return Null(), errAt(p.src, n.pos, "no entry %q in map", n.name)
	case KindObject:
		if v, ok := recv.obj.Field(n.name); ok {
			return v, nil
		}
		return Null(), errAt(p.src, n.pos, "%s has no field %q", recv.obj.TypeName(), n.name)
	}
	return Null(), errAt(p.src, n.pos, "cannot access %q on %s", n.name, recv.Kind())
}

func (p *Program) evalCall(n *node, env *Env) (Value, error) {
	args := make([]Value, len(n.args))
	for i, a := range n.args {
		v, err := p.eval(a, env)
		if err != nil {
			return Null(), err
		}
		args[i] = v
	}

	if n.recv == nil {
		fn, ok := env.reg.fn(n.name)
		if !ok {
			return Null(), errAt(p.src, n.pos, "unknown function %q", n.name)
		}
		v, err := fn(args)
		if err != nil {
			return Null(), errAt(p.src, n.pos, "%s: %v", n.name, err)
		}
		return v, nil
	}

	recv, err := p.eval(n.recv, env)
	if err != nil {
		return Null(), err
	}
	switch recv.Kind() {
	case KindNull:
		return Null(), errAt(p.src, n.pos, "method %q of null", n.name)
	case KindString:
		return p.stringMethod(n, recv.str, args)
	case KindList:
		return p.listMethod(n, recv.list, args)
	case KindMap:
		return p.mapMethod(n, recv.dict, args)
	case KindObject:
		m, ok := env.reg.method(recv.obj.TypeName(), n.name)
		if !ok {
			return Null(), errAt(p.src, n.pos, "%s has no method %q", recv.obj.TypeName(), n.name)
		}
		v, err := m(recv.obj, args)
		if err != nil {
			return Null(), errAt(p.src, n.pos, "%s.%s: %v", recv.obj.TypeName(), n.name, err)
		}
		return v, nil
	}
	return Null(), errAt(p.src, n.pos, "cannot call %q on %s", n.name, recv.Kind())
}

func (p *Program) stringMethod(n *node, s string, args []Value) (Value, error) {
	arg := func() (string, error) {
		if len(args) != 1 {
			return "", errAt(p.src, n.pos, "%s wants one string argument", n.name)
		}
		t, ok := args[0].Text()
		if !ok {
			return "", errAt(p.src, n.pos, "%s wants a string argument, got %s", n.name, args[0].Kind())
		}
		return t, nil
	}
	switch n.name {
	case "length", "size":
		if len(args) != 0 {
			return Null(), errAt(p.src, n.pos, "%s takes no arguments", n.name)
		}
		return Int(int64(len(s))), nil
	case "isEmpty":
		if len(args) != 0 {
			return Null(), errAt(p.src, n.pos, "isEmpty takes no arguments")
		}
		return Bool(len(s) == 0), nil
	case "startsWith":
		t, err := arg()
		if err != nil {
			return Null(), err
		}
		return Bool(strings.HasPrefix(s, t)), nil
	case "endsWith":
		t, err := arg()
		if err != nil {
			return Null(), err
		}
		return Bool(strings.HasSuffix(s, t)), nil
	case "contains":
		t, err := arg()
		if err != nil {
			return Null(), err
		}
		return Bool(strings.Contains(s, t)), nil
	}
	return Null(), errAt(p.src, n.pos, "string has no method %q", n.name)
}

func (p *Program) listMethod(n *node, l []Value, args []Value) (Value, error) {
	switch n.name {
	case "size", "length":
		if len(args) != 0 {
			return Null(), errAt(p.src, n.pos, "%s takes no arguments", n.name)
		}
		return Int(int64(len(l))), nil
	case "isEmpty":
		if len(args) != 0 {
			return Null(), errAt(p.src, n.pos, "isEmpty takes no arguments")
		}
		return Bool(len(l) == 0), nil
	case "contains":
		if len(args) != 1 {
			return Null(), errAt(p.src, n.pos, "contains wants one argument")
		}
		for _, e := range l {
			if e.Equal(args[0]) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	}
	return Null(), errAt(p.src, n.pos, "list has no method %q", n.name)
}

func (p *Program) mapMethod(n *node, m map[string]Value, args []Value) (Value, error) {
	switch n.name {
	case "size":
		if len(args) != 0 {
			return Null(), errAt(p.src, n.pos, "size takes no arguments")
		}
		return Int(int64(len(m))), nil
	case "isEmpty":
		if len(args) != 0 {
			return Null(), errAt(p.src, n.pos, "isEmpty takes no arguments")
		}
		return Bool(len(m) == 0), nil
	case "containsKey":
		if len(args) != 1 {
			return Null(), errAt(p.src, n.pos, "containsKey wants one argument")
		}
		k, ok := args[0].Text()
		if !ok {
			return Null(), errAt(p.src, n.pos, "containsKey wants a string key")
		}
		_, found := m[k]
		return Bool(found), nil
	}
	return Null(), errAt(p.src, n.pos, "map has no method %q", n.name)
}

func (p *Program) evalUnary(n *node, env *Env) (Value, error) {
	v, err := p.eval(n.lhs, env)
	if err != nil {
		return Null(), err
	}
	switch n.bin {
	case "!":
		b, ok := v.Truth()
		if !ok {
			return Null(), errAt(p.src, n.pos, "operand of ! is %s, want bool", v.Kind())
		}
		return Bool(!b), nil
	case "-":
		d, ok := v.Decimal()
		if !ok {
			return Null(), errAt(p.src, n.pos, "operand of - is %s, want number", v.Kind())
		}
		return Num(d.Neg()), nil
	}
	return Null(), errAt(p.src, n.pos, "internal: bad unary %q", n.bin)
}

func (p *Program) evalBinary(n *node, env *Env) (Value, error) {
	// && and || short-circuit; everything else is strict.
	if n.bin == "&&" || n.bin == "||" {
		lb, err := p.evalBoolOperand(n.lhs, env, n.bin)
		if err != nil {
			return Null(), err
		}
		if n.bin == "&&" && !lb {
			return Bool(false), nil
		}
		if n.bin == "||" && lb {
			return Bool(true), nil
		}
		rb, err := p.evalBoolOperand(n.rhs, env, n.bin)
		if err != nil {
			return Null(), err
		}
		return Bool(rb), nil
	}

	l, err := p.eval(n.lhs, env)
	if err != nil {
		return Null(), err
	}
	r, err := p.eval(n.rhs, env)
	if err != nil {
		return Null(), err
	}

	switch n.bin {
	case "==":
		return Bool(l.Equal(r)), nil
	case "!=":
		return Bool(!l.Equal(r)), nil
	case "<", "<=", ">", ">=":
		return p.compare(n, l, r)
	case "+":
		// + concatenates when either side is a string, adds when both are
		// numbers; anything else is a type error.
		if l.Kind() == KindString || r.Kind() == KindString {
			return Str(l.String() + r.String()), nil
		}
		return p.arith(n, l, r, func(a, b decimal.Decimal) (decimal.Decimal, error) {
			return a.Add(b), nil
		})
	case "-":
		return p.arith(n, l, r, func(a, b decimal.Decimal) (decimal.Decimal, error) {
			return a.Sub(b), nil
		})
	case "*":
		return p.arith(n, l, r, func(a, b decimal.Decimal) (decimal.Decimal, error) {
			return a.Mul(b), nil
		})
	case "/":
		return p.arith(n, l, r, func(a, b decimal.Decimal) (decimal.Decimal, error) {
			if b.IsZero() {
				return decimal.Zero, errAt(p.src, n.pos, "division by zero")
			}
			return a.Div(b), nil
		})
	case "%":
		return p.arith(n, l, r, func(a, b decimal.Decimal) (decimal.Decimal, error) {
			if b.IsZero() {
				return decimal.Zero, errAt(p.src, n.pos, "division by zero")
			}
			return a.Mod(b), nil
		})
	}
	return Null(), errAt(p.src, n.pos, "internal: bad operator %q", n.bin)
}

func (p *Program) evalBoolOperand(n *node, env *Env, op string) (bool, error) {
	v, err := p.eval(n, env)
	if err != nil {
		return false, err
	}
	b, ok := v.Truth()
	if !ok {
		return false, errAt(p.src, n.pos, "operand of %s is %s, want bool", op, v.Kind())
	}
	return b, nil
}

func (p *Program) compare(n *node, l, r Value) (Value, error) {
	if ld, ok := l.Decimal(); ok {
		rd, ok := r.Decimal()
		if !ok {
			return Null(), errAt(p.src, n.pos, "cannot compare number with %s", r.Kind())
		}
		return Bool(cmpHolds(n.bin, ld.Cmp(rd))), nil
	}
	if ls, ok := l.Text(); ok {
		rs, ok := r.Text()
		if !ok {
			return Null(), errAt(p.src, n.pos, "cannot compare string with %s", r.Kind())
		}
		c := 0
		switch {
		case ls < rs:
			c = -1
		case ls > rs:
			c = 1
		}
		return Bool(cmpHolds(n.bin, c)), nil
	}
	return Null(), errAt(p.src, n.pos, "cannot order %s values", l.Kind())
}

func cmpHolds(op string, c int) bool {
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func (p *Program) arith(n *node, l, r Value, f func(a, b decimal.Decimal) (decimal.Decimal, error)) (Value, error) {
	ld, ok := l.Decimal()
	if !ok {
		return Null(), errAt(p.src, n.pos, "operand of %s is %s, want number", n.bin, l.Kind())
	}
	rd, ok := r.Decimal()
	if !ok {
		return Null(), errAt(p.src, n.pos, "operand of %s is %s, want number", n.bin, r.Kind())
	}
	out, err := f(ld, rd)
	if err != nil {
		return Null(), err
	}
	return Num(out), nil
}

func parseNumber(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Null(), err
	}
	return Num(d), nil
}
