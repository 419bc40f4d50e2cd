package expr

// node is one AST node. Exactly one of the branches is populated, selected
// by op.
type node struct {
	op   nodeOp
	pos  int
	lit  Value   // opLit
	name string  // opIdent, opProp, opCall (method or function name)
	recv *node   // opProp, opCall with receiver; nil for free functions
	args []*node // opCall
	lhs  *node   // binary / unary operand
	rhs  *node   // binary
	bin  string  // binary operator spelling
}

type nodeOp uint8

const (
	opLit nodeOp = iota
	opIdent
	opProp
	opCall
	opUnary // bin holds "!" or "-"
	opBinary
)

// Program is a parsed expression, reusable across evaluations and safe for
// concurrent use.
type Program struct {
	src  string
	root *node
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.src }

// Compile parses src. Compile once per operation and reuse the Program;
// parsing per invocation is wasted work on the hot path.
func Compile(src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		t := p.peek()
		return nil, errAt(src, t.pos, "unexpected %q", t.text)
	}
	return &Program{src: src, root: root}, nil
}

type parser struct {
	src  string
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }
func (p *parser) next() token { t := p.toks[p.i]; p.i++; return t }

func (p *parser) acceptOp(op string) bool {
	if t := p.peek(); t.kind == tokOp && t.text == op {
		p.i++
		return true
	}
	return false
}

func (p *parser) expectOp(op string) error {
	t := p.peek()
	if t.kind != tokOp || t.text != op {
		got := t.text
		if t.kind == tokEOF {
			got = "end of expression"
		}
		return errAt(p.src, t.pos, "expected %q, found %s", op, got)
	}
	p.i++
	return nil
}

// binding powers, loosest first
func precedence(op string) int {
	switch op {
	case "||":
		return 1
	case "&&":
		return 2
	case "==", "!=":
		return 3
	case "<", "<=", ">", ">=":
		return 4
	case "+", "-":
		return 5
	case "*", "/", "%":
		return 6
	}
	return 0
}

func (p *parser) parseExpr(minPrec int) (*node, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp {
			break
		}
		prec := precedence(t.text)
		if prec == 0 || prec < minPrec {
			break
		}
		op := p.next()
		rhs, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		lhs = &node{op: opBinary, pos: op.pos, bin: op.text, lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseUnary() (*node, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "!" || t.text == "-") {
		p.i++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &node{op: opUnary, pos: t.pos, bin: t.text, lhs: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles primary expressions followed by any chain of
// property accesses and method calls: a.b.c, s.length(), book.isExpensive().
func (p *parser) parsePostfix() (*node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.acceptOp(".") {
		t := p.next()
		if t.kind != tokIdent {
			return nil, errAt(p.src, t.pos, "expected name after '.'")
		}
		if p.acceptOp("(") {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			n = &node{op: opCall, pos: t.pos, name: t.text, recv: n, args: args}
		} else {
			n = &node{op: opProp, pos: t.pos, name: t.text, recv: n}
		}
	}
	return n, nil
}

func (p *parser) parsePrimary() (*node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := parseNumber(t.text)
		if err != nil {
			return nil, errAt(p.src, t.pos, "bad number %q", t.text)
		}
		return &node{op: opLit, pos: t.pos, lit: v}, nil
	case tokString:
		return &node{op: opLit, pos: t.pos, lit: Str(t.text)}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &node{op: opLit, pos: t.pos, lit: Bool(true)}, nil
		case "false":
			return &node{op: opLit, pos: t.pos, lit: Bool(false)}, nil
		case "null":
			return &node{op: opLit, pos: t.pos, lit: Null()}, nil
		}
		if p.acceptOp("(") {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return &node{op: opCall, pos: t.pos, name: t.text, args: args}, nil
		}
		return &node{op: opIdent, pos: t.pos, name: t.text}, nil
	case tokOp:
		if t.text == "(" {
			n, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return n, nil
		}
	case tokEOF:
		return nil, errAt(p.src, t.pos, "unexpected end of expression")
	}
	return nil, errAt(p.src, t.pos, "unexpected %q", t.text)
}

// parseArgs parses a call argument list; the opening '(' is already consumed.
func (p *parser) parseArgs() ([]*node, error) {
	var args []*node
	if p.acceptOp(")") {
		return args, nil
	}
	for {
		a, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.acceptOp(",") {
			continue
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return args, nil
	}
}
