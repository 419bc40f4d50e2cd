package expr

import "fmt"

// Error reports a malformed expression or an evaluation failure such as an
// unbound name. Callers must not treat it as "predicate false": a broken
// predicate fails the invocation instead of silently changing cache behavior.
type Error struct {
	Expr string // source text, may be empty for binding errors
	Pos  int    // byte offset into Expr, -1 when unknown
	Msg  string
}

func (e *Error) Error() string {
	if e.Expr == "" {
		return "expr: " + e.Msg
	}
	if e.Pos < 0 {
		return fmt.Sprintf("expr: %s in %q", e.Msg, e.Expr)
	}
	return fmt.Sprintf("expr: %s at offset %d in %q", e.Msg, e.Pos, e.Expr)
}

func errAt(src string, pos int, format string, args ...any) *Error {
	return &Error{Expr: src, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
