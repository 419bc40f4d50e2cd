package memolock

// Call is the binding context for one invocation: the named parameters of
// the wrapped operation, plus an optional target/method identity consumed by
// key generators. Build it, hand it to Do, and treat it as read-only from
// then on; it is discarded when the invocation completes.
type Call struct {
	target any
	method string
	names  []string
	vals   []any
}

// NewCall starts a binding context. method identifies the wrapped operation
// for key generators (e.g. "getBookByIsbn"); it plays no part in expression
// evaluation.
func NewCall(method string) *Call {
	return &Call{method: method}
}

// WithTarget records the receiver of the wrapped operation for key
// generators. Optional.
func (c *Call) WithTarget(target any) *Call {
	c.target = target
	return c
}

// Bind adds one named parameter. Binding order is preserved for key
// generators; expressions see parameters by name.
func (c *Call) Bind(name string, v any) *Call {
	c.names = append(c.names, name)
	c.vals = append(c.vals, v)
	return c
}

// Args returns the bound parameter values in binding order.
func (c *Call) Args() []any {
	out := make([]any, len(c.vals))
	copy(out, c.vals)
	return out
}

func (c *Call) Target() any    { return c.target }
func (c *Call) Method() string { return c.method }
