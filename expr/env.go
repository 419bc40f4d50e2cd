package expr

import "sync"

// Func is a free function callable from an expression, e.g. paramLen(isbn).
type Func func(args []Value) (Value, error)

// Method is a predicate callable on an object value, e.g. book.isExpensive().
// recv is the receiver object.
type Method func(recv Obj, args []Value) (Value, error)

// Registry holds the functions and per-type object methods an evaluator may
// call. Methods on strings, lists, and maps are built into the evaluator;
// the registry only covers application object types. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	funcs   map[string]Func
	methods map[string]map[string]Method // type name -> method name
}

func NewRegistry() *Registry {
	return &Registry{
		funcs:   make(map[string]Func),
		methods: make(map[string]map[string]Method),
	}
}

func (r *Registry) RegisterFunc(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) RegisterMethod(typeName, name string, m Method) {
	r.mu.Lock()
	byName, ok := r.methods[typeName]
	if !ok {
		byName = make(map[string]Method)
		r.methods[typeName] = byName
	}
	byName[name] = m
	r.mu.Unlock()
}

func (r *Registry) fn(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

func (r *Registry) method(typeName, name string) (Method, bool) {
	r.mu.RLock()
	m, ok := r.methods[typeName][name]
	r.mu.RUnlock()
	return m, ok
}

// Env is the binding context for one evaluation: named values plus the
// registry of callable predicates. Bindings are write-once per name from the
// evaluator's point of view; evaluation never mutates them.
type Env struct {
	vars map[string]Value
	reg  *Registry
}

func NewEnv(reg *Registry) *Env {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Env{vars: make(map[string]Value), reg: reg}
}

// Bind associates name with v and returns the Env for chaining.
func (e *Env) Bind(name string, v Value) *Env {
	e.vars[name] = v
	return e
}

// With returns a copy of the Env extended with one extra binding. The
// receiver is left untouched, so a shared pre-execution Env can be reused
// across concurrent invocations.
func (e *Env) With(name string, v Value) *Env {
	child := &Env{vars: make(map[string]Value, len(e.vars)+1), reg: e.reg}
	for k, val := range e.vars {
		child.vars[k] = val
	}
	child.vars[name] = v
	return child
}

func (e *Env) lookup(name string) (Value, bool) {
	v, ok := e.vars[name]
	return v, ok
}
