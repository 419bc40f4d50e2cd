package memolock

import (
	"fmt"
	"strings"
	"sync"

	"github.com/unkn0wn-root/memolock/expr"
)

// KeyGenerator derives a cache key from the call identity instead of an
// expression: the wrapped operation's receiver, its method name, and the
// arguments in binding order. The returned value is stringified canonically
// (nil becomes "null").
type KeyGenerator func(target any, method string, args []any) (any, error)

// KeyGeneratorRegistry resolves Spec.KeyGenerator names. Safe for concurrent
// use; registration may happen after New but must precede the first Do of
// any spec that names the generator.
type KeyGeneratorRegistry struct {
	mu   sync.RWMutex
	gens map[string]KeyGenerator
}

func NewKeyGeneratorRegistry() *KeyGeneratorRegistry {
	return &KeyGeneratorRegistry{gens: make(map[string]KeyGenerator)}
}

func (r *KeyGeneratorRegistry) Register(name string, g KeyGenerator) {
	r.mu.Lock()
	r.gens[name] = g
	r.mu.Unlock()
}

func (r *KeyGeneratorRegistry) lookup(name string) (KeyGenerator, bool) {
	r.mu.RLock()
	g, ok := r.gens[name]
	r.mu.RUnlock()
	return g, ok
}

// MethodKeyGenerator derives keys of the form
// "Type.method(arg1,arg2,...)" from the call identity - a ready-made
// generator for operations whose arguments stringify cheaply.
func MethodKeyGenerator(target any, method string, args []any) (any, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = keyString(a)
	}
	prefix := typeName(target)
	if prefix != "" {
		prefix += "."
	}
	return prefix + method + "(" + strings.Join(parts, ",") + ")", nil
}

// typeName renders target's bare type name ("*pkg.BookService" -> "BookService").
func typeName(target any) string {
	if target == nil {
		return ""
	}
	name := fmt.Sprintf("%T", target)
	name = strings.TrimLeft(name, "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// keyString renders a generator result or argument in the same canonical
// form the expression path uses.
func keyString(v any) string {
	if v == nil {
		return "null"
	}
	if ev, err := expr.Of(v); err == nil {
		return ev.String()
	}
	return fmt.Sprint(v)
}
