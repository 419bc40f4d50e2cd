package expr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind discriminates the Value variant.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindObject:
		return "object"
	}
	return "invalid"
}

// Obj exposes an application type to the evaluator as a bag of named fields.
// Predicate methods on an Obj are dispatched through the Registry under its
// TypeName.
type Obj interface {
	TypeName() string
	Field(name string) (Value, bool)
}

// Value is the tagged variant the evaluator operates on. Numbers are
// arbitrary-precision decimals so that currency-like predicates compare
// exactly. The zero Value is the null value.
type Value struct {
	kind Kind
	b    bool
	num  decimal.Decimal
	str  string
	list []Value
	dict map[string]Value
	obj  Obj
}

func Null() Value            { return Value{} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Str(s string) Value     { return Value{kind: KindString, str: s} }
func Int(i int64) Value      { return Value{kind: KindNumber, num: decimal.NewFromInt(i)} }
func Float(f float64) Value  { return Value{kind: KindNumber, num: decimal.NewFromFloat(f)} }
func Object(o Obj) Value {
	if o == nil {
		return Null()
	}
	return Value{kind: KindObject, obj: o}
}

func Num(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }

func ListOf(vs ...Value) Value { return Value{kind: KindList, list: vs} }

func MapOf(m map[string]Value) Value { return Value{kind: KindMap, dict: m} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Truth returns the boolean payload; ok is false for non-bool values.
func (v Value) Truth() (val, ok bool) { return v.b, v.kind == KindBool }

// Decimal returns the numeric payload; ok is false for non-number values.
func (v Value) Decimal() (decimal.Decimal, bool) { return v.num, v.kind == KindNumber }

// Text returns the string payload; ok is false for non-string values.
func (v Value) Text() (string, bool) { return v.str, v.kind == KindString }

// String renders the canonical string form used for cache keys:
// "null" for null, decimal text for numbers, the raw string for strings,
// "[a, b]" for lists, "{k=v, ...}" (sorted) for maps. Objects render via
// fmt.Stringer when implemented, else their type name.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return v.num.String()
	case KindString:
		return v.str
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.dict))
		for k := range v.dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + v.dict[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindObject:
		if s, ok := v.obj.(fmt.Stringer); ok {
			return s.String()
		}
		return v.obj.TypeName()
	}
	return "invalid"
}

// Equal implements the == operator. Values of different kinds are unequal
// (null compares equal only to null). Objects compare by interface identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num.Equal(o.num)
	case KindString:
		return v.str == o.str
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.dict) != len(o.dict) {
			return false
		}
		for k, e := range v.dict {
			oe, ok := o.dict[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj == o.obj
	}
	return false
}

// Of converts a plain Go value into a Value. Supported: nil, Value, Obj,
// bool, string, all int/uint widths, float32/64, decimal.Decimal, []Value,
// []any, []string, map[string]Value, map[string]any, and fmt.Stringer as a
// last resort. Anything else yields an *Error.
func Of(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case Obj:
		return Object(x), nil
	case bool:
		return Bool(x), nil
	case string:
		return Str(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Num(decimal.NewFromUint64(uint64(x))), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return Num(decimal.NewFromUint64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case decimal.Decimal:
		return Num(x), nil
	case []Value:
		return ListOf(x...), nil
	case []string:
		out := make([]Value, len(x))
		for i, s := range x {
			out[i] = Str(s)
		}
		return ListOf(out...), nil
	case []any:
		out := make([]Value, len(x))
		for i, e := range x {
			ev, err := Of(e)
			if err != nil {
				return Null(), err
			}
			out[i] = ev
		}
		return ListOf(out...), nil
	case map[string]Value:
		return MapOf(x), nil
	case map[string]any:
		out := make(map[string]Value, len(x))
		for k, e := range x {
			ev, err := Of(e)
			if err != nil {
				return Null(), err
			}
			out[k] = ev
		}
		return MapOf(out), nil
	case fmt.Stringer:
		return Str(x.String()), nil
	}
	return Null(), &Error{Pos: -1, Msg: fmt.Sprintf("cannot bind value of type %T", v)}
}
