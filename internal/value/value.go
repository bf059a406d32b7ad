// Package value implements the GraphQL response/variable value model:
// a tagged sum with ordered-map objects, so that serialization is
// deterministic and path-addressed merges have predictable behavior.
package value

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindEnum
	KindList
	KindObject
	KindBinary
)

// Value is the GraphQL value sum type used throughout planning and
// execution: null, bool, int, float, string, enum, list, ordered
// object, or a raw binary payload (opaque scalars).
type Value struct {
	kind   Kind
	b      bool
	i      int64
	f      float64
	s      string
	list   []Value
	object *Object
	bin    []byte
}

// Object is an ordered map from field name to Value. Insertion order
// is preserved so that serialized responses are deterministic.
type Object struct {
	keys   []string
	values map[string]Value
}

func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

func (o *Object) Set(key string, v Value) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *Object) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

func (o *Object) Keys() []string {
	return o.keys
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Clone returns a shallow copy of the object (values are not deep
// copied, only the key ordering and map are).
func (o *Object) Clone() *Object {
	if o == nil {
		return NewObject()
	}
	clone := &Object{
		keys:   append([]string{}, o.keys...),
		values: make(map[string]Value, len(o.values)),
	}
	for k, v := range o.values {
		clone.values[k] = v
	}
	return clone
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func Float(f float64) Value      { return Value{kind: KindFloat, f: f} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Enum(s string) Value        { return Value{kind: KindEnum, s: s} }
func List(items []Value) Value   { return Value{kind: KindList, list: items} }
func Obj(o *Object) Value        { return Value{kind: KindObject, object: o} }
func Binary(b []byte) Value      { return Value{kind: KindBinary, bin: b} }

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) Bool() bool      { return v.b }
func (v Value) Int() int64      { return v.i }
func (v Value) Float() float64  { return v.f }
func (v Value) String() string  { return v.s }
func (v Value) List() []Value   { return v.list }
func (v Value) Object() *Object { return v.object }
func (v Value) Binary() []byte  { return v.bin }

// FromAny converts a decoded `interface{}` (as produced by
// encoding/json or goccy/go-json unmarshaling into `any`) into a
// Value. Object key order follows Go map iteration order, which is not
// deterministic.
func FromAny(in any) Value {
	switch t := in.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Float(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return List(items)
	case map[string]any:
		obj := NewObject()
		for k, val := range t {
			obj.Set(k, FromAny(val))
		}
		return Obj(obj)
	default:
		return Null()
	}
}

// ToAny converts a Value back into a plain `any` tree suitable for
// encoding/json or goccy/go-json marshaling. Objects stay *Object so
// that its MarshalJSON preserves field order.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindEnum:
		return v.s
	case KindBinary:
		return v.bin
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToAny()
		}
		return out
	case KindObject:
		return v.object
	default:
		return nil
	}
}

// MarshalJSON renders an Object preserving insertion order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		sb.Write(keyBytes)
		sb.WriteByte(':')
		valBytes, err := json.Marshal(o.values[k].ToAny())
		if err != nil {
			return nil, err
		}
		sb.Write(valBytes)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

// MarshalJSON renders a Value via its ToAny() projection.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// GoString supports debugging/printf inspection of Values in tests.
func (v Value) GoString() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString, KindEnum:
		return fmt.Sprintf("%q", v.s)
	default:
		b, _ := json.Marshal(v.ToAny())
		return string(b)
	}
}
