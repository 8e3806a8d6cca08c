package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// DefaultMaxDepth bounds nesting when payloads are decoded or walked.
const DefaultMaxDepth = 32

var (
	ErrInvalidPayload = errors.New("payload is not valid JSON")
	ErrPayloadTooDeep = errors.New("payload nesting exceeds depth limit")
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "null"
	}
}

// Field is one member of an object, kept in document order.
type Field struct {
	Key   string
	Value Value
}

// Value is a decoded evidence payload: a tagged union of JSON scalars,
// arrays and objects. The zero Value is null.
type Value struct {
	Kind   Kind
	Bool   bool
	Num    float64
	Str    string
	Items  []Value
	Fields []Field
}

func Null() Value                  { return Value{} }
func Bool(b bool) Value            { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value       { return Value{Kind: KindNumber, Num: n} }
func String(s string) Value        { return Value{Kind: KindString, Str: s} }
func Array(items ...Value) Value   { return Value{Kind: KindArray, Items: items} }
func Object(fields ...Field) Value { return Value{Kind: KindObject, Fields: fields} }

func F(key string, v Value) Field { return Field{Key: key, Value: v} }

// Get returns the first member named key when v is an object.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindObject {
		return Value{}, false
	}
	for _, f := range v.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// GetString returns the member named key when it is a string scalar.
func (v Value) GetString(key string) string {
	m, ok := v.Get(key)
	if !ok || m.Kind != KindString {
		return ""
	}
	return m.Str
}

func (v Value) IsZero() bool {
	return v.Kind == KindNull
}

// Walk visits v and its descendants depth-first, in document order, using an
// explicit stack. Values nested deeper than maxDepth are not visited and
// Walk reports truncated=true. visit returning false stops the walk.
func (v Value) Walk(maxDepth int, visit func(Value) bool) (truncated bool) {
	type frame struct {
		val   Value
		depth int
	}
	stack := []frame{{val: v}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !visit(top.val) {
			return truncated
		}

		var children []Value
		switch top.val.Kind {
		case KindArray:
			children = top.val.Items
		case KindObject:
			children = make([]Value, len(top.val.Fields))
			for i, f := range top.val.Fields {
				children[i] = f.Value
			}
		default:
			continue
		}
		if len(children) == 0 {
			continue
		}
		if top.depth+1 > maxDepth {
			truncated = true
			continue
		}
		// Push in reverse so the first child is visited first.
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{val: children[i], depth: top.depth + 1})
		}
	}
	return truncated
}

// ParsePayload decodes JSON into a Value, rejecting input that is not valid
// JSON or nests deeper than maxDepth.
func ParsePayload(data []byte, maxDepth int) (Value, error) {
	if !gjson.ValidBytes(data) {
		return Value{}, ErrInvalidPayload
	}
	return fromResult(gjson.ParseBytes(data), 0, maxDepth)
}

func fromResult(r gjson.Result, depth, maxDepth int) (Value, error) {
	switch r.Type {
	case gjson.Null:
		return Null(), nil
	case gjson.False:
		return Bool(false), nil
	case gjson.True:
		return Bool(true), nil
	case gjson.Number:
		return Number(r.Num), nil
	case gjson.String:
		return String(r.Str), nil
	}

	if depth+1 > maxDepth {
		return Value{}, fmt.Errorf("%w (%d)", ErrPayloadTooDeep, maxDepth)
	}

	var (
		out  Value
		iter error
	)
	if r.IsArray() {
		out.Kind = KindArray
		r.ForEach(func(_, item gjson.Result) bool {
			child, err := fromResult(item, depth+1, maxDepth)
			if err != nil {
				iter = err
				return false
			}
			out.Items = append(out.Items, child)
			return true
		})
	} else {
		out.Kind = KindObject
		r.ForEach(func(key, item gjson.Result) bool {
			child, err := fromResult(item, depth+1, maxDepth)
			if err != nil {
				iter = err
				return false
			}
			out.Fields = append(out.Fields, Field{Key: key.Str, Value: child})
			return true
		})
	}
	if iter != nil {
		return Value{}, iter
	}
	return out, nil
}

// UnmarshalJSON applies DefaultMaxDepth. Decoders with a configured bound
// call ParsePayload instead.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePayload(data, DefaultMaxDepth)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.Bool))
	case KindNumber:
		buf.WriteString(strconv.FormatFloat(v.Num, 'g', -1, 64))
	case KindString:
		s, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(s)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, f := range v.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown payload kind %d", v.Kind)
	}
	return nil
}
