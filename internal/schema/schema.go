package schema

import (
	"fmt"
)

// Kind names the declared type of a field within a Shape.
type Kind int

const (
	String Kind = iota
	Number
	Bool
	// Hex accepts strings made up of 0-9a-f only.
	Hex
	// Key and Hash accept hex strings of exactly 64 characters: a 32-byte
	// public key or a SHA3-256 digest rendered as hex.
	Key
	Hash
	Object
	Array
)

// Field declares one value's expected type. Elem is set for Array fields,
// Nested for Object fields.
type Field struct {
	Kind   Kind
	Elem   *Field
	Nested *Shape
}

func Scalar(k Kind) Field      { return Field{Kind: k} }
func ArrayOf(elem Field) Field { return Field{Kind: Array, Elem: &elem} }
func Nested(shape Shape) Field { return Field{Kind: Object, Nested: &shape} }

// Shape declares the exact set of keys a JSON object may carry. Any key
// outside Required and Optional makes the object invalid; this whitelist
// is the single gate all external input passes before business logic.
type Shape struct {
	Required map[string]Field
	Optional map[string]Field
}

// Validate reports nil when value matches the shape exactly, and a
// descriptive error otherwise. The error text is for server logs only and
// is never sent to clients.
func (s Shape) Validate(value map[string]any) error {
	found := 0
	for name, field := range s.Required {
		v, ok := value[name]
		if !ok {
			return fmt.Errorf("missing required field %q", name)
		}
		if err := field.check(name, v); err != nil {
			return err
		}
		found++
	}
	for name, field := range s.Optional {
		v, ok := value[name]
		if !ok {
			continue
		}
		if err := field.check(name, v); err != nil {
			return err
		}
		found++
	}
	// Reject any key beyond the declared set.
	if found != len(value) {
		return fmt.Errorf("unexpected fields present")
	}
	return nil
}

func (f Field) check(name string, v any) error {
	switch f.Kind {
	case String:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("field %q: expected string", name)
		}
	case Number:
		// encoding/json decodes every JSON number as float64.
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("field %q: expected number", name)
		}
	case Bool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("field %q: expected boolean", name)
		}
	case Hex:
		str, ok := v.(string)
		if !ok || !isHex(str) {
			return fmt.Errorf("field %q: expected hex string", name)
		}
	case Key, Hash:
		str, ok := v.(string)
		if !ok || len(str) != 64 || !isHex(str) {
			return fmt.Errorf("field %q: expected 64-character hex string", name)
		}
	case Object:
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("field %q: expected object", name)
		}
		if err := f.Nested.Validate(obj); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	case Array:
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("field %q: expected array", name)
		}
		for i, elem := range arr {
			if err := f.Elem.check(fmt.Sprintf("%s[%d]", name, i), elem); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("field %q: unknown kind", name)
	}
	return nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9') && !('a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
