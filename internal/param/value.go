// Package param holds the named, typed runtime values a device exposes as
// state and settings. Nothing here is safe for concurrent use: stores are
// owned by the loop goroutine.
package param

import "fmt"

// Kind identifies which representation of a Value is active.
type Kind int

const (
	KindEmpty Kind = iota
	KindInt
	KindBool
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a tagged union over int, bool and text. The zero Value is Empty.
// Exactly one payload is meaningful at a time: accessors for any other kind
// fail instead of converting.
type Value struct {
	kind Kind
	i    int
	b    bool
	s    string
}

// Empty returns the empty value.
func Empty() Value { return Value{} }

// Int returns an integer value.
func Int(v int) Value { return Value{kind: KindInt, i: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Text returns a text value.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Kind returns the active tag.
func (v Value) Kind() Kind { return v.kind }

// AsInt returns the payload and true if v holds an int, otherwise 0 and false.
func (v Value) AsInt() (int, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsBool returns the payload and true if v holds a bool, otherwise false and false.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsText returns the payload and true if v holds text, otherwise "" and false.
func (v Value) AsText() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.s, true
}

// MustInt returns the int payload. It panics if v does not hold an int.
func (v Value) MustInt() int {
	v.expect(KindInt)
	return v.i
}

// MustBool returns the bool payload. It panics if v does not hold a bool.
func (v Value) MustBool() bool {
	v.expect(KindBool)
	return v.b
}

// MustText returns the text payload. It panics if v does not hold text.
func (v Value) MustText() string {
	v.expect(KindText)
	return v.s
}

func (v Value) expect(k Kind) {
	if v.kind != k {
		panic(fmt.Sprintf("param: %s accessor used on %s value", k, v.kind))
	}
}

// SetInt replaces v with an int value.
func (v *Value) SetInt(i int) { *v = Int(i) }

// SetBool replaces v with a bool value.
func (v *Value) SetBool(b bool) { *v = Bool(b) }

// SetText replaces v with a text value.
func (v *Value) SetText(s string) { *v = Text(s) }

// String formats the payload for humans. Empty formats as "".
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindText:
		return v.s
	default:
		return ""
	}
}
