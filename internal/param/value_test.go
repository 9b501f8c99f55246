package param

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueKinds(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want Kind
	}{
		{"zero", Value{}, KindEmpty},
		{"empty", Empty(), KindEmpty},
		{"int", Int(42), KindInt},
		{"bool", Bool(false), KindBool},
		{"text", Text(""), KindText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.Kind())
		})
	}
}

func TestCheckedAccessorsMatchKind(t *testing.T) {
	values := []Value{Empty(), Int(-7), Bool(true), Text("a\"b")}

	for _, v := range values {
		t.Run(v.Kind().String(), func(t *testing.T) {
			i, ok := v.AsInt()
			assert.Equal(t, v.Kind() == KindInt, ok)
			if ok {
				assert.Equal(t, -7, i)
			} else {
				assert.Zero(t, i)
			}

			b, ok := v.AsBool()
			assert.Equal(t, v.Kind() == KindBool, ok)
			if ok {
				assert.True(t, b)
			} else {
				assert.False(t, b)
			}

			s, ok := v.AsText()
			assert.Equal(t, v.Kind() == KindText, ok)
			if ok {
				assert.Equal(t, "a\"b", s)
			} else {
				assert.Empty(t, s)
			}
		})
	}
}

func TestMustAccessorsPanicOnMismatch(t *testing.T) {
	assert.Equal(t, 3, Int(3).MustInt())
	assert.True(t, Bool(true).MustBool())
	assert.Equal(t, "x", Text("x").MustText())

	assert.Panics(t, func() { Bool(true).MustInt() })
	assert.Panics(t, func() { Int(1).MustBool() })
	assert.Panics(t, func() { Empty().MustText() })
}

func TestSettersReplaceKind(t *testing.T) {
	v := Text("hello")

	v.SetInt(5)
	assert.Equal(t, KindInt, v.Kind())
	_, ok := v.AsText()
	assert.False(t, ok, "old text payload must not survive SetInt")

	v.SetBool(true)
	assert.Equal(t, KindBool, v.Kind())
	_, ok = v.AsInt()
	assert.False(t, ok)

	v.SetText("again")
	assert.Equal(t, "again", v.MustText())
}

func TestValueCopiedByValue(t *testing.T) {
	a := Int(1)
	b := a
	b.SetInt(2)
	assert.Equal(t, 1, a.MustInt())
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "12", Int(12).String())
	assert.Equal(t, "false", Bool(false).String())
	assert.Equal(t, "txt", Text("txt").String())
	assert.Equal(t, "", Empty().String())
}
