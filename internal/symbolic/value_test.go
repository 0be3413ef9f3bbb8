package symbolic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueAdd(t *testing.T) {
	var v Value
	assert.True(t, v.IsEmpty())

	a := StackSlot(0x10, 0)
	b := VariableOf(0x14, "x0")

	v1, grew := v.Add(a)
	require.True(t, grew)
	assert.Equal(t, 1, v1.Len())
	assert.True(t, v1.Contains(a))
	assert.True(t, v.IsEmpty(), "receiver must not change")

	v2, grew := v1.Add(a)
	assert.False(t, grew)
	assert.Equal(t, 1, v2.Len())

	v3, grew := v1.Add(b)
	require.True(t, grew)
	assert.Equal(t, 2, v3.Len())
	assert.Equal(t, 1, v1.Len())

	c := StackSlot(0x18, 1)
	v4, _ := v3.Add(c)
	assert.Equal(t, 3, v4.Len())
	assert.Equal(t, 2, v3.Len())
	assert.False(t, v3.Contains(c))
}

func TestValueUnion(t *testing.T) {
	a, b, c := StackSlot(1, 0), StackSlot(2, 0), StackSlot(3, 0)

	tests := []struct {
		name    string
		l, r    Value
		want    Value
		changed bool
	}{
		{"empty both", Value{}, Value{}, Value{}, false},
		{"empty left", Value{}, NewValue(a), NewValue(a), true},
		{"empty right", NewValue(a), Value{}, NewValue(a), false},
		{"same single", NewValue(a), NewValue(a), NewValue(a), false},
		{"disjoint singles", NewValue(a), NewValue(b), NewValue(a, b), true},
		{"single into superset", NewValue(a), NewValue(a, b), NewValue(a, b), true},
		{"superset absorbs", NewValue(a, b, c), NewValue(b, c), NewValue(a, b, c), false},
		{"overlap grows", NewValue(a, b), NewValue(b, c), NewValue(a, b, c), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := tt.l.Union(tt.r)
			assert.Equal(t, tt.changed, changed)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestValueSourcesSorted(t *testing.T) {
	v := NewValue(VariableOf(3, "b"), StackSlot(3, 1), StackSlot(-1, 0), VariableOf(3, "a"), StackSlot(3, 0))
	assert.Equal(t, []Source{
		StackSlot(-1, 0),
		StackSlot(3, 0),
		StackSlot(3, 1),
		VariableOf(3, "a"),
		VariableOf(3, "b"),
	}, v.Sources())
	assert.Equal(t, "{#0@-0x1, #0@0x3, #1@0x3, a@0x3, b@0x3}", v.String())
}

func TestValueEqual(t *testing.T) {
	a, b := StackSlot(1, 0), StackSlot(2, 0)
	assert.True(t, NewValue(a, b).Equal(NewValue(b, a)))
	assert.False(t, NewValue(a).Equal(NewValue(a, b)))
	assert.False(t, NewValue(a).Equal(NewValue(b)))
	assert.True(t, Value{}.Equal(NewValue()))
}
