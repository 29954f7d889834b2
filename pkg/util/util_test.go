package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, 0, AlignUp(0, 4))
	assert.Equal(t, 4, AlignUp(1, 4))
	assert.Equal(t, 4, AlignUp(4, 4))
	assert.Equal(t, 8, AlignUp(5, 4))
	assert.Equal(t, 16, AlignUp(9, 8))
}

func TestEscapeAsciiz(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"line\n", `line\n`},
		{`quote"`, `quote\"`},
		{`back\slash`, `back\\slash`},
		{"tab\there", `tab\there`},
		{"nul\x00dropped", "nuldropped"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscapeAsciiz(tt.in), "input %q", tt.in)
	}
}
