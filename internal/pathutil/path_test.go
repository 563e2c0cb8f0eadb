package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", "."},
		{".", "."},
		{"/", "."},
		{"a", "a"},
		{"/a/b", "b"},
		{"a/b/", "b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Base(tt.in), "Base(%q)", tt.in)
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Split(""))
	assert.Nil(t, Split("/"))
	assert.Equal(t, []string{"a", "b"}, Split("/a//b/"))
	assert.Equal(t, []string{"a", "..", "."}, Split("a/../."))
}

func TestRel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dir, target []string
		want        string
	}{
		{[]string{"c-1.0.0", "src"}, []string{"c-1.0.0", "lib.rs"}, "../lib.rs"},
		{[]string{"c-1.0.0"}, []string{"c-1.0.0", "src", "lib.rs"}, "src/lib.rs"},
		{[]string{"c-1.0.0", "a", "b"}, []string{"c-1.0.0"}, "../.."},
		{[]string{"c-1.0.0"}, []string{"c-1.0.0"}, "."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Rel(tt.dir, tt.target))
	}
}
