package handleid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_IsDeterministic(t *testing.T) {
	a := New("auth.go", 10, 20, "authenticate")
	b := New("auth.go", 10, 20, "authenticate")
	assert.Equal(t, a, b)
}

func TestNew_FormatIsHPrefixed24HexChars(t *testing.T) {
	id := New("auth.go", 10, 20, "authenticate")
	assert.Len(t, id, 25)
	assert.Equal(t, byte('h'), id[0])
	for _, c := range id[1:] {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'), "unexpected hex char %q", c)
	}
}

func TestNew_DiffersOnPath(t *testing.T) {
	a := New("auth.go", 10, 20, "authenticate")
	b := New("login.go", 10, 20, "authenticate")
	assert.NotEqual(t, a, b)
}

func TestNew_DiffersOnSpan(t *testing.T) {
	a := New("auth.go", 10, 20, "authenticate")
	b := New("auth.go", 11, 20, "authenticate")
	assert.NotEqual(t, a, b)
}

func TestNew_DiffersOnName(t *testing.T) {
	a := New("auth.go", 10, 20, "authenticate")
	b := New("auth.go", 10, 20, "Authenticate")
	assert.NotEqual(t, a, b)
}

func TestNew_EmptyNameIsValidInput(t *testing.T) {
	id := New("auth.go", 10, 20, "")
	assert.Len(t, id, 25)
}
