package canopy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtensionsOf_CollectsDistinctExtensionsWithoutDot(t *testing.T) {
	exts := extensionsOf([]string{"a/b.go", "a/c.go", "a/d.ts", "a/noext", "a/e.go"})
	assert.ElementsMatch(t, []string{"go", "ts"}, exts)
}

func TestExtensionsOf_EmptyInputYieldsNil(t *testing.T) {
	assert.Empty(t, extensionsOf(nil))
}
