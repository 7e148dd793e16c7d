package notehash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSum_Deterministic(t *testing.T) {
	a := Sum([]byte("# Spring\n"))
	b := Sum([]byte("# Spring\n"))
	assert.Equal(t, a, b)
}

func TestSum_ContentOnly(t *testing.T) {
	// Identical bytes hash identically regardless of where they live.
	assert.Equal(t, Sum([]byte("same")), Sum([]byte("same")))
	assert.NotEqual(t, Sum([]byte("same")), Sum([]byte("different")))
}

func TestSum_EmptyMatchesSentinel(t *testing.T) {
	assert.Equal(t, EmptyHash, Sum(nil))
	assert.Equal(t, EmptyHash, Sum([]byte{}))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(EmptyHash))
	assert.True(t, IsEmpty(Sum(nil)))
	assert.False(t, IsEmpty(Sum([]byte(" "))))
	assert.False(t, IsEmpty(""))
}
