package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Run("generates 64 character hex string", func(t *testing.T) {
		token, err := GenerateToken()
		require.NoError(t, err)
		assert.Len(t, token, 64)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, _ := GenerateToken()
		token2, _ := GenerateToken()
		assert.NotEqual(t, token1, token2)
	})
}

func TestRandomString(t *testing.T) {
	t.Run("generates requested length from charset", func(t *testing.T) {
		s, err := RandomString(128, UnreservedCharset)
		require.NoError(t, err)
		assert.Len(t, s, 128)
		for _, c := range s {
			assert.True(t, strings.ContainsRune(UnreservedCharset, c), "unexpected character %q", c)
		}
	})

	t.Run("generates unique values", func(t *testing.T) {
		a, _ := RandomString(32, UnreservedCharset)
		b, _ := RandomString(32, UnreservedCharset)
		assert.NotEqual(t, a, b)
	})

	t.Run("rejects invalid parameters", func(t *testing.T) {
		_, err := RandomString(0, UnreservedCharset)
		assert.Error(t, err)

		_, err = RandomString(10, "")
		assert.Error(t, err)
	})
}

func TestConstantTimeEqual(t *testing.T) {
	t.Run("returns true for equal strings", func(t *testing.T) {
		assert.True(t, ConstantTimeEqual("abc", "abc"))
	})

	t.Run("returns false for different strings", func(t *testing.T) {
		assert.False(t, ConstantTimeEqual("abc", "def"))
	})

	t.Run("returns false for different lengths", func(t *testing.T) {
		assert.False(t, ConstantTimeEqual("abc", "abcd"))
	})

	t.Run("is case and whitespace sensitive", func(t *testing.T) {
		assert.False(t, ConstantTimeEqual("abc", "ABC"))
		assert.False(t, ConstantTimeEqual("abc", "abc "))
	})
}

func TestValidation(t *testing.T) {
	assert.True(t, IsValidProfileID("a1b2c3d4-0000-4000-8000-000000000001"))
	assert.True(t, IsValidProfileID("student@example.edu"))
	assert.False(t, IsValidProfileID(""))
	assert.False(t, IsValidProfileID("user/../admin"))
	assert.False(t, IsValidProfileID(strings.Repeat("a", 129)))

	assert.True(t, IsValidTaskID("todo-123"))
	assert.True(t, IsValidTaskID("planner-456"))
	assert.False(t, IsValidTaskID("note-1"))
	assert.False(t, IsValidTaskID("todo-"))
}
