package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidateUsername("alice_01"))
	assert.False(t, ValidateUsername("al"))
	assert.False(t, ValidateUsername("bad name"))

	assert.True(t, ValidateEmail("a@b.io"))
	assert.False(t, ValidateEmail("not-an-email"))

	assert.True(t, ValidatePassword("12345678"))
	assert.False(t, ValidatePassword("short"))
}

func TestGenerateGroupCode_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		length := rapid.IntRange(1, 16).Draw(t, "length")

		code, err := GenerateGroupCode(length)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != length {
			t.Fatalf("expected length %d, got %q", length, code)
		}
		for _, c := range code {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("unexpected character %q in %q", c, code)
			}
		}
	})
}
