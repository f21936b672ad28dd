package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hashed, err := HashPassword("correct-horse")
	require.NoError(t, err)

	assert.NotEqual(t, "correct-horse", hashed)
	assert.True(t, CheckPassword(hashed, "correct-horse"))
	assert.False(t, CheckPassword(hashed, "wrong-horse"))
}

func TestHashPassword_TooShort(t *testing.T) {
	_, err := HashPassword("short")
	assert.Error(t, err)
}

func TestCheckPassword_RejectsNonBcryptHash(t *testing.T) {
	assert.False(t, CheckPassword("!", "password"))
	assert.False(t, CheckPassword("", ""))
}
