package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerify_ValidToken(t *testing.T) {
	secret := "test-secret-key-for-testing-purposes"

	token, err := Sign(secret, "alice", "Alice Example", 15*time.Minute)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	verifier := NewVerifier(secret)
	claims, err := verifier.Verify(token)

	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "Alice Example", claims.DisplayName)
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := Sign("secret-one", "alice", "Alice", 15*time.Minute)
	assert.NoError(t, err)

	verifier := NewVerifier("secret-two")
	claims, err := verifier.Verify(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestVerify_ExpiredToken(t *testing.T) {
	secret := "test-secret"

	token, err := Sign(secret, "alice", "Alice", -time.Minute)
	assert.NoError(t, err)

	verifier := NewVerifier(secret)
	claims, err := verifier.Verify(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestVerify_GarbageToken(t *testing.T) {
	verifier := NewVerifier("test-secret")

	claims, err := verifier.Verify("not-a-token")

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestVerify_EmptyUserID(t *testing.T) {
	secret := "test-secret"

	token, err := Sign(secret, "", "Nameless", 15*time.Minute)
	assert.NoError(t, err)

	verifier := NewVerifier(secret)
	claims, err := verifier.Verify(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}
