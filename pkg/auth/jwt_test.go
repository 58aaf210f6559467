package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("secret")
	user := uuid.New()

	token, err := svc.GenerateAccessToken(user, "dev@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, user, id)
	assert.Equal(t, "dev@example.com", claims.Email)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret")
	user := uuid.New()

	expired, err := svc.GenerateAccessToken(user, "", -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewJWTService("other").GenerateAccessToken(user, "", time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   user.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(hs512)
	assert.ErrorIs(t, err, ErrInvalidToken)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "someone",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(badSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmptySecretRejectsEverything(t *testing.T) {
	svc := NewJWTService("")
	_, err := svc.GenerateAccessToken(uuid.New(), "", time.Hour)
	assert.Error(t, err)
	_, err = svc.ValidateToken("anything")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
