package jwt

import (
	"testing"
	"time"

	"storyhub/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(issuer string, ttl time.Duration) *JWTService {
	return NewJWTService(config.JWTConfig{Secret: "test-secret", ExpireTime: ttl, Issuer: issuer})
}

func TestGenerateAndValidate(t *testing.T) {
	svc := newService("storyhub", time.Hour)

	token, err := svc.GenerateToken(42, map[string]interface{}{"username": "alice"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)
	assert.Equal(t, "alice", claims.Username())
	assert.Equal(t, "storyhub", claims.Issuer)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := newService("storyhub", time.Hour)

	_, err := svc.GenerateToken(0, nil)
	assert.Error(t, err)

	_, err = svc.ValidateToken("")
	assert.Error(t, err)
	_, err = svc.ValidateToken("not-a-token")
	assert.Error(t, err)

	other, err := newService("someone-else", time.Hour).GenerateToken(1, nil)
	require.NoError(t, err)
	_, err = svc.ValidateToken(other)
	assert.Error(t, err)

	expired, err := newService("storyhub", -time.Minute).GenerateToken(1, nil)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.Error(t, err)
}

func TestClaimsUserID(t *testing.T) {
	claims := &CustomClaims{}
	claims.Subject = "abc"
	_, err := claims.UserID()
	assert.Error(t, err)
	assert.Empty(t, claims.Username())
}
