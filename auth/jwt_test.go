package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuthBearerHeader(t *testing.T) {
	c := NewJWTClient("s3cret")

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "s3cret", "alice"))

	uid, err := c.Auth(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)
}

func TestJWTAuthQueryFallback(t *testing.T) {
	c := NewJWTClient("s3cret")

	r := httptest.NewRequest("GET", "/ws?token="+signToken(t, "s3cret", "bob"), nil)
	uid, err := c.Auth(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", uid)
}

func TestJWTAuthRejects(t *testing.T) {
	c := NewJWTClient("s3cret")

	// No token at all.
	r := httptest.NewRequest("GET", "/ws", nil)
	_, err := c.Auth(r)
	assert.Error(t, err)

	// Wrong secret.
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "wrong", "alice"))
	_, err = c.Auth(r)
	assert.Error(t, err)

	// Expired token.
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	s, err := expired.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+s)
	_, err = c.Auth(r)
	assert.Error(t, err)
}

func TestMockClientCookie(t *testing.T) {
	c := &MockClient{}

	r := httptest.NewRequest("GET", "/ws", nil)
	_, err := c.Auth(r)
	assert.Error(t, err)

	r.AddCookie(&http.Cookie{Name: "x-uid", Value: "alice"})
	uid, err := c.Auth(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)
}
