package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("s3cret", "desk-1", time.Hour)
	require.NoError(t, err)

	sub, err := ParseToken("s3cret", token)
	require.NoError(t, err)
	assert.Equal(t, "desk-1", sub)
}

func TestParseTokenRejects(t *testing.T) {
	good, err := GenerateToken("s3cret", "desk-1", 0)
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "desk-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": time.Now().Unix(),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "desk-1",
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	cases := map[string]struct{ secret, token string }{
		"wrong secret": {"other", good},
		"expired":      {"s3cret", expired},
		"no subject":   {"s3cret", noSubject},
		"other alg":    {"s3cret", hs512},
		"garbage":      {"s3cret", "not.a.jwt"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(c.secret, c.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
