package auth

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cperr "github.com/Harshaan-Chugh/rabbitreels/internal/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret string, registered jwt.Claims, custom Claims) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)}, nil)
	require.NoError(t, err)
	raw, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	require.NoError(t, err)
	return raw
}

func TestNewVerifier_RejectsShortSecret(t *testing.T) {
	_, err := NewVerifier("too-short", "rabbitreels")
	require.Error(t, err)
	assert.True(t, cperr.Is(err, cperr.KindInternal))
}

func TestVerify_ValidTokenRoundTrips(t *testing.T) {
	v, err := NewVerifier(testSecret, "rabbitreels")
	require.NoError(t, err)

	raw := signToken(t, testSecret, jwt.Claims{
		Issuer:    "rabbitreels",
		Subject:   "user_42",
		Expiry:    jwt.NewNumericDate(time.Now().Add(time.Hour)),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}, Claims{Subject: "user_42", Email: "user@example.com"})

	claims, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "user_42", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestVerify_ExpiredTokenRejected(t *testing.T) {
	v, err := NewVerifier(testSecret, "rabbitreels")
	require.NoError(t, err)

	raw := signToken(t, testSecret, jwt.Claims{
		Issuer:  "rabbitreels",
		Subject: "user_42",
		Expiry:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}, Claims{Subject: "user_42"})

	_, err = v.Verify(raw)
	require.Error(t, err)
	assert.True(t, cperr.Is(err, cperr.KindUnauthorized))
}

func TestVerify_WrongIssuerRejected(t *testing.T) {
	v, err := NewVerifier(testSecret, "rabbitreels")
	require.NoError(t, err)

	raw := signToken(t, testSecret, jwt.Claims{
		Issuer:  "someone-else",
		Subject: "user_42",
		Expiry:  jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, Claims{Subject: "user_42"})

	_, err = v.Verify(raw)
	assert.Error(t, err)
}

func TestVerify_WrongSigningKeyRejected(t *testing.T) {
	v, err := NewVerifier(testSecret, "rabbitreels")
	require.NoError(t, err)

	raw := signToken(t, "ffffffffffffffffffffffffffffffff", jwt.Claims{
		Issuer:  "rabbitreels",
		Subject: "user_42",
		Expiry:  jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, Claims{Subject: "user_42"})

	_, err = v.Verify(raw)
	assert.Error(t, err)
}

func TestVerify_MissingSubjectRejected(t *testing.T) {
	v, err := NewVerifier(testSecret, "rabbitreels")
	require.NoError(t, err)

	raw := signToken(t, testSecret, jwt.Claims{
		Issuer: "rabbitreels",
		Expiry: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, Claims{})

	_, err = v.Verify(raw)
	require.Error(t, err)
	assert.True(t, cperr.Is(err, cperr.KindUnauthorized))
}

func TestVerify_MalformedTokenRejected(t *testing.T) {
	v, err := NewVerifier(testSecret, "rabbitreels")
	require.NoError(t, err)

	_, err = v.Verify("not.a.jwt")
	assert.Error(t, err)
}
