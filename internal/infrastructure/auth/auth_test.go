package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/pkg/errors"
)

func TestGenerateAndValidateToken(t *testing.T) {
	a := NewAuthenticator("super-secret-key", "marketchat", time.Hour)

	token, err := a.GenerateToken("user-123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "marketchat", claims.Issuer)

	uid, err := a.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", uid)
}

func TestExpiredToken(t *testing.T) {
	a := NewAuthenticator("super-secret-key", "marketchat", -time.Minute)

	token, err := a.GenerateToken("u1")
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestInvalidSignatureAndIssuer(t *testing.T) {
	a1 := NewAuthenticator("secret1", "marketchat", time.Hour)
	a2 := NewAuthenticator("secret2", "marketchat", time.Hour)
	other := NewAuthenticator("secret1", "someone-else", time.Hour)

	token, err := a1.GenerateToken("u1")
	require.NoError(t, err)

	_, err = a2.ValidateToken(token)
	assert.Error(t, err)
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestResolveMapsToAuthenticationError(t *testing.T) {
	a := NewAuthenticator("secret", "marketchat", time.Hour)

	_, err := a.Resolve(context.Background(), "")
	assert.True(t, errors.Is(err, errors.CodeUnauthorized))

	_, err = a.Resolve(context.Background(), "garbage")
	assert.True(t, errors.Is(err, errors.CodeUnauthorized))
}

type stubVerifier struct {
	uid string
	err error
}

func (s stubVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &firebaseauth.Token{UID: s.uid}, nil
}

func TestFirebaseResolver(t *testing.T) {
	r := &FirebaseResolver{client: stubVerifier{uid: "fb-user"}}
	uid, err := r.Resolve(context.Background(), "id-token")
	require.NoError(t, err)
	assert.Equal(t, "fb-user", uid)

	r = &FirebaseResolver{client: stubVerifier{err: assert.AnError}}
	_, err = r.Resolve(context.Background(), "id-token")
	assert.True(t, errors.Is(err, errors.CodeUnauthorized))
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	assert.Equal(t, "query-token", TokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", TokenFromRequest(req))
}
