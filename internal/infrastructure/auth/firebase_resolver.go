package auth

import (
	"context"

	firebaseauth "firebase.google.com/go/v4/auth"

	"marketchat/pkg/errors"
)

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

type FirebaseResolver struct {
	client idTokenVerifier
}

func NewFirebaseResolver(client *firebaseauth.Client) *FirebaseResolver {
	return &FirebaseResolver{client: client}
}

func (r *FirebaseResolver) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.Unauthorized("Authorization token is required", nil)
	}
	verified, err := r.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", errors.Unauthorized("Invalid or expired token", err)
	}
	return verified.UID, nil
}
