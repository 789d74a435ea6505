package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cmelive/pkg/interfaces"
	"cmelive/pkg/types"
)

// Verifier implements interfaces.IdentityVerifier on HS256 JWTs. Verification
// resolves the subject claim against the user store, so a token for a deleted
// user fails even before expiry.
type Verifier struct {
	users  interfaces.UserStore
	secret []byte
	ttl    time.Duration
}

// NewVerifier creates a verifier with the shared signing secret.
func NewVerifier(users interfaces.UserStore, secret []byte, ttl time.Duration) *Verifier {
	return &Verifier{
		users:  users,
		secret: secret,
		ttl:    ttl,
	}
}

// Verify validates a bearer token and resolves it to a user record. Runs
// once per connection attempt, before any event handler.
func (v *Verifier) Verify(ctx context.Context, token string) (*types.User, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ErrInvalidToken
	}

	user, err := v.users.GetUser(ctx, subject)
	if err == interfaces.ErrUserNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", subject, err)
	}

	return user, nil
}

// Issue signs a token for the user, expiring after the configured TTL.
func (v *Verifier) Issue(user *types.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}
