package bridge

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned for missing or invalid tokens.
var ErrUnauthorized = errors.New("bridge: unauthorized")

// TokenVerifier checks a connection token and reports the identity behind
// it. Production deployments plug in their identity service; tests and
// single-tenant setups use StaticVerifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (owner string, err error)
}

// StaticVerifier accepts exactly one shared secret.
type StaticVerifier struct {
	Secret string
	Owner  string
}

func (v StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	if v.Secret == "" || token == "" {
		return "", ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.Secret)) != 1 {
		return "", ErrUnauthorized
	}
	owner := v.Owner
	if owner == "" {
		owner = "local"
	}
	return owner, nil
}
