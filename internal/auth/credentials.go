// Package auth resolves the owner of an incoming request.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"budget/internal/config"
	"budget/internal/core"
)

const maxOwnerLength = 128

var (
	ErrNoCredentials  = errors.New("no credentials")
	ErrBadCredentials = errors.New("invalid credentials")
)

// Credentials resolves the authenticated owner of r.
type Credentials interface {
	CurrentOwner(r *http.Request) (string, error)
}

// HeaderCredentials trusts an owner id set by an upstream gateway.
type HeaderCredentials struct {
	Header string
}

func (c HeaderCredentials) CurrentOwner(r *http.Request) (string, error) {
	owner := strings.TrimSpace(r.Header.Get(c.Header))
	if owner == "" {
		return "", core.NewUnauthorized("Authentication required", ErrNoCredentials)
	}
	if !validOwner(owner) {
		return "", core.NewUnauthorized("Authentication required", ErrBadCredentials)
	}
	return owner, nil
}

// TokenCredentials maps static bearer tokens to owners.
type TokenCredentials struct {
	tokens map[string]string
}

func NewTokenCredentials(tokens map[string]string) *TokenCredentials {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &TokenCredentials{tokens: cp}
}

func (c *TokenCredentials) CurrentOwner(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", core.NewUnauthorized("Authentication required", ErrNoCredentials)
	}
	token = strings.TrimSpace(token)

	// Walk every entry so timing does not reveal which prefix matched.
	var owner string
	for known, o := range c.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			owner = o
		}
	}
	if owner == "" {
		return "", core.NewUnauthorized("Invalid token", ErrBadCredentials)
	}
	return owner, nil
}

// FromConfig builds the resolver selected by AUTH_MODE.
func FromConfig(cfg *config.Config) (Credentials, error) {
	switch cfg.AuthMode {
	case "header":
		return HeaderCredentials{Header: cfg.AuthHeader}, nil
	case "token":
		tokens, err := cfg.Tokens()
		if err != nil {
			return nil, err
		}
		return NewTokenCredentials(tokens), nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
}

func validOwner(s string) bool {
	if len(s) > maxOwnerLength {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

type ownerKey struct{}

// WithOwner stores the resolved owner in ctx.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner stored by WithOwner.
func OwnerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}
