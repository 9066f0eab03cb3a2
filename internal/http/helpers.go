package http

import (
	"errors"
	"net/http"
	"strings"

	"budget/internal/auth"
	"budget/internal/core"
)

// ownerOf returns the owner resolved by the credential middleware.
func ownerOf(r *http.Request) (string, error) {
	owner, ok := auth.OwnerFrom(r.Context())
	if !ok {
		return "", core.NewUnauthorized("Authentication required", auth.ErrNoCredentials)
	}
	return owner, nil
}

// mutating reports whether r changes server state. Only those are rate limited.
func mutating(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func pathID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		return "", core.NewValidation("Missing transaction id", nil)
	}
	return id, nil
}

var errNoCredentialResolver = core.NewUpstream("credential resolver not configured", errors.New("nil credentials"))
