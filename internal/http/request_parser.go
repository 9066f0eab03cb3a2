// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request
// data. Every failure is a validation error naming the offending parameter.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"budget/internal/core"

	"cloud.google.com/go/civil"
)

// maxJSONBody bounds JSON request bodies. Import confirmations are the
// largest payloads.
const maxJSONBody int64 = 4 << 20

// Bounds reports an integer parameter outside its allowed range.
type Bounds struct {
	Min, Max int
}

// ParseBoundedInt reads key from query. A missing or blank value yields def.
func ParseBoundedInt(query url.Values, key string, def int, b Bounds) (int, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < b.Min || n > b.Max {
		return 0, core.NewValidation(
			fmt.Sprintf("%s must be an integer between %d and %d", key, b.Min, b.Max),
			fmt.Errorf("parse %s=%q", key, v))
	}
	return n, nil
}

// ParseDateParam reads an optional YYYY-MM-DD value. A missing value yields
// the zero date, which is not valid.
func ParseDateParam(query url.Values, key string) (civil.Date, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return civil.Date{}, nil
	}
	d, err := civil.ParseDate(v)
	if err != nil || !d.IsValid() {
		return civil.Date{}, core.NewValidation(fmt.Sprintf("%s must be a YYYY-MM-DD date", key), core.ErrInvalidDate)
	}
	return d, nil
}

// RequireDateParam is ParseDateParam for mandatory values.
func RequireDateParam(query url.Values, key string) (civil.Date, error) {
	d, err := ParseDateParam(query, key)
	if err != nil {
		return civil.Date{}, err
	}
	if !d.IsValid() {
		return civil.Date{}, core.NewValidation(key+" is required", core.ErrInvalidDate)
	}
	return d, nil
}

// ParseTypeParam reads an optional transaction type.
func ParseTypeParam(query url.Values, key string) (core.Type, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return "", nil
	}
	t, err := core.ParseType(v)
	if err != nil {
		return "", core.NewValidation("type must be income or expense", err)
	}
	return t, nil
}

// DecodeJSON decodes a single JSON value from the request body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return core.NewValidation("Request body too large", err)
		case errors.Is(err, io.EOF):
			return core.NewValidation("Request body is empty", err)
		default:
			return core.NewValidation("Invalid JSON body", err)
		}
	}
	if dec.More() {
		return core.NewValidation("Invalid JSON body", errors.New("trailing data after JSON value"))
	}
	return nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
