// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for JSON responses and the single
// mapping from error kinds to status codes.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"budget/internal/core"
	"budget/internal/log"
)

// kindRateLimited is only produced by the rate limiter, never by the domain.
const kindRateLimited core.Kind = "rate_limited"

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Kind    core.Kind `json:"kind"`
	Message string    `json:"message"`
}

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Data wraps v as {"data": v}.
func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	return b.Body(map[string]any{"data": v})
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if b.body != nil {
		_ = json.NewEncoder(w).Encode(b.body)
	}
}

// ErrorResponse creates an error response for a kind and a caller safe message.
func ErrorResponse(kind core.Kind, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(StatusFor(kind)).
		Body(ErrorBody{Kind: kind, Message: message})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind core.Kind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindNotFound:
		return http.StatusNotFound
	case kindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the caller. Upstream failures are logged with
// their cause and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	if kind == core.KindUpstream {
		errorType := log.ErrorTypeInternal
		if errors.Is(err, context.DeadlineExceeded) {
			errorType = log.ErrorTypeTimeout
		}
		log.FromContext(r.Context()).WithComponent(log.ComponentHTTP).ErrorContext(r.Context(), "Request failed",
			log.NewFields().
				WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
				WithError(err, errorType).
				ToSlice()...)
	}
	ErrorResponse(kind, core.MessageOf(err)).Write(w)
}

// writeRateLimited answers a request rejected by the rate limiter.
func writeRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(kindRateLimited, "Too many requests, please try again later").Write(w)
}
