// CLAUDE:SUMMARY HTTP middleware stack for the status API: security headers, HEAD handling, body cap, request ids.
// Package shield provides the HTTP middleware applied in front of the
// pagewatch status API.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// DefaultMaxBody caps request bodies on the status API.
const DefaultMaxBody = 64 * 1024

// DefaultAPIStack returns the standard middleware stack, outermost first:
// HeadToGet → SecurityHeaders → MaxBody → RequestID.
func DefaultAPIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultMaxBody),
		RequestID(logger),
	}
}
