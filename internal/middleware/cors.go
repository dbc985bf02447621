// Package middleware provides HTTP middleware for the agentchat API.
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows browser calls from allowedOrigins. Credentials are only
// allowed when every origin is explicit; a "*" entry disables them.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			break
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	})
}
