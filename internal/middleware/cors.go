package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"
)

// CORS allows credentialed requests only from an explicit origin list;
// cookies are never shared with a wildcard origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	credentials := len(origins) > 0 && !slices.Contains(origins, "*")
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, "Retry-After"},
		MaxAge:           3600,
		AllowCredentials: credentials,
	})

	return handler.Handler
}
