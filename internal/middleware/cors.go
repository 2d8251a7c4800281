package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSHandler builds the CORS middleware for the API. Pagination rides in
// the response envelope, so the only header clients need back is the
// request ID for support tickets.
func CORSHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	})
}
