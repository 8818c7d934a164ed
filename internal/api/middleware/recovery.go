package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery creates a middleware that turns panics into 500 problem
// responses and logs the stack.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					correlationID := GetCorrelationID(r.Context())

					logger.Error("HTTP request panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("correlation_id", correlationID),
						slog.Any("panic", err),
						slog.String("stack_trace", string(debug.Stack())),
					)

					if writeErr := writeProblem(w, r, http.StatusInternalServerError,
						"Internal Server Error",
						"An unexpected error occurred while processing the request",
						correlationID); writeErr != nil {
						logger.Error("Failed to write panic response",
							slog.String("correlation_id", correlationID),
							slog.String("error", writeErr.Error()),
						)
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
