package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
)

// Recovery converts panics into opaque 500 responses. The stack is
// logged under a correlation id; the client sees nothing internal.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				correlationID := uuid.New().String()
				slog.Error("panic recovered",
					"correlation_id", correlationID,
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"Internal","message":"internal error"}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
