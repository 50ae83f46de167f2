package errors

import (
	"net/http"
	"runtime/debug"

	"github.com/copyleftdev/hmlike/internal/logging"
)

// HTTPStatus maps an error kind onto a response status. Configuration and domain
// errors are the caller's fault; engine and unclassified failures are ours.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfiguration:
		return http.StatusBadRequest
	case KindDomain:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RecoveryMiddleware returns a middleware that recovers from panics.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Recovered from panic", map[string]interface{}{
						"error":  rec,
						"stack":  string(debug.Stack()),
						"method": r.Method,
						"path":   r.URL.Path,
						"query":  r.URL.RawQuery,
					})
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
