package middleware

import (
	"net/http"

	"github.com/cloo-solutions/kbask/internal/api"
)

// MaxBodyBytes caps request bodies at limit. A request declaring a larger
// Content-Length is answered with tooLarge, or a plain 413 when tooLarge is nil,
// without reaching the handler. Bodies of unknown length are cut off at the limit
// and the handler sees *http.MaxBytesError.
func MaxBodyBytes(limit int64, tooLarge error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				if tooLarge != nil {
					api.HandleError(w, tooLarge)
				} else {
					api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				}
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
