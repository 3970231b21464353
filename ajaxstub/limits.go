package ajaxstub

import (
	"net/http"
	"strings"
)

// MaxFormBody is the largest form body the stub parses (1 MiB).
const MaxFormBody int64 = 1 << 20

// maxFormBody caps form-encoded request bodies. Other content types pass
// through.
func maxFormBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
