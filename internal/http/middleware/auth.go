package middlewarex

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const defaultOperator = "admin"

// AdminAuth guards operator APIs with a shared X-Admin-Token. An empty
// configured token rejects every request. The caller may name itself with
// X-Operator-ID for audit logs.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Token")
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			operator := strings.TrimSpace(r.Header.Get("X-Operator-ID"))
			if operator == "" {
				operator = defaultOperator
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), operator)))
		})
	}
}
