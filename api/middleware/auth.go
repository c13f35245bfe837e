package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/angelmondragon/akua-anchor/api/responses"
	pkgerrors "github.com/angelmondragon/akua-anchor/pkg/errors"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
)

const bearerPrefix = "Bearer "

// BearerAuth guards a route with a static shared token. An empty token
// disables the check. A missing or malformed header is 401, a wrong token 403.
func BearerAuth(token string, logg *logger.Logger) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		if len(expected) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			if !strings.HasPrefix(raw, bearerPrefix) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing or invalid authorization header"))
				return
			}
			if !tokenMatches([]byte(raw[len(bearerPrefix):]), expected) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "invalid authorization token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenMatches(provided, expected []byte) bool {
	if len(provided) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(provided, expected) == 1
}
