package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// RequireUser rejects requests without a valid bearer token: 401 when the
// token is missing or expired, 403 when it is invalid.
func (v *Verifier) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := v.Verify(BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			switch {
			case errors.Is(err, ErrMissingToken):
				writeJSONError(w, http.StatusUnauthorized, "Access denied, no token provided")
			case errors.Is(err, ErrTokenExpired):
				writeJSONError(w, http.StatusUnauthorized, "Token expired")
			default:
				writeJSONError(w, http.StatusForbidden, "Invalid token")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireAdmin must run after RequireUser.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil || !claims.Admin {
			writeJSONError(w, http.StatusForbidden, "Administrator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
