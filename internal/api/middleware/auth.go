package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/pkg/contracts"
	pkgmw "github.com/walletwise/walletwise/backend/pkg/middleware"
)

// AuthMiddleware authenticates requests through the provider chain and
// stores the Identity in the request context.
type AuthMiddleware struct {
	chain contracts.AuthProviderChain
}

func NewAuthMiddleware(chain contracts.AuthProviderChain) *AuthMiddleware {
	return &AuthMiddleware{chain: chain}
}

// Handler rejects requests without a valid identity.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := am.chain.Authenticate(r.Context(), r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			unauthorized(w, "authentication_failed", err.Error())
			return
		}
		if identity == nil {
			unauthorized(w, "authentication_required",
				"This endpoint requires authentication. Set Authorization: Bearer <token> or X-API-Key.")
			return
		}

		next.ServeHTTP(w, r.WithContext(pkgmw.SetIdentity(r.Context(), identity)))
	})
}

// RequireAdmin rejects identities without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !pkgmw.GetIdentity(r.Context()).IsAdmin() {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error":   "forbidden",
				"message": "admin role required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="walletwise"`)
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
