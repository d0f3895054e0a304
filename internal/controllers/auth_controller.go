package controllers

import (
	"crypto/subtle"
	"net/http"

	"github.com/RealZimboGuy/convoflow/internal/config"
)

// AuthController guards the HTTP api with a static api key. The identity
// of end users is carried in request payloads by the host conversational
// layer; this only authenticates the host itself.
type AuthController struct{}

func (ac *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expected := config.GetSystemSettingString(config.API_KEY)
		if expected == "" {
			// no key configured, auth disabled (dev mode)
			next(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" && subtle.ConstantTimeCompare([]byte(apiKey), []byte(expected)) == 1 {
			next(w, r)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}
