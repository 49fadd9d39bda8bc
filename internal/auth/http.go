// ABOUTME: Credential extraction from HTTP requests and websocket handshakes
// ABOUTME: HTTP middleware that verifies bearer tokens and adds claims to the request context

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// ErrMissingCredential is returned when a request carries no token at all.
var ErrMissingCredential = errors.New("missing credential")

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingCredential
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

// CredentialFromRequest returns the token presented on a request. The
// Authorization header wins; browsers opening a websocket cannot set headers,
// so the "token" query parameter is accepted as a fallback.
func CredentialFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		return extractBearerToken(h)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingCredential
}

// HTTPAuthMiddleware verifies the bearer token and adds the claims to the request context.
// Missing and invalid credentials produce the same 401 response.
func HTTPAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
