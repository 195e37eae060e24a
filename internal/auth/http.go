// ABOUTME: HTTP middleware for JWT authentication on agent endpoints
// ABOUTME: Accepts the token from the Authorization header or the token query parameter

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest returns the agent token from the ?token= query parameter,
// falling back to the Authorization header. Browsers cannot set headers on
// websocket upgrades, hence the query parameter.
func TokenFromRequest(r *http.Request) (string, string) {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, ""
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// Authenticate verifies the request's token and returns its auth context.
func Authenticate(r *http.Request, verifier TokenVerifier) (*AuthContext, string) {
	token, errMsg := TokenFromRequest(r)
	if errMsg != "" {
		return nil, errMsg
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		return nil, "invalid token"
	}
	return &AuthContext{AgentID: claims.AgentID, Username: claims.Username}, ""
}

// HTTPAuthMiddleware rejects requests without a valid agent token and adds
// the AuthContext to the request context.
func HTTPAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, errMsg := Authenticate(r, verifier)
			if errMsg != "" {
				WriteJSONError(w, http.StatusUnauthorized, errMsg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// WriteJSONError writes {"error": msg} with a JSON content type.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
