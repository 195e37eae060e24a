// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers header and query token extraction and rejection paths

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPAuthMiddleware(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate("agent-1", "bob", time.Hour)

	tests := []struct {
		name       string
		target     string
		header     string
		wantStatus int
	}{
		{name: "bearer header", target: "/api/x", header: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "query token", target: "/ws/agent?token=" + token, wantStatus: http.StatusOK},
		{name: "missing", target: "/api/x", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", target: "/api/x", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "empty bearer", target: "/api/x", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "bad token", target: "/api/x", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *AuthContext
			handler := HTTPAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = FromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if got == nil || got.Username != "bob" || got.AgentID != "agent-1" {
					t.Errorf("auth context = %+v", got)
				}
			} else {
				if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type = %q, want application/json", ct)
				}
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
					t.Errorf("body = %q, want JSON error", rec.Body.String())
				}
			}
		})
	}
}

func TestTokenFromRequest_QueryWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/agent?token=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")

	tok, msg := TokenFromRequest(req)
	if msg != "" || tok != "from-query" {
		t.Errorf("TokenFromRequest() = %q, %q", tok, msg)
	}
}
