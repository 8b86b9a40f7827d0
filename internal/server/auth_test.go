package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthMiddleware_Disabled(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	authMiddleware("", okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 when auth disabled, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		header        string
		wantStatus    int
		wantMessage   string
		wantChallenge string
	}{
		{"valid", "Bearer secret", http.StatusOK, "", ""},
		{"lowercase scheme", "bearer secret", http.StatusOK, "", ""},
		{"missing header", "", http.StatusUnauthorized, "authorization required", `realm="pdfrag"`},
		{"wrong token", "Bearer wrong-token", http.StatusUnauthorized, "invalid token", "invalid_token"},
		{"prefix of key", "Bearer secre", http.StatusUnauthorized, "invalid token", "invalid_token"},
		{"key plus suffix", "Bearer secret2", http.StatusUnauthorized, "invalid token", "invalid_token"},
		{"case differs", "Bearer SECRET", http.StatusUnauthorized, "invalid token", "invalid_token"},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "authorization required", `realm="pdfrag"`},
	}

	h := authMiddleware("secret", okHandler)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/api/documents/abc", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, w.Code)
			}
			if tc.wantStatus == http.StatusOK {
				return
			}
			if got := w.Header().Get("WWW-Authenticate"); !strings.Contains(got, tc.wantChallenge) {
				t.Errorf("WWW-Authenticate: expected %q in %q", tc.wantChallenge, got)
			}
			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Message != tc.wantMessage {
				t.Errorf("message: expected %q, got %q", tc.wantMessage, body.Message)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer mytoken", "mytoken"},
		{"BEARER mytoken", "mytoken"},
		{"Bearer  spaced ", "spaced"},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
		{"Bearer", ""},
		{"token only", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(req); got != tc.want {
			t.Errorf("header=%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
