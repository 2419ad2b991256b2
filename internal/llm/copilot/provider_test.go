package copilot

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/codemesh/codemesh/internal/credentials"
)

func TestExchangeGitHubTokenParsesEndpointAndExpiry(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer gh-token" {
			t.Fatalf("Authorization = %q", got)
		}
		if got := r.Header.Get("Editor-Version"); got != editorVersion {
			t.Fatalf("Editor-Version = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"copilot-token","expires_at":` + strconv.FormatInt(expiresAt, 10) + `,"endpoints":{"api":"https://copilot.example.com"}}`))
	}))
	defer server.Close()

	orig := copilotTokenURL
	copilotTokenURL = server.URL
	t.Cleanup(func() { copilotTokenURL = orig })

	cred, apiBase, err := ExchangeGitHubToken(t.Context(), server.Client(), "gh-token")
	if err != nil {
		t.Fatalf("ExchangeGitHubToken: %v", err)
	}
	if cred.Kind != credentials.KindOAuth || cred.AccessToken != "copilot-token" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if cred.RefreshToken != "gh-token" {
		t.Fatalf("expected github token preserved as refresh token, got %q", cred.RefreshToken)
	}
	if apiBase != "https://copilot.example.com" {
		t.Fatalf("apiBase = %q", apiBase)
	}
}

func TestExchangeGitHubTokenFallsBackToDefaultAPIBase(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"copilot-token","expires_at":` + strconv.FormatInt(expiresAt, 10) + `}`))
	}))
	defer server.Close()

	orig := copilotTokenURL
	copilotTokenURL = server.URL
	t.Cleanup(func() { copilotTokenURL = orig })

	_, apiBase, err := ExchangeGitHubToken(t.Context(), server.Client(), "gh-token")
	if err != nil {
		t.Fatalf("ExchangeGitHubToken: %v", err)
	}
	if apiBase != defaultAPIBase {
		t.Fatalf("apiBase = %q, want default %q", apiBase, defaultAPIBase)
	}
}
