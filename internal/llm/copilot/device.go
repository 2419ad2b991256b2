package copilot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/codemesh/codemesh/internal/credentials"
	"github.com/codemesh/codemesh/internal/errs"
)

// GitHub Copilot Chat's published OAuth app identity and endpoints
// (§12, from the original device-code + token-exchange flow).
const (
	clientID       = "Iv1.b507a08c87ecfe98"
	deviceAuthURL  = "https://github.com/login/device/code"
	tokenURL       = "https://github.com/login/oauth/access_token"
	defaultAPIBase = "https://api.githubcopilot.com"
	userAgent      = "GitHubCopilotChat/0.26.7"
	editorVersion  = "vscode/1.99.3"
	editorPlugin   = "copilot-chat/0.26.7"
)

// copilotTokenURL is a var, not a const, so tests can point it at a
// local server instead of GitHub's live API.
var copilotTokenURL = "https://api.github.com/copilot_internal/v2/token"

func deviceConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: deviceAuthURL,
			TokenURL:      tokenURL,
		},
		Scopes: []string{"read:user"},
	}
}

// StartDeviceFlow begins the device-code flow, returning the code the
// caller must show the user and the verification URL to visit.
func StartDeviceFlow(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	resp, err := deviceConfig().DeviceAuth(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Network, err, "copilot device code request failed")
	}
	return resp, nil
}

// WaitForDeviceToken blocks, polling at the interval the device response
// specified, until the user approves the device code (or it expires).
// The returned token is a GitHub user token, not yet a Copilot API token.
func WaitForDeviceToken(ctx context.Context, da *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	token, err := deviceConfig().DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, errs.Wrap(errs.AuthenticationFailed, err, "copilot device token exchange failed")
	}
	return token, nil
}

// copilotTokenResponse is the wire shape of the internal Copilot token
// exchange: a GitHub user token is traded for a short-lived API token
// scoped to Copilot's own backend.
type copilotTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	RefreshIn int64  `json:"refresh_in"`
	Endpoints struct {
		API string `json:"api"`
	} `json:"endpoints"`
}

// ExchangeGitHubToken trades githubToken for a Copilot API credential.
// The GitHub token itself is kept as the stored RefreshToken so the
// credential can be re-exchanged once the short-lived API token expires
// (Copilot API tokens typically live under an hour).
func ExchangeGitHubToken(ctx context.Context, httpClient *http.Client, githubToken string) (credentials.Credential, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, copilotTokenURL, nil)
	if err != nil {
		return credentials.Credential{}, "", errs.Wrap(errs.Other, err, "build copilot token request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+githubToken)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Editor-Version", editorVersion)
	req.Header.Set("Editor-Plugin-Version", editorPlugin)

	resp, err := httpClient.Do(req)
	if err != nil {
		return credentials.Credential{}, "", errs.Wrap(errs.Network, err, "copilot token request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return credentials.Credential{}, "", errs.Wrap(errs.Network, err, "read copilot token response")
	}
	if resp.StatusCode >= 300 {
		return credentials.Credential{}, "", errs.New(errs.AuthenticationFailed, "copilot token exchange failed")
	}

	var parsed copilotTokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return credentials.Credential{}, "", errs.Wrap(errs.Provider, err, "decode copilot token response")
	}

	expiresAt := time.Unix(parsed.ExpiresAt, 0)
	apiBase := parsed.Endpoints.API
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return credentials.OAuthCredential(parsed.Token, githubToken, &expiresAt), apiBase, nil
}
