// Package auth implements the auth broker: acquiring an OIDC identity
// token for the model-facing endpoint and a session cookie via
// POST /login, refreshed together on demand. In local mode both are
// no-ops.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
)

// Credentials is the resolved pair of credentials a Broker produces:
// an OIDC identity token (sent as a bearer token to the model endpoint)
// and a session cookie jar (used by the batch HTTP client).
type Credentials struct {
	IDToken string
	Jar     http.CookieJar
}

// Broker acquires and refreshes both credentials. In local mode, Refresh
// is a no-op and callers must tolerate the absence of both credentials.
type Broker struct {
	local bool

	modelAudience      string
	metadataTokenURL   string
	loginURL           string
	servicePasswordEnv string

	httpClient *http.Client
}

// New builds a Broker. If local is true, Refresh always returns empty
// Credentials with no error.
func New(local bool, modelAudience, metadataTokenURL, loginURL, servicePasswordEnv string, httpClient *http.Client) *Broker {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Broker{
		local:              local,
		modelAudience:      modelAudience,
		metadataTokenURL:   metadataTokenURL,
		loginURL:           loginURL,
		servicePasswordEnv: servicePasswordEnv,
		httpClient:         httpClient,
	}
}

// Refresh performs both credential acquisitions in order: the OIDC
// identity token first, then the session-cookie login. In local mode both
// are skipped.
func (b *Broker) Refresh(ctx context.Context) (Credentials, error) {
	if b.local {
		return Credentials{}, nil
	}

	token, err := b.fetchIDToken(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("fetching OIDC identity token: %w", err)
	}

	jar, err := b.login(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("logging in for session cookie: %w", err)
	}

	return Credentials{IDToken: token, Jar: jar}, nil
}

// fetchIDToken requests an OIDC identity token scoped to the model
// endpoint's URL from the platform metadata/ADC server.
func (b *Broker) fetchIDToken(ctx context.Context) (string, error) {
	if b.metadataTokenURL == "" {
		return "", nil
	}
	url := b.metadataTokenURL + "?audience=" + b.modelAudience
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata server returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// login posts the service password to /login and returns the resulting
// cookie jar, populated from the response's Set-Cookie headers.
func (b *Broker) login(ctx context.Context) (http.CookieJar, error) {
	if b.loginURL == "" {
		return nil, nil
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	password := os.Getenv(b.servicePasswordEnv)
	body := strings.NewReader("password=" + password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.loginURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Jar: jar, Transport: b.httpClient.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login returned %d", resp.StatusCode)
	}
	return jar, nil
}
