package charai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"tokenmill/internal/config"
)

// Client performs the individual network exchanges of the Character.AI
// magic-link login flow. It holds no per-login state; the Handshake
// threads values like the polling UUID and edge rollout between calls.
type Client struct {
	baseURL         string
	identityBaseURL string
	plusBaseURL     string
	identityKey     string
	userAgent       string
	http            *http.Client
}

var edgeRolloutRe = regexp.MustCompile(`edge_rollout=(\d+)`)

// NewClient constructs a Client from the characterai config section.
func NewClient(cfg config.CharacterAIConfig) *Client {
	return &Client{
		baseURL:         cfg.BaseURL,
		identityBaseURL: cfg.IdentityBaseURL,
		plusBaseURL:     cfg.PlusBaseURL,
		identityKey:     cfg.IdentityKey,
		userAgent:       cfg.UserAgent,
		http:            &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchEdgeRollout fetches the landing page and extracts the
// edge_rollout cookie value if present. The value improves polling
// reliability but is not required, so any failure degrades to "".
func (c *Client) FetchEdgeRollout(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	for _, cookie := range resp.Header.Values("Set-Cookie") {
		if m := edgeRolloutRe.FindStringSubmatch(cookie); m != nil {
			return m[1]
		}
	}
	return ""
}

// InitiateLogin asks the service to email a magic link and returns the
// polling UUID used to watch for the click.
func (c *Client) InitiateLogin(ctx context.Context, email string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"0": map[string]any{"json": map[string]string{"email": email}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/trpc/auth.login?batch=1", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("login request failed: %d", resp.StatusCode)
	}

	// Batched tRPC response: [{"result":{"data":{"json":"<uuid>"}}}]
	var decoded []struct {
		Result struct {
			Data struct {
				JSON string `json:"json"`
			} `json:"data"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", ErrInvalidEmail
	}
	if len(decoded) == 0 || decoded[0].Result.Data.JSON == "" {
		return "", ErrInvalidEmail
	}
	return decoded[0].Result.Data.JSON, nil
}

// PollOnce asks whether the magic link has been clicked yet. Any
// transport error or unexpected response counts as "not yet"; the
// Handshake owns the retry budget.
func (c *Client) PollOnce(ctx context.Context, pollingUUID, edgeRollout string) (magicLink string, done bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/login/polling/?uuid="+url.QueryEscape(pollingUUID), nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.baseURL+"/")
	req.Header.Set("Origin", c.baseURL)
	if edgeRollout != "" {
		req.Header.Set("Cookie", "edge_rollout="+edgeRollout)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false
	}

	var decoded struct {
		Result string `json:"result"`
		Value  string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", false
	}
	if decoded.Result == "done" && decoded.Value != "" {
		return decoded.Value, true
	}
	return "", false
}

// ExchangeMagicLink redeems the magic link's one-time oobCode with the
// identity provider and returns the resulting ID token.
func (c *Client) ExchangeMagicLink(ctx context.Context, magicLink, email string) (string, error) {
	parsed, err := url.Parse(magicLink)
	if err != nil {
		return "", ErrMalformedLink
	}
	oobCode := parsed.Query().Get("oobCode")
	if oobCode == "" {
		return "", ErrMalformedLink
	}

	body, err := json.Marshal(map[string]string{
		"email":   email,
		"oobCode": oobCode,
	})
	if err != nil {
		return "", err
	}

	endpoint := c.identityBaseURL + "/v1/accounts:signInWithEmailLink?key=" + url.QueryEscape(c.identityKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("identity provider auth failed: %d", resp.StatusCode)
	}

	var decoded struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("identity provider auth failed: %w", err)
	}
	if decoded.IDToken == "" {
		return "", fmt.Errorf("identity provider auth failed: missing idToken")
	}
	return decoded.IDToken, nil
}

// ExchangeForToken trades the identity assertion for the final
// Character.AI bearer token.
func (c *Client) ExchangeForToken(ctx context.Context, idToken string) (string, error) {
	body, err := json.Marshal(map[string]string{"id_token": idToken})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.plusBaseURL+"/dj-rest-auth/google_idp/", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("character.ai auth failed: %d", resp.StatusCode)
	}

	var decoded struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("character.ai auth failed: %w", err)
	}
	if decoded.Key == "" {
		return "", fmt.Errorf("character.ai auth failed: missing auth token")
	}
	return decoded.Key, nil
}
