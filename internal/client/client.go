// Package client is a Go client for the Nature Risk gateway. The bearer
// token lives in an injected TokenStore; nothing is kept in globals.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// ErrSessionExpired is returned when the server rejects the stored token.
// The token has already been discarded; the caller should log in again.
var ErrSessionExpired = errors.New("session expired, please log in again")

// ErrNotLoggedIn is returned by protected calls when no token is stored.
var ErrNotLoggedIn = errors.New("not logged in")

// APIError is a non-2xx response decoded from the gateway's error body.
type APIError struct {
	Status  int    `json:"-"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Type)
}

// Client talks to one gateway.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenStore
}

// New returns a client for baseURL storing its token in tokens.
func New(baseURL string, tokens TokenStore) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		Tokens:     tokens,
	}
}

// Session is the token information returned by login and verification.
type Session struct {
	Message   string    `json:"message,omitempty"`
	Token     string    `json:"token"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provision is the TOTP enrolment data.
type Provision struct {
	Secret string `json:"totp_secret"`
	URL    string `json:"otpauth_url"`
}

// Readings are the inputs of a drought prediction.
type Readings struct {
	WaterLevel  float64 `json:"water_level"`
	Rainfall    float64 `json:"rainfall"`
	Temperature float64 `json:"temperature"`
}

// Register creates an account and returns its ID.
func (c *Client) Register(ctx context.Context, username, email, password string) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	err := c.do(ctx, http.MethodPost, "/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &out)
	return out.UserID, err
}

// Login stores the password-scope token on success.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &s); err != nil {
		return nil, err
	}
	if err := c.Tokens.SetToken(s.Token); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetTOTPSecret fetches (or on first call, issues) the account's secret.
func (c *Client) GetTOTPSecret(ctx context.Context) (*Provision, error) {
	var p Provision
	if err := c.authed(ctx, http.MethodGet, "/get_totp_secret", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Verify2FA submits a code and replaces the stored token with the
// 2fa-scope token on success.
func (c *Client) Verify2FA(ctx context.Context, code string) (*Session, error) {
	var s Session
	if err := c.authed(ctx, http.MethodPost, "/verify_2fa", map[string]string{"totp_code": code}, &s); err != nil {
		return nil, err
	}
	if err := c.Tokens.SetToken(s.Token); err != nil {
		return nil, err
	}
	return &s, nil
}

// Predict returns the drought risk level for r.
func (c *Client) Predict(ctx context.Context, r Readings) (string, error) {
	var out struct {
		DroughtRisk string `json:"drought_risk"`
	}
	if err := c.authed(ctx, http.MethodPost, "/api/predict", r, &out); err != nil {
		return "", err
	}
	return out.DroughtRisk, nil
}

// Logout forgets the stored token. Tokens are stateless, so the server is
// not involved.
func (c *Client) Logout() error {
	return c.Tokens.Clear()
}

// authed performs a request with the stored token. A 401 drops the token.
func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	token, err := c.Tokens.Token()
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNotLoggedIn
	}

	err = c.do(ctx, method, path, token, body, out)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized &&
		(apiErr.Type == "token_expired" || apiErr.Type == "unauthorized") {
		if clearErr := c.Tokens.Clear(); clearErr != nil {
			return errors.Join(ErrSessionExpired, clearErr)
		}
		return ErrSessionExpired
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		// A body that isn't our error JSON still yields a usable APIError.
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
