package keyholder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SiwatS/chronocrypt-kms/internal/model"
)

// ClientConfig configures the HTTP client to a remote key-holder.
type ClientConfig struct {
	BaseURL string
	Secret  string        // shared HMAC secret for service tokens
	Timeout time.Duration // per-call ceiling; zero means 10s
}

// Client talks to a remote key-holder over HTTP. Each call carries a
// short-lived HS256 service token so the key-holder can authenticate the
// console without shared session state.
type Client struct {
	baseURL string
	secret  []byte
	http    *http.Client
}

// NewClient creates a key-holder client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		secret:  []byte(cfg.Secret),
		http:    &http.Client{Timeout: timeout},
	}
}

// Authorize submits the request to the key-holder's authorize endpoint and
// decodes its decision. The client timeout bounds the call; the console never
// waits on the key-holder indefinitely.
func (c *Client) Authorize(ctx context.Context, req model.AccessRequest) (*Decision, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal authorize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/authorize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build authorize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	token, err := c.serviceToken()
	if err != nil {
		return nil, fmt.Errorf("sign service token: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("key-holder call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("key-holder returned %d: %s", resp.StatusCode, snippet)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return nil, fmt.Errorf("decode key-holder decision: %w", err)
	}
	return &decision, nil
}

// Ping checks key-holder reachability for the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("key-holder ping: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key-holder ping returned %d", resp.StatusCode)
	}
	return nil
}

// serviceToken mints a 30-second HS256 token identifying the console.
func (c *Client) serviceToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    "chronocrypt-console",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(30 * time.Second)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}
