package api

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

	"github.com/coachlink/coachlink/internal/auth"
	"go.uber.org/zap"
)

// APIError is a business error surfaced by the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
}

// Client talks to the marketplace REST API. It injects the bearer token from
// the session manager and transparently refreshes once on 401.
type Client struct {
	baseURL string
	http    *http.Client
	session *auth.Manager
	logger  *zap.Logger
}

// New creates a REST client against baseURL.
func New(baseURL string, timeout time.Duration, session *auth.Manager, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		session: session,
		logger:  logger,
	}
}

// envelope is the backend's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	User         auth.User `json:"user"`
}

// Login authenticates with credentials and stores the resulting session.
func (c *Client) Login(ctx context.Context, email, password string) (auth.User, error) {
	var res tokenResponse
	err := c.do(ctx, http.MethodPost, "/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &res, false)
	if err != nil {
		return auth.User{}, err
	}
	tokens := auth.TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}
	if err := c.session.SetSession(tokens, res.User); err != nil {
		return auth.User{}, err
	}
	return res.User, nil
}

// Register creates an account and stores the resulting session.
func (c *Client) Register(ctx context.Context, name, email, password, role string) (auth.User, error) {
	var res tokenResponse
	err := c.do(ctx, http.MethodPost, "/v1/auth/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
		"role":     role,
	}, &res, false)
	if err != nil {
		return auth.User{}, err
	}
	tokens := auth.TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}
	if err := c.session.SetSession(tokens, res.User); err != nil {
		return auth.User{}, err
	}
	return res.User, nil
}

// Refresh exchanges the refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context) error {
	refresh := c.session.RefreshToken()
	if refresh == "" {
		return &APIError{Status: http.StatusUnauthorized, Message: "no refresh token"}
	}
	var res tokenResponse
	err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", map[string]string{
		"refresh_token": refresh,
	}, &res, false)
	if err != nil {
		return err
	}
	return c.session.UpdateTokens(auth.TokenPair{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	})
}

// Logout invalidates the session server-side, then clears it locally. Local
// state is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/v1/auth/logout", nil, nil, true)
	if clearErr := c.session.Clear(); clearErr != nil {
		return clearErr
	}
	return err
}

// EnsureFresh refreshes the token pair when the access token is close to
// expiry. Call before long-lived operations like Establish.
func (c *Client) EnsureFresh(ctx context.Context) error {
	if !c.session.Authenticated() {
		return &APIError{Status: http.StatusUnauthorized, Message: "not authenticated"}
	}
	if c.session.ExpiresWithin(2 * time.Minute) {
		return c.Refresh(ctx)
	}
	return nil
}

// DownloadURL builds a browser-usable file URL carrying the bearer token as a
// query parameter. Some frontends trigger downloads outside our HTTP stack and
// cannot set headers.
func (c *Client) DownloadURL(fileID string) string {
	return fmt.Sprintf("%s/v1/files/%s?token=%s", c.baseURL, fileID, c.session.AccessToken())
}

// do executes one JSON request. When authed is true a bearer header is set and
// a single refresh-and-retry happens on 401.
func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	retried := false
	for {
		err := c.doOnce(ctx, method, path, body, out, authed)
		var apiErr *APIError
		if authed && !retried && errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			retried = true
			c.logger.Info("access token rejected, refreshing", zap.String("path", path))
			if refreshErr := c.Refresh(ctx); refreshErr != nil {
				return err
			}
			continue
		}
		return err
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any, authed bool) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.session.AccessToken())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
