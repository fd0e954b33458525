package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/jrsteele09/election-session/users"
)

// CredentialSource supplies the bearer credential sent with each call.
// credentials.Store satisfies it.
type CredentialSource interface {
	AccessCredential() (string, bool)
}

// Client talks to the same-origin auth proxy.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials CredentialSource
}

var _ Gateway = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithJar makes the client carry the proxy's cookies.
func WithJar(jar http.CookieJar) ClientOption {
	return func(c *Client) {
		c.httpClient.Jar = jar
	}
}

// WithCredentials adds an Authorization header from src to every call.
func WithCredentials(src CredentialSource) ClientOption {
	return func(c *Client) {
		c.credentials = src
	}
}

// NewClient creates a client for the proxy at baseURL.
func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[gateway.NewClient] base url is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*Result, error) {
	var res Result
	if err := c.do(ctx, "login", http.MethodPost, RouteLogin, LoginRequest{Email: email, Password: password}, &res); err != nil {
		return nil, err
	}
	if err := res.ValidateLogin(); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Refresh(ctx context.Context, refreshCredential string) (*Result, error) {
	var res Result
	if err := c.do(ctx, "refresh", http.MethodPost, RouteRefresh, RefreshRequest{RefreshCredential: refreshCredential}, &res); err != nil {
		return nil, err
	}
	if err := res.ValidateRefresh(); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Verify(ctx context.Context) (bool, error) {
	var res VerifyResponse
	err := c.do(ctx, "verify", http.MethodGet, RouteVerify, nil, &res)
	if err != nil {
		if errors.KindOf(err) == errors.KindAuthentication {
			var se *errors.StatusError
			if errors.As(err, &se) {
				return false, nil
			}
		}
		return false, err
	}
	return res.Valid, nil
}

func (c *Client) GetProfile(ctx context.Context) (*users.Principal, error) {
	var p users.Principal
	if err := c.do(ctx, "me", http.MethodGet, RouteMe, nil, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedResponse, "profile: %v", err)
	}
	return &p, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, "logout", http.MethodPost, RouteLogout, nil, nil)
}

// Probe asks the proxy whether the browsing context holds a credential
// cookie, for clients that cannot read HttpOnly cookies themselves.
func (c *Client) Probe(ctx context.Context) (bool, error) {
	var res ProbeResponse
	if err := c.do(ctx, "probe", http.MethodGet, RouteProbe, nil, &res); err != nil {
		return false, err
	}
	return res.HasCredential, nil
}

func (c *Client) do(ctx context.Context, op, method, route string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "[gateway.%s] encode request", op)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, reader)
	if err != nil {
		return errors.Wrapf(err, "[gateway.%s] build request", op)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.credentials != nil {
		if access, ok := c.credentials.AccessCredential(); ok {
			req.Header.Set("Authorization", "Bearer "+access)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "[gateway.%s]", op)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return errors.NewStatusError("gateway."+op, resp.StatusCode, e.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(errors.ErrMalformedResponse, "[gateway.%s] decode answer: %v", op, err)
	}
	return nil
}
