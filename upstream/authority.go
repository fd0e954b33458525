// Package upstream talks to the remote identity authority the auth proxy
// delegates credential issuance to.
package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/election-session/internal/config"
	"github.com/jrsteele09/election-session/internal/errors"
	"github.com/jrsteele09/election-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Tokens is a credential pair issued by the authority.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Authority is an OIDC provider reached with the resource owner password
// grant.
type Authority struct {
	provider      *oidc.Provider
	oauth         *oauth2.Config
	revocationURL string
	httpClient    *http.Client
	log           zerolog.Logger
}

// Option configures an Authority.
type Option func(*Authority)

// WithHTTPClient sets the client used for every upstream call.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Authority) {
		a.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Authority) {
		a.log = l
	}
}

// providerClaims are the discovery fields go-oidc does not expose directly.
type providerClaims struct {
	RevocationEndpoint string `json:"revocation_endpoint"`
}

// NewAuthority discovers the provider at the configured issuer.
func NewAuthority(ctx context.Context, cfg config.UpstreamConfig, options ...Option) (*Authority, error) {
	if cfg == nil {
		return nil, errors.New("[upstream.NewAuthority] config is required")
	}
	issuer := cfg.GetIssuerURL()
	if issuer == "" {
		return nil, errors.New("[upstream.NewAuthority] issuer URL is required")
	}

	a := &Authority{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.Logger.With().Str("component", "upstream").Logger(),
	}
	for _, opt := range options {
		opt(a)
	}

	provider, err := oidc.NewProvider(a.context(ctx), issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[upstream.NewAuthority] failed to create OIDC provider")
	}
	var claims providerClaims
	if err := provider.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[upstream.NewAuthority] failed to read provider metadata")
	}

	a.provider = provider
	a.revocationURL = claims.RevocationEndpoint
	a.oauth = &oauth2.Config{
		ClientID:     cfg.GetClientID(),
		ClientSecret: cfg.GetClientSecret(),
		Endpoint:     provider.Endpoint(),
		Scopes:       cfg.GetScopes(),
	}
	a.log.Info().Str("issuer", issuer).Bool("revocation", a.revocationURL != "").Msg("upstream authority discovered")
	return a, nil
}

// PasswordLogin exchanges account credentials for a token pair.
func (a *Authority) PasswordLogin(ctx context.Context, email, password string) (*Tokens, error) {
	tok, err := a.oauth.PasswordCredentialsToken(a.context(ctx), email, password)
	if err != nil {
		return nil, mapError("upstream.PasswordLogin", err)
	}
	return tokensOf(tok)
}

// Refresh redeems refreshToken. When the authority does not rotate, the
// returned pair carries the original refresh token.
func (a *Authority) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, errors.ErrNoRefreshCredential
	}
	src := a.oauth.TokenSource(a.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapError("upstream.Refresh", err)
	}
	return tokensOf(tok)
}

type profileClaims struct {
	Name   string           `json:"name"`
	Role   users.RoleType   `json:"role"`
	Status users.StatusType `json:"status"`
}

// UserInfo resolves the principal an access token belongs to. It doubles as
// the token verification call.
func (a *Authority) UserInfo(ctx context.Context, accessToken string) (*users.Principal, error) {
	if accessToken == "" {
		return nil, errors.ErrUnauthenticated
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := a.provider.UserInfo(a.context(ctx), src)
	if err != nil {
		return nil, mapError("upstream.UserInfo", err)
	}

	var claims profileClaims
	if err := info.Claims(&claims); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedResponse, "[upstream.UserInfo] %v", err)
	}
	p := &users.Principal{
		ID:          info.Subject,
		Email:       info.Email,
		Role:        claims.Role,
		Status:      claims.Status,
		DisplayName: claims.Name,
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedResponse, "[upstream.UserInfo] %v", err)
	}
	return p, nil
}

// Revoke invalidates token at the authority. Providers that do not advertise
// a revocation endpoint make this a no-op.
func (a *Authority) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if a.revocationURL == "" {
		a.log.Debug().Msg("provider has no revocation endpoint")
		return nil
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "refresh_token")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "[upstream.Revoke]")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(a.oauth.ClientID), url.QueryEscape(a.oauth.ClientSecret))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return errors.NewStatusError("upstream.Revoke", resp.StatusCode, oauthErrorCode(body))
}

func (a *Authority) context(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, a.httpClient)
}

func tokensOf(tok *oauth2.Token) (*Tokens, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.Wrap(errors.ErrMalformedResponse, "token response without access token")
	}
	return &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// mapError turns oauth2 and go-oidc failures into status-coded errors so
// callers can classify them.
func mapError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := http.StatusBadGateway
		if re.Response != nil {
			code = re.Response.StatusCode
		}
		msg := re.ErrorCode
		if msg == "" {
			msg = oauthErrorCode(re.Body)
		}
		return errors.NewStatusError(op, code, msg)
	}

	// go-oidc reports a failed userinfo call as "<status>: <body>".
	msg := err.Error()
	if len(msg) >= 3 {
		if code, convErr := strconv.Atoi(msg[:3]); convErr == nil && code >= 400 && code < 600 {
			return errors.NewStatusError(op, code, http.StatusText(code))
		}
	}
	return errors.Wrapf(err, "[%s]", op)
}

func oauthErrorCode(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		return e.Error
	}
	return ""
}
