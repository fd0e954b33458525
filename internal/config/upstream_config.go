package config

import "strings"

// UpstreamConfig describes the remote authority the auth proxy delegates to.
type UpstreamConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetSecureCookies() bool
}

type Upstream struct {
	file upstreamFile
}

var _ UpstreamConfig = Upstream{}

func (u Upstream) GetIssuerURL() string {
	return GetEnv("OIDC_ISSUER_URL", u.file.IssuerURL)
}

func (u Upstream) GetClientID() string {
	def := u.file.ClientID
	if def == "" {
		def = "election-admin"
	}
	return GetEnv("OIDC_CLIENT_ID", def)
}

func (u Upstream) GetClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", u.file.ClientSecret)
}

func (u Upstream) GetScopes() []string {
	def := strings.Join(u.file.Scopes, " ")
	if def == "" {
		def = "openid profile email offline_access"
	}
	return strings.Fields(GetEnv("OIDC_SCOPES", def))
}

// GetSecureCookies is false only in DEV, where the portal runs over http.
func (u Upstream) GetSecureCookies() bool {
	return EnvVars{}.GetEnv() != "DEV"
}
