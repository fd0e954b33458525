package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/jrsteele09/election-session/credentials"
	"github.com/jrsteele09/election-session/gateway"
	"github.com/jrsteele09/election-session/internal/errors"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	maxBodyBytes    = 1 << 16
)

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ProbeHandler tells a tab whether its browsing context holds a credential
// cookie, since the credentials themselves are HttpOnly.
func (s *Server) ProbeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		has := cookieValue(r, credentials.AccessCookie) != "" || cookieValue(r, credentials.RefreshCookie) != ""
		writeJSON(w, http.StatusOK, gateway.ProbeResponse{HasCredential: has})
	}
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.LoginRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
			writeJSONError(w, "invalid_request", http.StatusBadRequest)
			return
		}

		tokens, err := s.authority.PasswordLogin(r.Context(), req.Email, req.Password)
		if err != nil {
			s.log.Info().Err(err).Msg("login rejected")
			s.writeAuthorityError(w, err)
			return
		}
		p, err := s.authority.UserInfo(r.Context(), tokens.AccessToken)
		if err != nil {
			s.log.Warn().Err(err).Msg("profile after login failed")
			s.writeAuthorityError(w, err)
			return
		}

		s.setSessionCookies(w, r, tokens, p)
		s.log.Info().Str("user_id", p.ID).Str("role", string(p.Role)).Msg("login")
		writeJSON(w, http.StatusOK, gateway.Result{
			AccessCredential:  tokens.AccessToken,
			RefreshCredential: tokens.RefreshToken,
			Principal:         p,
		})
	}
}

// RefreshHandler redeems the refresh credential from the body, falling back
// to the refresh cookie. A refresh credential is only returned when the
// authority rotated it.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.RefreshRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && err != io.EOF {
				writeJSONError(w, "invalid_request", http.StatusBadRequest)
				return
			}
		}
		presented := req.RefreshCredential
		if presented == "" {
			presented = cookieValue(r, credentials.RefreshCookie)
		}
		if presented == "" {
			writeJSONError(w, "no_refresh_credential", http.StatusUnauthorized)
			return
		}

		tokens, err := s.authority.Refresh(r.Context(), presented)
		if err != nil {
			s.log.Info().Err(err).Msg("refresh rejected")
			s.writeAuthorityError(w, err)
			return
		}
		p, err := s.authority.UserInfo(r.Context(), tokens.AccessToken)
		if err != nil {
			s.writeAuthorityError(w, err)
			return
		}

		res := gateway.Result{AccessCredential: tokens.AccessToken, Principal: p}
		if tokens.RefreshToken == presented {
			tokens.RefreshToken = ""
		}
		res.RefreshCredential = tokens.RefreshToken
		s.setSessionCookies(w, r, tokens, p)
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) VerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		access := accessCredential(r)
		if access == "" {
			writeJSONError(w, "invalid_token", http.StatusUnauthorized)
			return
		}
		if _, err := s.authority.UserInfo(r.Context(), access); err != nil {
			s.writeAuthorityError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, gateway.VerifyResponse{Valid: true})
	}
}

func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		access := accessCredential(r)
		if access == "" {
			writeJSONError(w, "invalid_token", http.StatusUnauthorized)
			return
		}
		p, err := s.authority.UserInfo(r.Context(), access)
		if err != nil {
			s.writeAuthorityError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// LogoutHandler revokes the refresh credential on a best-effort basis and
// always clears the cookies.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if refresh := cookieValue(r, credentials.RefreshCookie); refresh != "" {
			if err := s.authority.Revoke(r.Context(), refresh); err != nil {
				s.log.Warn().Err(err).Msg("refresh credential revocation failed")
			}
		}
		s.clearSessionCookies(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeAuthorityError answers with the status a tab classifies the same way
// the authority's failure was classified.
func (s *Server) writeAuthorityError(w http.ResponseWriter, err error) {
	switch errors.KindOf(err) {
	case errors.KindTransient:
		writeJSONError(w, "upstream_unavailable", http.StatusServiceUnavailable)
	case errors.KindMalformed:
		writeJSONError(w, "upstream_malformed", http.StatusBadGateway)
	default:
		writeJSONError(w, "invalid_credentials", http.StatusUnauthorized)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, errorCode string, statusCode int) {
	writeJSON(w, statusCode, gateway.ErrorResponse{Error: errorCode})
}
