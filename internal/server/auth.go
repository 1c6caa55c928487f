package server

import (
	"crypto/subtle"
	"os"
	"strings"

	"github.com/soyeahso/chatterbox/internal/config"
)

// Auth modes.
const (
	AuthModeNone  = "none"
	AuthModeToken = "token"
)

// TokenEnv is consulted when the config carries no token.
const TokenEnv = "CHATTERBOX_AUTH_TOKEN"

// ResolvedAuth holds the effective auth settings.
type ResolvedAuth struct {
	Mode  string
	Token string
}

// ResolveAuth resolves credentials from config, then the environment.
// With no mode set, a token anywhere turns token auth on.
func ResolveAuth(cfg config.ServerAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token}
	if auth.Token == "" {
		auth.Token = os.Getenv(TokenEnv)
	}
	if auth.Mode == "" {
		if auth.Token != "" {
			auth.Mode = AuthModeToken
		} else {
			auth.Mode = AuthModeNone
		}
	}
	return auth
}

// Authorize checks an Authorization header value against the resolved
// settings. It returns an empty reason on success.
func Authorize(auth ResolvedAuth, header string) (ok bool, reason string) {
	switch auth.Mode {
	case AuthModeNone:
		return true, ""
	case AuthModeToken:
		if auth.Token == "" {
			return false, "server token not configured"
		}
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			return false, "bearer token required"
		}
		if !safeEqual(token, auth.Token) {
			return false, "token mismatch"
		}
		return true, ""
	default:
		return false, "unknown auth mode: " + auth.Mode
	}
}

// safeEqual compares in constant time without leaking the secret length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
