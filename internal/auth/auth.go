// Package auth resolves bearer tokens to user ids. Session issuance lives
// elsewhere; this service only consumes it.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is returned for missing, unknown or expired tokens.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator maps a bearer token to the id of the user it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

type staticEntry struct {
	token  []byte
	userID string
}

// StaticTokens authenticates against a fixed token list, for development
// and single-tenant deployments.
type StaticTokens struct {
	entries []staticEntry
}

// ParseStaticTokens parses "token:user_id,token:user_id".
func ParseStaticTokens(raw string) (*StaticTokens, error) {
	s := &StaticTokens{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, userID, ok := strings.Cut(pair, ":")
		token, userID = strings.TrimSpace(token), strings.TrimSpace(userID)
		if !ok || token == "" || userID == "" {
			return nil, fmt.Errorf("invalid auth token entry %q (want token:user_id)", pair)
		}
		s.entries = append(s.entries, staticEntry{token: []byte(token), userID: userID})
	}
	return s, nil
}

// Len returns the number of configured tokens.
func (s *StaticTokens) Len() int { return len(s.entries) }

// Authenticate compares against every entry so timing does not depend on
// which token matched.
func (s *StaticTokens) Authenticate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	provided := []byte(token)
	userID := ""
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(provided, e.token) == 1 {
			userID = e.userID
		}
	}
	if userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}
