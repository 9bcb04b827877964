package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider supplies the current bearer token. An empty string means none.
type Provider interface {
	CurrentToken() string
	// Changes delivers every new token value, including "" on sign-out.
	Changes() <-chan string
}

// Static holds a token set by the caller (CLI, tests).
type Static struct {
	mu      sync.RWMutex
	token   string
	changes chan string
}

func NewStatic(token string) *Static {
	return &Static{token: strings.TrimSpace(token), changes: make(chan string, 8)}
}

func (s *Static) CurrentToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Static) Changes() <-chan string { return s.changes }

// Set replaces the token and emits a change when it differs. Slow readers
// lose intermediate values, never the latest one.
func (s *Static) Set(token string) {
	token = strings.TrimSpace(token)
	s.mu.Lock()
	if s.token == token {
		s.mu.Unlock()
		return
	}
	s.token = token
	s.mu.Unlock()
	for {
		select {
		case s.changes <- token:
			return
		default:
		}
		select {
		case <-s.changes:
		default:
		}
	}
}

// ExpiresAt reads the exp claim without verifying the signature; the server
// verifies. ok is false for opaque or exp-less tokens.
func ExpiresAt(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether token carries an exp claim in the past.
func Expired(token string, now time.Time) bool {
	exp, ok := ExpiresAt(token)
	return ok && !now.Before(exp)
}
