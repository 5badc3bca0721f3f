// Package auth holds the session token the transport presents when dialing.
// Token issuance and refresh belong to the app's auth layer; this package
// only stores the current token and refuses to dial with an expired one.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned when the stored token's exp claim has passed.
// A handshake with an expired token is a guaranteed rejection; failing early
// keeps it from consuming a reconnection attempt.
var ErrTokenExpired = errors.New("auth: session token expired")

// TokenSource stores the current bearer token for the realtime connection.
type TokenSource struct {
	mu     sync.RWMutex
	token  string
	leeway time.Duration
}

// NewTokenSource creates a source with the given expiry leeway. A token
// expiring within the leeway is treated as already expired.
func NewTokenSource(leeway time.Duration) *TokenSource {
	return &TokenSource{leeway: leeway}
}

// Set replaces the stored token. Called by the app whenever auth refreshes.
func (s *TokenSource) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Token returns the stored token after a local expiry check. An empty stored
// token is returned as-is: anonymous endpoints are the server's call.
func (s *TokenSource) Token() (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", nil
	}

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return "", fmt.Errorf("read token expiry: %w", err)
	}
	if exp != nil && time.Now().Add(s.leeway).After(exp.Time) {
		return "", ErrTokenExpired
	}
	return token, nil
}

// Header returns the HTTP header to present during the websocket handshake.
func (s *TokenSource) Header() (http.Header, error) {
	token, err := s.Token()
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h, nil
}
