package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTokenValid(t *testing.T) {
	s := NewTokenSource(30 * time.Second)
	s.Set(signedToken(t, time.Now().Add(time.Hour)))

	got, err := s.Token()
	if err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Error("got empty token")
	}

	h, err := s.Header()
	if err != nil {
		t.Fatal(err)
	}
	if auth := h.Get("Authorization"); auth != "Bearer "+got {
		t.Errorf("authorization header = %q", auth)
	}
}

func TestTokenExpired(t *testing.T) {
	s := NewTokenSource(30 * time.Second)
	s.Set(signedToken(t, time.Now().Add(-time.Minute)))

	if _, err := s.Token(); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestTokenWithinLeewayIsExpired(t *testing.T) {
	s := NewTokenSource(30 * time.Second)
	// Valid for 5 more seconds, but inside the 30s leeway.
	s.Set(signedToken(t, time.Now().Add(5*time.Second)))

	if _, err := s.Token(); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestEmptyTokenPassesThrough(t *testing.T) {
	s := NewTokenSource(30 * time.Second)

	got, err := s.Token()
	if err != nil || got != "" {
		t.Errorf("Token() = %q, %v, want empty and nil", got, err)
	}
	h, err := s.Header()
	if err != nil {
		t.Fatal(err)
	}
	if auth := h.Get("Authorization"); auth != "" {
		t.Errorf("authorization header = %q, want unset", auth)
	}
}

func TestRotatedTokenReplacesOld(t *testing.T) {
	s := NewTokenSource(30 * time.Second)
	s.Set(signedToken(t, time.Now().Add(-time.Minute)))
	if _, err := s.Token(); err == nil {
		t.Fatal("expected expired token error")
	}

	s.Set(signedToken(t, time.Now().Add(time.Hour)))
	if _, err := s.Token(); err != nil {
		t.Errorf("rotated token rejected: %v", err)
	}
}
