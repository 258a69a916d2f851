package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned by a TokenSource that has no credential.
	ErrNoToken = errors.New("no identity token available")

	// ErrTokenExpired is returned when a token's exp claim has passed.
	ErrTokenExpired = errors.New("identity token expired")
)

// TokenSource supplies the caller's identity token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource with a fixed token.
type StaticToken string

// Token returns the fixed token, or ErrNoToken when it is empty.
func (s StaticToken) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// FileToken reads the token from a file on every call so that a refreshed
// token is picked up without restarting the watcher.
type FileToken struct {
	Path string
}

// Token returns the file's trimmed content.
func (f FileToken) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return StaticToken(data).Token(context.Background())
}

// CheckExpiry reads the exp claim without verifying the signature. The
// client holds no key, so this only saves a round trip that would fail.
// Tokens that are not JWTs, or carry no exp, pass.
func CheckExpiry(token string, now time.Time) error {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return ErrTokenExpired
	}
	return nil
}
