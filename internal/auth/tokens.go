package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenPair holds the access/refresh token pair issued by the API.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Valid reports whether both tokens are present.
func (t TokenPair) Valid() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}

// AccessExpired reports whether the access token is a JWT whose exp claim
// has passed (with a small skew margin). Opaque tokens are never treated
// as expired locally; the server's 401 decides for those.
func (t TokenPair) AccessExpired(now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(t.AccessToken, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return now.After(claims.ExpiresAt.Time.Add(-10 * time.Second))
}

// UserID extracts the subject claim from the access token. Returns ""
// for opaque tokens; callers fall back to the id from the connection
// handshake.
func (t TokenPair) UserID() string {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.AccessToken, &claims); err != nil {
		return ""
	}
	return claims.Subject
}

// LoadCredentials reads a token pair from the session credentials file.
func LoadCredentials(path string) (TokenPair, error) {
	var pair TokenPair
	data, err := os.ReadFile(path)
	if err != nil {
		return pair, err
	}
	if err := json.Unmarshal(data, &pair); err != nil {
		return pair, fmt.Errorf("parse credentials: %w", err)
	}
	return pair, nil
}

// SaveCredentials writes a token pair to the session credentials file with
// 0600 permissions, creating parent dirs as needed.
func SaveCredentials(path string, pair TokenPair) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(pair, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
