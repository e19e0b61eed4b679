package rest

import (
	"context"
	"net/http"

	"github.com/gfreires/feira/internal/auth"
	"go.uber.org/zap"
)

// AuthClient talks to the token endpoints. It deliberately does not use
// the authenticated transport: the refresh endpoint is called by that
// transport, and routing it back through would recurse.
type AuthClient struct {
	client *Client
}

// NewAuthClient creates a client for login and token refresh.
func NewAuthClient(baseURL string, logger *zap.Logger) *AuthClient {
	return &AuthClient{client: NewClient(baseURL, nil, logger)}
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

// Login exchanges credentials for a token pair.
func (a *AuthClient) Login(ctx context.Context, email, password string) (auth.TokenPair, string, error) {
	req := map[string]string{"email": email, "password": password}
	var resp tokenResponse
	if err := a.client.postJSON(ctx, "/api/auth/login", req, &resp, http.StatusOK); err != nil {
		return auth.TokenPair{}, "", err
	}
	return auth.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, resp.UserID, nil
}

// Refresh exchanges a refresh token for a new pair. The server rotates
// the refresh token on every call.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	req := map[string]string{"refreshToken": refreshToken}
	var resp tokenResponse
	if err := a.client.postJSON(ctx, "/api/auth/refresh", req, &resp, http.StatusOK); err != nil {
		return auth.TokenPair{}, err
	}
	return auth.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

// RefreshFunc adapts the client to the token source's refresh hook.
func (a *AuthClient) RefreshFunc() auth.RefreshFunc {
	return func(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
		return a.Refresh(ctx, refreshToken)
	}
}
