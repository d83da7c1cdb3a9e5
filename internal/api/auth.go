package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lfelipe/chirp/internal/token"
)

// Credentials is the login/register request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

// Login authenticates and persists the returned token pair.
// Returns the authenticated user ID.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, error) {
	return c.authenticate(ctx, "/auth/login", creds)
}

// Register creates an account and persists the returned token pair.
func (c *Client) Register(ctx context.Context, creds Credentials) (string, error) {
	return c.authenticate(ctx, "/auth/register", creds)
}

func (c *Client) authenticate(ctx context.Context, path string, creds Credentials) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, path, creds, "")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: %s rejected", ErrUnauthorized, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", decodeError(resp)
	}

	var body authResponse
	if err := decodeInto(resp, &body); err != nil {
		return "", err
	}
	if err := c.tokens.Save(token.Pair{AccessToken: body.AccessToken, RefreshToken: body.RefreshToken}); err != nil {
		return "", err
	}
	c.logger.Info("authenticated", zap.String("user_id", body.UserID))
	return body.UserID, nil
}

// refresher deduplicates concurrent token refreshes so a burst of 401s
// spends only one refresh-token use.
type refresher struct {
	client *Client
	group  singleflight.Group
}

func (r *refresher) refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		return r.client.doRefresh(ctx, refreshToken)
	})
	if err != nil {
		return token.Pair{}, err
	}
	return v.(token.Pair), nil
}

func (c *Client) doRefresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	body := map[string]string{"refreshToken": refreshToken}
	resp, err := c.send(ctx, http.MethodPost, "/auth/refresh", body, "")
	if err != nil {
		return token.Pair{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// Refresh token is dead. Drop the pair so the next caller
		// surfaces a clean re-login.
		_ = c.tokens.Clear()
		c.logger.Warn("refresh token rejected, cleared saved tokens")
		return token.Pair{}, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return token.Pair{}, decodeError(resp)
	}

	var ar authResponse
	if err := decodeInto(resp, &ar); err != nil {
		return token.Pair{}, err
	}
	pair := token.Pair{AccessToken: ar.AccessToken, RefreshToken: ar.RefreshToken}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	if err := c.tokens.Save(pair); err != nil {
		return token.Pair{}, err
	}
	return pair, nil
}
