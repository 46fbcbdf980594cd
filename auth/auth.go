// Package auth obtains service tokens for calls to the backend.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ClientCred fetches and caches a client-credentials access token. It is
// safe for concurrent use.
type ClientCred struct {
	src oauth2.TokenSource
}

// NewClientCred builds a token source from conf. Tokens are fetched lazily
// and refreshed when they expire.
func NewClientCred(conf Conf) *ClientCred {
	cc := conf.toOauth2Config()
	return &ClientCred{src: oauth2.ReuseTokenSource(nil, cc.TokenSource(context.Background()))}
}

// GetToken returns a valid access token, requesting a new one when the cached
// token expired.
func (c *ClientCred) GetToken() (string, error) {
	tok, err := c.src.Token()
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	return tok.AccessToken, nil
}

// SetAuthHeader sets the Authorization header of r with a valid token.
func (c *ClientCred) SetAuthHeader(r *http.Request) error {
	tok, err := c.src.Token()
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	tok.SetAuthHeader(r)
	return nil
}
