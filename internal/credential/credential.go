// Package credential acquires bearer tokens for the workspace control plane.
//
// Resolution tries an ambient credential first (service principal secret,
// managed identity or a pre-issued token) and validates it by requesting a
// token for the control plane scope. Any failure there falls back to an
// interactive browser login. There is no other retry.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

var (
	ErrNoAmbientCredential  = errors.New("no ambient credential configured")
	ErrExpiredToken         = errors.New("token is expired")
	ErrInteractiveCancelled = errors.New("interactive login cancelled")
	ErrStateMismatch        = errors.New("login redirect state mismatch")
)

// Credential produces bearer tokens for a scope.
type Credential interface {
	GetToken(ctx context.Context, scope string) (*oauth2.Token, error)
}

// TokenSource adapts cred to an oauth2.TokenSource bound to one scope.
func TokenSource(ctx context.Context, cred Credential, scope string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, scopedSource{ctx: ctx, cred: cred, scope: scope})
}

type scopedSource struct {
	ctx   context.Context
	cred  Credential
	scope string
}

func (s scopedSource) Token() (*oauth2.Token, error) {
	tok, err := s.cred.GetToken(s.ctx, s.scope)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, fmt.Errorf("credential returned no token for %s", s.scope)
	}
	return tok, nil
}

// tokenCache keeps the last valid token per scope.
type tokenCache struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

func (c *tokenCache) get(scope string) (*oauth2.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[scope]
	if !ok || !tok.Valid() {
		return nil, false
	}
	return tok, true
}

func (c *tokenCache) put(scope string, tok *oauth2.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		c.tokens = make(map[string]*oauth2.Token)
	}
	c.tokens[scope] = tok
}

// checkToken rejects nil and already-expired tokens.
func checkToken(tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("empty token")
	}
	if !tok.Valid() {
		return ErrExpiredToken
	}
	return nil
}
