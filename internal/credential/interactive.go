package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/animus-labs/wsctl/internal/platform/httpserver"
	"github.com/animus-labs/wsctl/internal/platform/logging"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

type InteractiveOptions struct {
	Issuer       string
	ClientID     string
	LoginTimeout time.Duration
	// OpenURL launches the authorization URL; defaults to OpenBrowser.
	OpenURL func(string) error
	// Prompt receives the sign-in instructions; defaults to stderr.
	Prompt     io.Writer
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// InteractiveCredential signs the user in through the browser using the
// authorization code flow with PKCE and a loopback redirect.
type InteractiveCredential struct {
	opts  InteractiveOptions
	cache tokenCache

	mu           sync.Mutex
	provider     *oidc.Provider
	refreshToken string
}

func NewInteractiveCredential(opts InteractiveOptions) (*InteractiveCredential, error) {
	if opts.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if opts.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = 5 * time.Minute
	}
	if opts.OpenURL == nil {
		opts.OpenURL = OpenBrowser
	}
	if opts.Prompt == nil {
		opts.Prompt = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &InteractiveCredential{opts: opts}, nil
}

func (c *InteractiveCredential) GetToken(ctx context.Context, scope string) (*oauth2.Token, error) {
	if tok, ok := c.cache.get(scope); ok {
		return tok, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	provider, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	if c.refreshToken != "" {
		cfg := c.oauthConfig(provider, scope, "")
		tok, err := cfg.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: c.refreshToken}).Token()
		if err == nil {
			c.remember(scope, tok)
			return tok, nil
		}
		c.opts.Logger.Debug("refresh token rejected, signing in again", "error", err)
	}

	tok, err := c.login(ctx, provider, scope)
	if err != nil {
		return nil, err
	}
	c.remember(scope, tok)
	return tok, nil
}

func (c *InteractiveCredential) remember(scope string, tok *oauth2.Token) {
	if tok.RefreshToken != "" {
		c.refreshToken = tok.RefreshToken
	}
	c.cache.put(scope, tok)
}

func (c *InteractiveCredential) discover(ctx context.Context) (*oidc.Provider, error) {
	if c.provider != nil {
		return c.provider, nil
	}
	provider, err := oidc.NewProvider(c.clientContext(ctx), c.opts.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	c.provider = provider
	return provider, nil
}

func (c *InteractiveCredential) clientContext(ctx context.Context) context.Context {
	if c.opts.HTTPClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, c.opts.HTTPClient)
}

func (c *InteractiveCredential) oauthConfig(provider *oidc.Provider, scope, redirectURL string) oauth2.Config {
	return oauth2.Config{
		ClientID:    c.opts.ClientID,
		Endpoint:    provider.Endpoint(),
		RedirectURL: redirectURL,
		Scopes:      []string{oidc.ScopeOpenID, oidc.ScopeOfflineAccess, "profile", scope},
	}
}

type callbackResult struct {
	code string
	err  error
}

func (c *InteractiveCredential) login(ctx context.Context, provider *oidc.Provider, scope string) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("loopback listener: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	cfg := c.oauthConfig(provider, scope, fmt.Sprintf("http://127.0.0.1:%d/", port))

	state, err := randomBase64URL(32)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	nonce, err := randomBase64URL(32)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		res := readCallback(r, state)
		if res.err != nil {
			http.Error(w, "Sign-in failed. You can close this window.", http.StatusBadRequest)
		} else {
			_, _ = io.WriteString(w, "Sign-in complete. You can close this window.")
		}
		select {
		case results <- res:
		default:
		}
	})

	serveCtx, stopServe := context.WithCancel(ctx)
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- httpserver.Serve(serveCtx, c.opts.Logger, httpserver.Config{Service: "login"}, ln, httpserver.Wrap(c.opts.Logger, "login", mux))
	}()
	defer func() {
		stopServe()
		<-serveDone
	}()

	authURL := cfg.AuthCodeURL(
		state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	fmt.Fprintf(c.opts.Prompt, "To sign in, open the following page in a browser:\n\n  %s\n\n", authURL)
	if err := c.opts.OpenURL(authURL); err != nil {
		c.opts.Logger.Warn("browser not opened", "error", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.LoginTimeout)
	defer cancel()

	var res callbackResult
	select {
	case res = <-results:
	case <-waitCtx.Done():
		return nil, fmt.Errorf("%w: %v", ErrInteractiveCancelled, waitCtx.Err())
	}
	if res.err != nil {
		return nil, res.err
	}

	exchangeCtx, cancelExchange := context.WithTimeout(c.clientContext(ctx), 30*time.Second)
	defer cancelExchange()
	tok, err := cfg.Exchange(exchangeCtx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	if rawIDToken, ok := tok.Extra("id_token").(string); ok && rawIDToken != "" {
		idToken, err := provider.Verifier(&oidc.Config{ClientID: c.opts.ClientID}).Verify(exchangeCtx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("verify id token: %w", err)
		}
		if idToken.Nonce != nonce {
			return nil, errors.New("id token nonce mismatch")
		}
	}
	return tok, nil
}

func readCallback(r *http.Request, state string) callbackResult {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		return callbackResult{err: fmt.Errorf("%w: %s %s", ErrInteractiveCancelled, e, q.Get("error_description"))}
	}
	if q.Get("state") != state {
		return callbackResult{err: ErrStateMismatch}
	}
	code := q.Get("code")
	if code == "" {
		return callbackResult{err: errors.New("login redirect missing code")}
	}
	return callbackResult{code: code}
}

func randomBase64URL(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", errors.New("nBytes must be positive")
	}
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
