package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/wsctl/internal/platform/logging"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientSecretCredential uses the client credentials grant of a service principal.
type ClientSecretCredential struct {
	cfg    clientcredentials.Config
	client *http.Client
	cache  tokenCache
}

func NewClientSecretCredential(cfg Config, client *http.Client) (*ClientSecretCredential, error) {
	if cfg.ClientSecret == "" || cfg.TenantID == "" || cfg.TenantID == DefaultTenant {
		return nil, fmt.Errorf("client secret: %w", ErrNoAmbientCredential)
	}
	return &ClientSecretCredential{
		cfg: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL(),
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		client: client,
	}, nil
}

func (c *ClientSecretCredential) GetToken(ctx context.Context, scope string) (*oauth2.Token, error) {
	if tok, ok := c.cache.get(scope); ok {
		return tok, nil
	}
	cfg := c.cfg
	cfg.Scopes = []string{scope}
	if c.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("client secret token: %w", err)
	}
	c.cache.put(scope, tok)
	return tok, nil
}

// ManagedIdentityCredential asks the local identity endpoint of the host for a token.
type ManagedIdentityCredential struct {
	endpoint string
	header   string
	client   *http.Client
	cache    tokenCache
}

func NewManagedIdentityCredential(cfg Config, client *http.Client) (*ManagedIdentityCredential, error) {
	if cfg.IdentityEndpoint == "" || cfg.IdentityHeader == "" {
		return nil, fmt.Errorf("managed identity: %w", ErrNoAmbientCredential)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ManagedIdentityCredential{
		endpoint: cfg.IdentityEndpoint,
		header:   cfg.IdentityHeader,
		client:   client,
	}, nil
}

type identityResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresOn   string `json:"expires_on"`
}

func (c *ManagedIdentityCredential) GetToken(ctx context.Context, scope string) (*oauth2.Token, error) {
	if tok, ok := c.cache.get(scope); ok {
		return tok, nil
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("managed identity endpoint: %w", err)
	}
	q := u.Query()
	q.Set("resource", resourceFromScope(scope))
	q.Set("api-version", "2019-08-01")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-IDENTITY-HEADER", c.header)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("managed identity request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("managed identity: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out identityResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("managed identity response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, errors.New("managed identity: empty access token")
	}
	tok := &oauth2.Token{AccessToken: out.AccessToken, TokenType: out.TokenType}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if out.ExpiresOn != "" {
		secs, err := strconv.ParseInt(out.ExpiresOn, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("managed identity expires_on: %w", err)
		}
		tok.Expiry = time.Unix(secs, 0)
	}
	c.cache.put(scope, tok)
	return tok, nil
}

// StaticTokenCredential serves a pre-issued bearer token. When the token is
// a JWT its exp claim becomes the token expiry; the signature is not checked.
type StaticTokenCredential struct {
	token *oauth2.Token
}

var unverifiedAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.HS256, jose.HS384, jose.HS512,
	jose.EdDSA,
}

func NewStaticTokenCredential(raw string) (*StaticTokenCredential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("access token: %w", ErrNoAmbientCredential)
	}
	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	if parsed, err := jwt.ParseSigned(raw, unverifiedAlgorithms); err == nil {
		var claims jwt.Claims
		if err := parsed.UnsafeClaimsWithoutVerification(&claims); err == nil && claims.Expiry != nil {
			tok.Expiry = claims.Expiry.Time()
		}
	}
	return &StaticTokenCredential{token: tok}, nil
}

func (c *StaticTokenCredential) GetToken(ctx context.Context, scope string) (*oauth2.Token, error) {
	if err := checkToken(c.token); err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	return c.token, nil
}

// ChainCredential returns the token of the first member that succeeds and
// then sticks to that member.
type ChainCredential struct {
	members []namedCredential
	logger  *slog.Logger

	mu       sync.Mutex
	selected Credential
}

type namedCredential struct {
	name string
	cred Credential
}

func (c *ChainCredential) GetToken(ctx context.Context, scope string) (*oauth2.Token, error) {
	c.mu.Lock()
	selected := c.selected
	c.mu.Unlock()
	if selected != nil {
		return selected.GetToken(ctx, scope)
	}

	var errs []error
	for _, m := range c.members {
		tok, err := m.cred.GetToken(ctx, scope)
		if err == nil {
			err = checkToken(tok)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
			continue
		}
		c.logger.Debug("ambient credential selected", "source", m.name)
		c.mu.Lock()
		c.selected = m.cred
		c.mu.Unlock()
		return tok, nil
	}
	if len(errs) == 0 {
		return nil, ErrNoAmbientCredential
	}
	return nil, errors.Join(errs...)
}

// NewAmbientCredential builds the chain from whatever the environment
// configures. It fails with ErrNoAmbientCredential when nothing is configured.
func NewAmbientCredential(cfg Config, client *http.Client, logger *slog.Logger) (*ChainCredential, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	chain := &ChainCredential{logger: logger}
	if cred, err := NewClientSecretCredential(cfg, client); err == nil {
		chain.members = append(chain.members, namedCredential{name: "client_secret", cred: cred})
	}
	if cred, err := NewManagedIdentityCredential(cfg, client); err == nil {
		chain.members = append(chain.members, namedCredential{name: "managed_identity", cred: cred})
	}
	if cred, err := NewStaticTokenCredential(cfg.AccessToken); err == nil {
		chain.members = append(chain.members, namedCredential{name: "access_token", cred: cred})
	}
	if len(chain.members) == 0 {
		return nil, ErrNoAmbientCredential
	}
	return chain, nil
}
