// Package workspace binds an authenticated HTTP client to one remote workspace.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/wsctl/internal/credential"
	"github.com/animus-labs/wsctl/internal/platform/env"
	"github.com/animus-labs/wsctl/internal/platform/logging"
	"github.com/animus-labs/wsctl/internal/platform/requestid"
	"golang.org/x/oauth2"
)

const maxResponseBytes = 8 << 20

type Options struct {
	// Endpoint overrides the endpoint from config.json.
	Endpoint  string
	Scope     string
	Timeout   time.Duration
	UserAgent string
	// Transport is the base transport under the bearer token layer.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client is a workspace handle. It is read-only after construction.
type Client struct {
	cfg       Config
	endpoint  string
	scope     string
	http      *http.Client
	userAgent string
	logger    *slog.Logger
}

// APIError is a non-2xx answer from the control plane, passed through as is.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("control plane error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("control plane error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the control plane.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func New(ctx context.Context, cfg Config, cred credential.Credential, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, errors.New("credential is required")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("workspace endpoint: %w", err)
	}
	if opts.Scope == "" {
		opts.Scope = credential.DefaultScope
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "wsctl"
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Client{
		cfg:      cfg,
		endpoint: endpoint,
		scope:    opts.Scope,
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &oauth2.Transport{
				Source: credential.TokenSource(ctx, cred, opts.Scope),
				Base:   opts.Transport,
			},
		},
		userAgent: opts.UserAgent,
		logger:    opts.Logger,
	}, nil
}

// FromConfig loads the workspace config (explicitPath, then WSCTL_CONFIG, then
// an upward search from startDir) and binds a client to it. The returned path
// is the config file that was used.
func FromConfig(ctx context.Context, explicitPath, startDir string, cred credential.Credential, opts Options) (*Client, string, error) {
	if explicitPath == "" {
		explicitPath = env.String(EnvConfigPath, "")
	}
	cfg, path, err := ResolveConfig(explicitPath, startDir)
	if err != nil {
		return nil, "", err
	}
	client, err := New(ctx, cfg, cred, opts)
	if err != nil {
		return nil, "", err
	}
	return client, path, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Scope is the resource path every workspace call lives under.
func (c *Client) Scope() string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/workspaces/%s",
		url.PathEscape(c.cfg.SubscriptionID),
		url.PathEscape(c.cfg.ResourceGroup),
		url.PathEscape(c.cfg.WorkspaceName),
	)
}

// Path joins escaped segments under Scope.
func (c *Client) Path(segments ...string) string {
	var b strings.Builder
	b.WriteString(c.Scope())
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// Details is the workspace description returned by the control plane.
type Details struct {
	Name         string `json:"name"`
	Location     string `json:"location"`
	Description  string `json:"description,omitempty"`
	StudioURL    string `json:"studio_url,omitempty"`
	DiscoveryURL string `json:"discovery_url,omitempty"`
}

func (c *Client) Get(ctx context.Context) (Details, error) {
	var out Details
	if err := c.Do(ctx, http.MethodGet, c.Scope(), nil, &out); err != nil {
		return Details{}, err
	}
	return out, nil
}

func (c *Client) sameOrigin(ref string) error {
	u, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	base, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("workspace endpoint: %w", err)
	}
	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return fmt.Errorf("%w: %s://%s", ErrForeignHost, u.Scheme, u.Host)
	}
	return nil
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ErrForeignHost is returned by Do for an absolute URL outside the workspace
// endpoint. The bearer token is never sent to such a URL.
var ErrForeignHost = errors.New("url is not on the workspace endpoint")

// Do sends one JSON request. ref is either a path under the endpoint or an
// absolute URL on the endpoint's scheme and host (as returned in next links).
// A nil out discards the body.
func (c *Client) Do(ctx context.Context, method, ref string, in, out any) error {
	target := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		target = c.endpoint + ref
	} else if err := c.sameOrigin(ref); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	rid := requestid.FromContext(ctx)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(requestid.Header, rid)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("control plane request",
		"method", method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", rid,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: rid}
		var eb errorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Error.Message != "" {
			apiErr.Code = eb.Error.Code
			apiErr.Message = eb.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
