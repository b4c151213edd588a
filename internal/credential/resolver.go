package credential

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/animus-labs/wsctl/internal/platform/logging"
)

// Resolver picks the credential used for the rest of the process.
type Resolver struct {
	Scope       string
	Ambient     func() (Credential, error)
	Interactive func() (Credential, error)
	Logger      *slog.Logger
}

type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	OpenURL    func(string) error
	Prompt     io.Writer
}

func NewResolver(cfg Config, opts Options) Resolver {
	return Resolver{
		Scope: cfg.Scope,
		Ambient: func() (Credential, error) {
			chain, err := NewAmbientCredential(cfg, opts.HTTPClient, opts.Logger)
			if err != nil {
				return nil, err
			}
			return chain, nil
		},
		Interactive: func() (Credential, error) {
			cred, err := NewInteractiveCredential(InteractiveOptions{
				Issuer:       cfg.Issuer(),
				ClientID:     cfg.ClientID,
				LoginTimeout: cfg.LoginTimeout,
				OpenURL:      opts.OpenURL,
				Prompt:       opts.Prompt,
				HTTPClient:   opts.HTTPClient,
				Logger:       opts.Logger,
			})
			if err != nil {
				return nil, err
			}
			return cred, nil
		},
		Logger: opts.Logger,
	}
}

// Resolve validates the ambient credential with a token request for Scope and
// falls back to the interactive credential on any failure. Failure of the
// interactive credential is returned as is.
func (r Resolver) Resolve(ctx context.Context) (Credential, error) {
	logger := r.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	cred, err := r.ambient(ctx)
	if err == nil {
		logger.Debug("using ambient credential")
		return cred, nil
	}
	logger.Warn("ambient credential failed, falling back to interactive login", "error", err)

	interactive, err := r.Interactive()
	if err != nil {
		return nil, fmt.Errorf("interactive credential: %w", err)
	}
	tok, err := interactive.GetToken(ctx, r.Scope)
	if err != nil {
		return nil, fmt.Errorf("interactive login: %w", err)
	}
	if err := checkToken(tok); err != nil {
		return nil, fmt.Errorf("interactive login: %w", err)
	}
	return interactive, nil
}

func (r Resolver) ambient(ctx context.Context) (Credential, error) {
	cred, err := r.Ambient()
	if err != nil {
		return nil, err
	}
	tok, err := cred.GetToken(ctx, r.Scope)
	if err != nil {
		return nil, err
	}
	if err := checkToken(tok); err != nil {
		return nil, err
	}
	return cred, nil
}
