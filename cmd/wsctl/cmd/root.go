// Package cmd holds the wsctl command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/animus-labs/wsctl/internal/credential"
	"github.com/animus-labs/wsctl/internal/datastore"
	"github.com/animus-labs/wsctl/internal/environments"
	"github.com/animus-labs/wsctl/internal/jobs"
	"github.com/animus-labs/wsctl/internal/ledger"
	"github.com/animus-labs/wsctl/internal/platform/env"
	"github.com/animus-labs/wsctl/internal/platform/logging"
	"github.com/animus-labs/wsctl/internal/platform/postgres"
	"github.com/animus-labs/wsctl/internal/workspace"
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

// configError marks invalid local configuration; it exits with status 2.
type configError struct {
	err error
}

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func invalidConfig(format string, args ...any) error {
	return configError{err: fmt.Errorf(format, args...)}
}

func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr configError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

func Execute(ctx context.Context) error {
	root := newRootCommand(&app{})
	return root.ExecuteContext(ctx)
}

// app carries everything commands share. The hooks are replaced in tests.
type app struct {
	configPath string
	endpoint   string
	logLevel   string

	logger *slog.Logger
	stderr io.Writer

	resolveCredential func(ctx context.Context) (credential.Credential, error)
	transport         http.RoundTripper
	newUploader       func(client *workspace.Client, logger *slog.Logger) jobs.CodeUploader
	openLedger        func(ctx context.Context) (ledger.Recorder, func(), error)
	workDir           func() (string, error)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "wsctl",
		Short: "wsctl submits training jobs and manages environments in an ML workspace",
		Long: `wsctl talks to the control plane of a managed machine-learning workspace.

The workspace is named by a config.json file (subscription_id, resource_group,
workspace_name) found in the current directory or any parent, in a .wsctl
directory on the way up, or at the path given by --config / WSCTL_CONFIG.

Credentials come from the environment when available (WSCTL_CLIENT_ID and
WSCTL_CLIENT_SECRET, a managed identity endpoint, or WSCTL_ACCESS_TOKEN).
Otherwise wsctl opens a browser for an interactive login.

Common workflows:

  Write a training script and dependency manifest:
    wsctl scaffold ./src

  Submit it to a compute cluster:
    wsctl job submit --code ./src --command "python train.py" \
      --environment curated-sklearn-1.5@latest --compute cpu-cluster

  Register an environment from an image and a conda file:
    wsctl environment create sklearn-env --image python:3.10-slim --conda-file ./src/conda.yml`,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetVersionTemplate("wsctl {{.Version}}\n")
	root.Version = Version

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "workspace config.json (default: search upward from the current directory)")
	flags.StringVar(&a.endpoint, "endpoint", "", "control plane endpoint (overrides WSCTL_ENDPOINT and config.json)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (default WSCTL_LOG_LEVEL or info)")

	root.AddCommand(
		newLoginCommand(a),
		newWorkspaceCommand(a),
		newScaffoldCommand(a),
		newJobCommand(a),
		newEnvironmentCommand(a),
		newAutoMLCommand(a),
		newWalkthroughCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	raw := a.logLevel
	if raw == "" {
		raw = env.String("WSCTL_LOG_LEVEL", "info")
	}
	level, err := logging.ParseLevel(raw)
	if err != nil {
		return configError{err: err}
	}
	a.stderr = cmd.ErrOrStderr()
	a.logger = logging.New(a.stderr, "wsctl", level)
	return nil
}

func (a *app) credential(ctx context.Context) (credential.Credential, error) {
	if a.resolveCredential != nil {
		return a.resolveCredential(ctx)
	}
	cfg, err := credential.ConfigFromEnv()
	if err != nil {
		return nil, configError{err: err}
	}
	noBrowser, err := env.Bool("WSCTL_NO_BROWSER", false)
	if err != nil {
		return nil, configError{err: err}
	}
	openURL := credential.OpenBrowser
	if noBrowser {
		// the sign-in URL is still printed to stderr
		openURL = func(string) error { return nil }
	}
	resolver := credential.NewResolver(cfg, credential.Options{
		Logger:  a.logger,
		OpenURL: openURL,
		Prompt:  a.stderr,
	})
	return resolver.Resolve(ctx)
}

func (a *app) workspace(ctx context.Context) (*workspace.Client, error) {
	timeout, err := env.Duration("WSCTL_HTTP_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, configError{err: err}
	}
	dir, err := a.cwd()
	if err != nil {
		return nil, err
	}
	endpoint := a.endpoint
	if endpoint == "" {
		endpoint = env.String("WSCTL_ENDPOINT", "")
	}

	cred, err := a.credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	client, path, err := workspace.FromConfig(ctx, a.configPath, dir, cred, workspace.Options{
		Endpoint:  endpoint,
		Scope:     env.String("WSCTL_SCOPE", credential.DefaultScope),
		Timeout:   timeout,
		UserAgent: "wsctl/" + Version,
		Transport: a.transport,
		Logger:    a.logger,
	})
	if err != nil {
		if errors.Is(err, workspace.ErrConfigNotFound) {
			return nil, configError{err: err}
		}
		return nil, err
	}
	a.logger.Debug("workspace config loaded", "path", path, "workspace", client.Config().WorkspaceName)
	return client, nil
}

// ledger opens the submission ledger when WSCTL_LEDGER_DATABASE_URL is set.
// An unreachable database only disables recording.
func (a *app) ledger(ctx context.Context) (ledger.Recorder, func(), error) {
	if a.openLedger != nil {
		return a.openLedger(ctx)
	}
	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, nil, configError{err: err}
	}
	if !cfg.Enabled() {
		return ledger.Nop{}, func() {}, nil
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		a.logger.Warn("ledger unavailable, submissions will not be recorded", "error", err)
		return ledger.Nop{}, func() {}, nil
	}
	if err := ledger.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		a.logger.Warn("ledger schema unavailable, submissions will not be recorded", "error", err)
		return ledger.Nop{}, func() {}, nil
	}
	return ledger.SQL{DB: db}, func() { _ = db.Close() }, nil
}

func (a *app) uploader(client *workspace.Client) jobs.CodeUploader {
	if a.newUploader != nil {
		return a.newUploader(client, a.logger)
	}
	return datastore.NewUploader(client, a.logger)
}

func (a *app) cwd() (string, error) {
	if a.workDir != nil {
		return a.workDir()
	}
	return os.Getwd()
}

// session bundles the handles a submitting command needs.
type session struct {
	client       *workspace.Client
	submitter    *jobs.Submitter
	environments *environments.Manager
	close        func()
}

func (a *app) session(ctx context.Context) (*session, error) {
	client, err := a.workspace(ctx)
	if err != nil {
		return nil, err
	}
	recorder, closeLedger, err := a.ledger(ctx)
	if err != nil {
		return nil, err
	}
	actor := currentActor()

	submitter := jobs.NewSubmitter(client, a.uploader(client), recorder, a.logger)
	submitter.Actor = actor
	mgr := environments.NewManager(client, recorder, a.logger)
	mgr.Actor = actor
	return &session{
		client:       client,
		submitter:    submitter,
		environments: mgr,
		close:        closeLedger,
	}, nil
}

func currentActor() string {
	if u, err := user.Current(); err == nil && strings.TrimSpace(u.Username) != "" {
		return u.Username
	}
	return env.First("unknown", "USER", "USERNAME")
}
