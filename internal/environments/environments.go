// Package environments registers and reads execution environments. Versions
// are assigned by the control plane; registering an image with a dependency
// manifest returns immediately and the image build happens on first use.
package environments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/animus-labs/wsctl/internal/domain"
	"github.com/animus-labs/wsctl/internal/ledger"
	"github.com/animus-labs/wsctl/internal/platform/logging"
	"github.com/animus-labs/wsctl/internal/platform/requestid"
	"github.com/animus-labs/wsctl/internal/workspace"
)

type Manager struct {
	Client *workspace.Client
	Ledger ledger.Recorder
	Actor  string
	Logger *slog.Logger
	Now    func() time.Time
}

func NewManager(client *workspace.Client, recorder ledger.Recorder, logger *slog.Logger) *Manager {
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		Client: client,
		Ledger: recorder,
		Actor:  "unknown",
		Logger: logger,
		Now:    time.Now,
	}
}

// FromImage describes an environment that runs the image as is.
func FromImage(name, image, description string) domain.Environment {
	return domain.Environment{Name: name, Image: image, Description: description}
}

// FromImageWithManifest layers the manifest's packages on top of image.
func FromImageWithManifest(name, image string, manifest domain.DependencyManifest, description string) domain.Environment {
	m := manifest.Clone()
	return domain.Environment{Name: name, Image: image, Manifest: &m, Description: description}
}

// LoadManifest reads a YAML dependency manifest from disk.
func LoadManifest(path string) (domain.DependencyManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.DependencyManifest{}, fmt.Errorf("read manifest: %w", err)
	}
	m, err := domain.ParseManifest(raw)
	if err != nil {
		return domain.DependencyManifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

type versionRequest struct {
	Image       string            `json:"image,omitempty"`
	CondaFile   string            `json:"conda_file,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

type versionResource struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Image        string            `json:"image"`
	CondaFile    string            `json:"conda_file"`
	Description  string            `json:"description"`
	Tags         map[string]string `json:"tags"`
	BuildState   string            `json:"build_state"`
	CreationTime string            `json:"creation_time"`
}

func (r versionResource) toDomain() domain.EnvironmentVersion {
	return domain.EnvironmentVersion{
		Name:        r.Name,
		Version:     r.Version,
		Image:       r.Image,
		CondaFile:   r.CondaFile,
		Description: r.Description,
		Tags:        domain.Tags(r.Tags),
		BuildState:  domain.BuildState(r.BuildState),
		CreatedAt:   parseTime(r.CreationTime),
	}
}

// CreateOrUpdate registers env as a new version. Registering the same name
// again never fails; it yields the next version number.
func (m *Manager) CreateOrUpdate(ctx context.Context, env domain.Environment) (domain.EnvironmentVersion, error) {
	env = env.Clone()
	name := strings.TrimSpace(env.Name)
	if name == "" {
		return domain.EnvironmentVersion{}, errors.New("environment name is required")
	}
	req := versionRequest{
		Image:       env.Image,
		Description: env.Description,
		Tags:        env.Tags,
	}
	if env.Manifest != nil {
		raw, err := env.Manifest.Marshal()
		if err != nil {
			return domain.EnvironmentVersion{}, err
		}
		req.CondaFile = string(raw)
	}

	ctx = requestid.WithID(ctx, requestid.FromContext(ctx))
	var out versionResource
	if err := m.Client.Do(ctx, http.MethodPost, m.Client.Path("environments", name, "versions"), req, &out); err != nil {
		return domain.EnvironmentVersion{}, fmt.Errorf("create environment %s: %w", name, err)
	}
	v := out.toDomain()
	if v.Name == "" {
		v.Name = name
	}
	m.Logger.Info("environment registered",
		"environment", v.Name,
		"version", v.Version,
		"image", v.Image,
		"build_state", v.BuildState,
		"request_id", requestid.FromContext(ctx),
	)
	m.record(ctx, v, req)
	return v, nil
}

// Get fetches one version; a missing version surfaces as the remote 404.
func (m *Manager) Get(ctx context.Context, name, version string) (domain.EnvironmentVersion, error) {
	name, version = strings.TrimSpace(name), strings.TrimSpace(version)
	if name == "" || version == "" {
		return domain.EnvironmentVersion{}, errors.New("environment name and version are required")
	}
	var out versionResource
	if err := m.Client.Do(ctx, http.MethodGet, m.Client.Path("environments", name, "versions", version), nil, &out); err != nil {
		return domain.EnvironmentVersion{}, fmt.Errorf("get environment %s: %w", domain.EnvironmentRef(name, version), err)
	}
	return out.toDomain(), nil
}

// List returns a lazy iterator over every registered environment in the order
// the control plane reports them. No request is made until the first Next.
func (m *Manager) List(ctx context.Context) *Iterator {
	return &Iterator{
		ctx:    ctx,
		client: m.Client,
		next:   m.Client.Path("environments"),
	}
}

func (m *Manager) record(ctx context.Context, v domain.EnvironmentVersion, payload versionRequest) {
	if m.Ledger == nil {
		return
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	actor := m.Actor
	if strings.TrimSpace(actor) == "" {
		actor = "unknown"
	}
	err := m.Ledger.Record(ctx, ledger.Event{
		OccurredAt:   now().UTC(),
		Actor:        actor,
		Action:       ledger.ActionEnvironmentCreate,
		Workspace:    m.Client.Config().WorkspaceName,
		ResourceType: ledger.ResourceEnvironment,
		ResourceID:   v.Ref(),
		RequestID:    requestid.FromContext(ctx),
		Payload:      payload,
	})
	if err != nil {
		m.Logger.Warn("ledger record failed", "environment", v.Ref(), "error", err)
	}
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
