// Package jobs submits command and AutoML jobs to a workspace and reads them
// back. A submission returns as soon as the control plane accepts it; callers
// follow progress through the monitoring URL.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/wsctl/internal/datastore"
	"github.com/animus-labs/wsctl/internal/domain"
	"github.com/animus-labs/wsctl/internal/ledger"
	"github.com/animus-labs/wsctl/internal/platform/logging"
	"github.com/animus-labs/wsctl/internal/platform/requestid"
	"github.com/animus-labs/wsctl/internal/workspace"
	"github.com/google/uuid"
)

// CodeUploader snapshots a local directory into the workspace datastore.
type CodeUploader interface {
	UploadDir(ctx context.Context, localPath string) (datastore.CodeRef, error)
}

type Submitter struct {
	Client   *workspace.Client
	Uploader CodeUploader
	Ledger   ledger.Recorder
	Actor    string
	Logger   *slog.Logger
	Now      func() time.Time
	NewName  func() string
}

func NewSubmitter(client *workspace.Client, uploader CodeUploader, recorder ledger.Recorder, logger *slog.Logger) *Submitter {
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Submitter{
		Client:   client,
		Uploader: uploader,
		Ledger:   recorder,
		Actor:    "unknown",
		Logger:   logger,
		Now:      time.Now,
		NewName:  NewJobName,
	}
}

// NewJobName returns a name unique enough that resubmitting the same
// definition always creates a new job.
func NewJobName() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "job-" + id[:16]
}

// Submit uploads job.CodePath in full, then creates the job. Field values are
// not checked locally: the control plane rejects unknown computes and
// environments. The caller's value is not modified; a generated name is only
// visible in the result.
func (s *Submitter) Submit(ctx context.Context, job domain.CommandJob) (domain.SubmittedJob, error) {
	if s == nil || s.Client == nil {
		return domain.SubmittedJob{}, errors.New("submitter is not configured")
	}
	if s.Uploader == nil {
		return domain.SubmittedJob{}, errors.New("code uploader is required")
	}
	job = job.Clone()
	if strings.TrimSpace(job.CodePath) == "" {
		return domain.SubmittedJob{}, errors.New("code path is required")
	}

	ctx = withRequestID(ctx)
	code, err := s.Uploader.UploadDir(ctx, job.CodePath)
	if err != nil {
		return domain.SubmittedJob{}, fmt.Errorf("upload code: %w", err)
	}

	name := s.jobName(job.Name)
	resource := commandResource(job, code.URI)
	submitted, err := s.put(ctx, name, resource)
	if err != nil {
		return domain.SubmittedJob{}, err
	}
	s.Logger.Info("job submitted",
		"job", submitted.Name,
		"type", submitted.Type,
		"compute", job.Compute,
		"environment", job.Environment,
		"code", code.URI,
		"files", code.Files,
		"request_id", requestid.FromContext(ctx),
	)
	s.record(ctx, submitted, resource)
	return submitted, nil
}

// SubmitAutoML creates an AutoML job. Limits and training settings are sent
// as configured; the control plane owns their validation.
func (s *Submitter) SubmitAutoML(ctx context.Context, job domain.AutoMLJob) (domain.SubmittedJob, error) {
	if s == nil || s.Client == nil {
		return domain.SubmittedJob{}, errors.New("submitter is not configured")
	}
	job = job.Clone()

	ctx = withRequestID(ctx)
	name := s.jobName("")
	resource := autoMLResource(job)
	submitted, err := s.put(ctx, name, resource)
	if err != nil {
		return domain.SubmittedJob{}, err
	}
	s.Logger.Info("automl job submitted",
		"job", submitted.Name,
		"task", job.Task,
		"compute", job.Compute,
		"primary_metric", job.PrimaryMetric,
		"request_id", requestid.FromContext(ctx),
	)
	s.record(ctx, submitted, resource)
	return submitted, nil
}

// Show reads a job back, typically to report its current status.
func (s *Submitter) Show(ctx context.Context, name string) (domain.SubmittedJob, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.SubmittedJob{}, errors.New("job name is required")
	}
	var out jobResource
	if err := s.Client.Do(ctx, http.MethodGet, s.Client.Path("jobs", name), nil, &out); err != nil {
		return domain.SubmittedJob{}, fmt.Errorf("get job %s: %w", name, err)
	}
	return out.submitted(name), nil
}

func (s *Submitter) put(ctx context.Context, name string, resource jobResource) (domain.SubmittedJob, error) {
	var out jobResource
	if err := s.Client.Do(ctx, http.MethodPut, s.Client.Path("jobs", name), resource, &out); err != nil {
		return domain.SubmittedJob{}, fmt.Errorf("submit job %s: %w", name, err)
	}
	return out.submitted(name), nil
}

func (s *Submitter) jobName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if s.NewName != nil {
		return s.NewName()
	}
	return NewJobName()
}

func (s *Submitter) record(ctx context.Context, job domain.SubmittedJob, payload jobResource) {
	if s.Ledger == nil {
		return
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	actor := s.Actor
	if strings.TrimSpace(actor) == "" {
		actor = "unknown"
	}
	err := s.Ledger.Record(ctx, ledger.Event{
		OccurredAt:   now().UTC(),
		Actor:        actor,
		Action:       ledger.ActionJobSubmit,
		Workspace:    s.Client.Config().WorkspaceName,
		ResourceType: ledger.ResourceJob,
		ResourceID:   job.Name,
		RequestID:    requestid.FromContext(ctx),
		MonitorURL:   job.StudioURL,
		Payload:      payload,
	})
	if err != nil {
		s.Logger.Warn("ledger record failed", "job", job.Name, "error", err)
	}
}

func withRequestID(ctx context.Context) context.Context {
	return requestid.WithID(ctx, requestid.FromContext(ctx))
}
