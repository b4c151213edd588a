package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/wsctl/internal/datastore"
	"github.com/animus-labs/wsctl/internal/domain"
	"github.com/animus-labs/wsctl/internal/ledger"
	"github.com/animus-labs/wsctl/internal/workspace"
	"github.com/animus-labs/wsctl/internal/workspace/workspacetest"
)

type fakeUploader struct {
	calls []string
	err   error
}

func (f *fakeUploader) UploadDir(ctx context.Context, localPath string) (datastore.CodeRef, error) {
	f.calls = append(f.calls, localPath)
	if f.err != nil {
		return datastore.CodeRef{}, f.err
	}
	prefix := "LocalUpload/" + strings.Repeat("a", len(f.calls)) + "/src"
	return datastore.CodeRef{
		URI:       "datastore://" + workspacetest.DatastoreName + "/paths/" + prefix,
		Datastore: workspacetest.DatastoreName,
		Prefix:    prefix,
		Files:     1,
	}, nil
}

type memLedger struct {
	events []ledger.Event
	err    error
}

func (m *memLedger) Record(ctx context.Context, e ledger.Event) error {
	m.events = append(m.events, e)
	return m.err
}

func newTestSubmitter(t *testing.T) (*Submitter, *workspacetest.Server, *fakeUploader, *memLedger) {
	t.Helper()
	srv := workspacetest.NewServer(t)
	up := &fakeUploader{}
	rec := &memLedger{}
	s := NewSubmitter(srv.NewClient(t), up, rec, nil)
	s.Actor = "alice"
	s.Now = func() time.Time { return time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC) }
	return s, srv, up, rec
}

func trainingJob() domain.CommandJob {
	return domain.CommandJob{
		CodePath:       "./src",
		Command:        "python train.py --reg-rate 0.01",
		Environment:    domain.LatestEnvironment(workspacetest.CuratedEnvironment),
		Compute:        workspacetest.Compute,
		DisplayName:    "diabetes-train",
		ExperimentName: "diabetes-training",
		Tags:           domain.Tags{"team": "ds"},
	}
}

func TestSubmit_CreatesCommandJob(t *testing.T) {
	s, srv, up, rec := newTestSubmitter(t)
	s.NewName = func() string { return "job-fixed" }
	spec := trainingJob()

	got, err := s.Submit(context.Background(), spec)
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if got.Name != "job-fixed" || got.Type != domain.JobTypeCommand {
		t.Fatalf("Submit()=%+v, want job-fixed command", got)
	}
	if got.Status != domain.JobStatusNotStarted {
		t.Fatalf("Status=%q, want NotStarted", got.Status)
	}
	if got.DisplayName != "diabetes-train" || got.ExperimentName != "diabetes-training" {
		t.Fatalf("names=%q/%q", got.DisplayName, got.ExperimentName)
	}
	if !strings.HasPrefix(got.StudioURL, workspacetest.StudioBase+"/runs/job-fixed") {
		t.Fatalf("StudioURL=%q", got.StudioURL)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not parsed")
	}
	if len(up.calls) != 1 || up.calls[0] != "./src" {
		t.Fatalf("uploads=%v, want [./src]", up.calls)
	}
	if spec.Name != "" {
		t.Fatalf("caller job mutated: %q", spec.Name)
	}

	puts := srv.RequestsFor("Jobs_CreateOrUpdate")
	if len(puts) != 1 {
		t.Fatalf("PUT count=%d, want 1", len(puts))
	}
	if puts[0].Method != http.MethodPut || !strings.HasSuffix(puts[0].Path, "/jobs/job-fixed") {
		t.Fatalf("request=%s %s", puts[0].Method, puts[0].Path)
	}
	props, _ := puts[0].Body["properties"].(map[string]any)
	want := map[string]string{
		"job_type":        "command",
		"command":         spec.Command,
		"environment_id":  "curated-sklearn-1.5@latest",
		"compute_id":      workspacetest.Compute,
		"display_name":    "diabetes-train",
		"experiment_name": "diabetes-training",
		"code_id":         "datastore://" + workspacetest.DatastoreName + "/paths/LocalUpload/a/src",
	}
	for k, v := range want {
		if props[k] != v {
			t.Fatalf("properties[%s]=%v, want %q", k, props[k], v)
		}
	}
	if _, ok := props["status"]; ok {
		t.Fatalf("status must not be sent on create")
	}

	if len(rec.events) != 1 {
		t.Fatalf("ledger events=%d, want 1", len(rec.events))
	}
	ev := rec.events[0]
	if ev.Action != ledger.ActionJobSubmit || ev.ResourceID != "job-fixed" || ev.Actor != "alice" {
		t.Fatalf("ledger event=%+v", ev)
	}
	if ev.Workspace != workspacetest.WorkspaceName || ev.MonitorURL != got.StudioURL {
		t.Fatalf("ledger event=%+v", ev)
	}
	if ev.RequestID == "" || ev.RequestID != puts[0].Header.Get("X-Request-Id") {
		t.Fatalf("RequestID=%q, header=%q", ev.RequestID, puts[0].Header.Get("X-Request-Id"))
	}
}

func TestSubmit_ReuploadsEveryCall(t *testing.T) {
	s, srv, up, _ := newTestSubmitter(t)
	spec := trainingJob()

	first, err := s.Submit(context.Background(), spec)
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	second, err := s.Submit(context.Background(), spec)
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if first.Name == second.Name {
		t.Fatalf("generated names collide: %q", first.Name)
	}
	if len(up.calls) != 2 {
		t.Fatalf("uploads=%d, want 2", len(up.calls))
	}
	puts := srv.RequestsFor("Jobs_CreateOrUpdate")
	a, _ := puts[0].Body["properties"].(map[string]any)
	b, _ := puts[1].Body["properties"].(map[string]any)
	if a["code_id"] == b["code_id"] {
		t.Fatalf("code_id reused: %v", a["code_id"])
	}
}

func TestSubmit_UsesExplicitName(t *testing.T) {
	s, srv, _, _ := newTestSubmitter(t)
	spec := trainingJob()
	spec.Name = "my-run"

	got, err := s.Submit(context.Background(), spec)
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if got.Name != "my-run" {
		t.Fatalf("Name=%q, want my-run", got.Name)
	}
	if _, ok := srv.Job("my-run"); !ok {
		t.Fatalf("job my-run not created")
	}
}

func TestSubmit_SurfacesRemoteErrorsWithoutRetry(t *testing.T) {
	cases := []struct {
		name string
		edit func(*domain.CommandJob)
		code string
	}{
		{"missing compute", func(j *domain.CommandJob) { j.Compute = "gpu-cluster" }, "ComputeNotFound"},
		{"unknown environment", func(j *domain.CommandJob) { j.Environment = "sklearn-env:7" }, "EnvironmentNotFound"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, srv, _, rec := newTestSubmitter(t)
			spec := trainingJob()
			tc.edit(&spec)

			_, err := s.Submit(context.Background(), spec)
			var apiErr *workspace.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Submit() err=%v, want *workspace.APIError", err)
			}
			if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != tc.code {
				t.Fatalf("APIError=%+v, want 400 %s", apiErr, tc.code)
			}
			if n := len(srv.RequestsFor("Jobs_CreateOrUpdate")); n != 1 {
				t.Fatalf("PUT count=%d, want 1", n)
			}
			if len(rec.events) != 0 {
				t.Fatalf("ledger recorded a failed submission")
			}
		})
	}
}

func TestSubmit_QuotaExceeded(t *testing.T) {
	s, srv, _, _ := newTestSubmitter(t)
	srv.FailNext("Jobs_CreateOrUpdate", http.StatusTooManyRequests, "QuotaExceeded", "core quota exceeded")

	_, err := s.Submit(context.Background(), trainingJob())
	var apiErr *workspace.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "QuotaExceeded" {
		t.Fatalf("Submit() err=%v, want QuotaExceeded", err)
	}
}

func TestSubmit_UploadFailureStopsBeforeCreate(t *testing.T) {
	s, srv, up, _ := newTestSubmitter(t)
	up.err = errors.New("disk on fire")

	_, err := s.Submit(context.Background(), trainingJob())
	if err == nil || !strings.Contains(err.Error(), "disk on fire") {
		t.Fatalf("Submit() err=%v, want upload error", err)
	}
	if n := len(srv.RequestsFor("Jobs_CreateOrUpdate")); n != 0 {
		t.Fatalf("PUT count=%d, want 0", n)
	}
}

func TestSubmit_LedgerFailureIsNotFatal(t *testing.T) {
	s, _, _, rec := newTestSubmitter(t)
	rec.err = errors.New("db down")
	var logs bytes.Buffer
	s.Logger = slog.New(slog.NewJSONHandler(&logs, nil))

	if _, err := s.Submit(context.Background(), trainingJob()); err != nil {
		t.Fatalf("Submit() err=%v, want nil", err)
	}
	if !strings.Contains(logs.String(), `"error":"db down"`) {
		t.Fatalf("ledger failure not logged under the error key: %s", logs.String())
	}
}

func TestSubmitAutoML_SendsTaskDetails(t *testing.T) {
	s, srv, up, _ := newTestSubmitter(t)
	job := domain.AutoMLJob{
		Task:             domain.TaskClassification,
		Compute:          workspacetest.Compute,
		ExperimentName:   "auto-ml-training",
		TrainingData:     domain.TrainingData{URI: "azureml:diabetes-training:1", Type: "mltable"},
		TargetColumn:     "Diabetic",
		PrimaryMetric:    "AUC_weighted",
		CrossValidations: 5,
		Limits: &domain.AutoMLLimits{
			Timeout:                60 * time.Minute,
			TrialTimeout:           90 * time.Second,
			MaxTrials:              5,
			EnableEarlyTermination: true,
		},
		Training: &domain.AutoMLTraining{
			BlockedAlgorithms:       []string{"LogisticRegression"},
			EnableONNXCompatibility: true,
		},
	}

	got, err := s.SubmitAutoML(context.Background(), job)
	if err != nil {
		t.Fatalf("SubmitAutoML() err=%v", err)
	}
	if got.Type != domain.JobTypeAutoML || got.StudioURL == "" {
		t.Fatalf("SubmitAutoML()=%+v", got)
	}
	if len(up.calls) != 0 {
		t.Fatalf("automl submission uploaded code: %v", up.calls)
	}

	puts := srv.RequestsFor("Jobs_CreateOrUpdate")
	if len(puts) != 1 {
		t.Fatalf("PUT count=%d, want 1", len(puts))
	}
	props, _ := puts[0].Body["properties"].(map[string]any)
	task, _ := props["task_details"].(map[string]any)
	if task["task_type"] != "classification" || task["target_column_name"] != "Diabetic" || task["primary_metric"] != "AUC_weighted" {
		t.Fatalf("task_details=%v", task)
	}
	if task["n_cross_validations"] != float64(5) {
		t.Fatalf("n_cross_validations=%v, want 5", task["n_cross_validations"])
	}
	limits, _ := task["limit_settings"].(map[string]any)
	if limits["timeout_minutes"] != float64(60) || limits["trial_timeout_minutes"] != float64(2) || limits["max_trials"] != float64(5) {
		t.Fatalf("limit_settings=%v", limits)
	}
	if limits["enable_early_termination"] != true {
		t.Fatalf("enable_early_termination=%v", limits["enable_early_termination"])
	}
	training, _ := task["training_settings"].(map[string]any)
	blocked, _ := training["blocked_training_algorithms"].([]any)
	if len(blocked) != 1 || blocked[0] != "LogisticRegression" || training["enable_onnx_compatible_models"] != true {
		t.Fatalf("training_settings=%v", training)
	}
	data, _ := task["training_data"].(map[string]any)
	if data["uri"] != "azureml:diabetes-training:1" || data["job_input_type"] != "mltable" {
		t.Fatalf("training_data=%v", data)
	}
}

func TestSubmitAutoML_OmitsUnsetStages(t *testing.T) {
	s, srv, _, _ := newTestSubmitter(t)
	_, err := s.SubmitAutoML(context.Background(), domain.AutoMLJob{
		Task:          domain.TaskClassification,
		Compute:       workspacetest.Compute,
		TargetColumn:  "label",
		PrimaryMetric: "not_a_metric",
	})
	if err != nil {
		t.Fatalf("SubmitAutoML() err=%v", err)
	}
	props, _ := srv.RequestsFor("Jobs_CreateOrUpdate")[0].Body["properties"].(map[string]any)
	task, _ := props["task_details"].(map[string]any)
	for _, k := range []string{"limit_settings", "training_settings", "training_data"} {
		if _, ok := task[k]; ok {
			t.Fatalf("task_details has %s, want omitted", k)
		}
	}
	if task["primary_metric"] != "not_a_metric" {
		t.Fatalf("primary_metric=%v, want pass-through", task["primary_metric"])
	}
}

func TestShow(t *testing.T) {
	s, _, _, _ := newTestSubmitter(t)
	s.NewName = func() string { return "job-show" }
	if _, err := s.Submit(context.Background(), trainingJob()); err != nil {
		t.Fatalf("Submit() err=%v", err)
	}

	got, err := s.Show(context.Background(), "job-show")
	if err != nil {
		t.Fatalf("Show() err=%v", err)
	}
	if got.Name != "job-show" || got.Status != domain.JobStatusNotStarted || got.StudioURL == "" {
		t.Fatalf("Show()=%+v", got)
	}

	_, err = s.Show(context.Background(), "missing")
	if !workspace.IsNotFound(err) {
		t.Fatalf("Show(missing) err=%v, want not found", err)
	}
}

func TestNewJobName(t *testing.T) {
	a, b := NewJobName(), NewJobName()
	if a == b {
		t.Fatalf("NewJobName() repeated %q", a)
	}
	if !strings.HasPrefix(a, "job-") || len(a) != len("job-")+16 {
		t.Fatalf("NewJobName()=%q", a)
	}
}

func TestLoadCommandJobFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yml")
	content := `display_name: diabetes-train
experiment_name: diabetes-training
code: src
command: python train.py --reg-rate 0.01
environment: curated-sklearn-1.5@latest
compute: cpu-cluster
tags:
  team: ds
environment_variables:
  MLFLOW_TRACKING: "1"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	job, err := LoadCommandJobFile(path)
	if err != nil {
		t.Fatalf("LoadCommandJobFile() err=%v", err)
	}
	if job.CodePath != filepath.Join(dir, "src") {
		t.Fatalf("CodePath=%q, want %q", job.CodePath, filepath.Join(dir, "src"))
	}
	if job.Command != "python train.py --reg-rate 0.01" || job.Compute != "cpu-cluster" {
		t.Fatalf("job=%+v", job)
	}
	if job.Tags["team"] != "ds" || job.EnvVars["MLFLOW_TRACKING"] != "1" {
		t.Fatalf("tags=%v env=%v", job.Tags, job.EnvVars)
	}
}

func TestParseCommandJob_RejectsUnknownFields(t *testing.T) {
	if _, err := ParseCommandJob([]byte("command: x\ninstance_count: 2\n")); err == nil {
		t.Fatalf("ParseCommandJob() err=nil, want unknown field error")
	}
	if _, err := ParseCommandJob(nil); err == nil {
		t.Fatalf("ParseCommandJob(nil) err=nil, want error")
	}
}
