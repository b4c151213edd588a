package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animus-labs/wsctl/internal/workspace/workspacetest"
)

func TestEnvironmentList_Curated(t *testing.T) {
	f := newFixture(t)
	f.srv.AddEnvironment("my-env", "python:3.10")

	out, err := f.run(t, "environment", "list", "--curated")
	if err != nil {
		t.Fatalf("environment list err=%v", err)
	}
	if !strings.Contains(out, workspacetest.CuratedEnvironment) || strings.Contains(out, "my-env") {
		t.Fatalf("output=%q", out)
	}

	out, err = f.run(t, "env", "list")
	if err != nil {
		t.Fatalf("env list err=%v", err)
	}
	if !strings.Contains(out, "my-env") {
		t.Fatalf("output=%q", out)
	}
}

func TestEnvironmentCreateAndShow(t *testing.T) {
	f := newFixture(t)
	conda := filepath.Join(t.TempDir(), "conda.yml")
	if err := os.WriteFile(conda, []byte("name: sklearn-env\ndependencies:\n  - python=3.10\n  - pip:\n      - mlflow\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := f.run(t, "environment", "create", "sklearn-env", "--image", "python:3.10-slim", "--conda-file", conda)
	if err != nil {
		t.Fatalf("environment create err=%v", err)
	}
	if !strings.Contains(out, "Build state: NotStarted") || !strings.Contains(out, "Reference:   sklearn-env:1") {
		t.Fatalf("output=%q", out)
	}

	out, err = f.run(t, "environment", "show", "sklearn-env", "--version", "1")
	if err != nil {
		t.Fatalf("environment show err=%v", err)
	}
	if !strings.Contains(out, "mlflow") {
		t.Fatalf("output=%q", out)
	}

	if _, err := f.run(t, "environment", "show", "sklearn-env", "--version", "9"); err == nil {
		t.Fatalf("show missing version err=nil")
	}
}

func TestEnvironmentCreate_BadCondaFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "environment", "create", "x", "--image", "python:3.10", "--conda-file", filepath.Join(t.TempDir(), "nope.yml"))
	if ExitCode(err) != 2 {
		t.Fatalf("err=%v, want config error", err)
	}
}
