package scaffold

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/animus-labs/wsctl/internal/domain"
)

func TestWriteTrainingScript_MatchesTemplate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "src")
	path, err := WriteTrainingScript(dir)
	if err != nil {
		t.Fatalf("WriteTrainingScript() err=%v", err)
	}
	if path != filepath.Join(dir, ScriptName) {
		t.Fatalf("path=%q", path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want, err := os.ReadFile(filepath.Join("templates", "train.py"))
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("written script differs from template")
	}
}

func TestWriteTrainingScript_Overwrites(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ScriptName), []byte("stale"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := WriteTrainingScript(dir); err != nil {
		t.Fatalf("WriteTrainingScript() err=%v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, ScriptName))
	if !bytes.Equal(got, TrainingScript()) {
		t.Fatalf("stale script not replaced")
	}
}

func TestMaterialize(t *testing.T) {
	dir := t.TempDir()
	_, manifestPath, err := Materialize(dir)
	if err != nil {
		t.Fatalf("Materialize() err=%v", err)
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, err := domain.ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest() err=%v", err)
	}
	if !reflect.DeepEqual(got, DefaultManifest()) {
		t.Fatalf("manifest=%+v, want %+v", got, DefaultManifest())
	}
	if want := []string{"mlflow"}; !reflect.DeepEqual(got.PipPackages(), want) {
		t.Fatalf("PipPackages()=%v, want %v", got.PipPackages(), want)
	}
}

func TestTrainingScript_ReturnsCopy(t *testing.T) {
	a := TrainingScript()
	a[0] = '#'
	if TrainingScript()[0] == '#' {
		t.Fatalf("TrainingScript() exposes the embedded template")
	}
}
