// Package scaffold writes the training script and dependency manifest that a
// command job uploads.
package scaffold

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/animus-labs/wsctl/internal/domain"
)

const (
	ScriptName   = "train.py"
	ManifestName = "conda.yml"
	// TrainCommand runs ScriptName from the uploaded code directory.
	TrainCommand = "python train.py --reg-rate 0.01"
)

//go:embed templates/train.py
var trainingScript []byte

// TrainingScript returns the literal script template.
func TrainingScript() []byte {
	out := make([]byte, len(trainingScript))
	copy(out, trainingScript)
	return out
}

// DefaultManifest lists what TrainingScript imports.
func DefaultManifest() domain.DependencyManifest {
	return domain.NewManifest(
		"sklearn-env",
		[]string{"conda-forge"},
		[]string{"python=3.10", "scikit-learn=1.5", "pandas", "pip"},
		[]string{"mlflow"},
	)
}

func WriteTrainingScript(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, ScriptName)
	if err := os.WriteFile(path, trainingScript, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func WriteDependencyManifest(dir string, manifest domain.DependencyManifest) (string, error) {
	data, err := manifest.Marshal()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Materialize writes both files into dir and returns their paths.
func Materialize(dir string) (script, manifest string, err error) {
	script, err = WriteTrainingScript(dir)
	if err != nil {
		return "", "", err
	}
	manifest, err = WriteDependencyManifest(dir, DefaultManifest())
	if err != nil {
		return "", "", err
	}
	return script, manifest, nil
}
