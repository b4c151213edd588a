package jobs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/animus-labs/wsctl/internal/domain"
	"gopkg.in/yaml.v3"
)

// jobFile is the on-disk YAML form of a command job.
type jobFile struct {
	Name                 string            `yaml:"name"`
	DisplayName          string            `yaml:"display_name"`
	ExperimentName       string            `yaml:"experiment_name"`
	Description          string            `yaml:"description"`
	Code                 string            `yaml:"code"`
	Command              string            `yaml:"command"`
	Environment          string            `yaml:"environment"`
	Compute              string            `yaml:"compute"`
	Tags                 map[string]string `yaml:"tags"`
	EnvironmentVariables map[string]string `yaml:"environment_variables"`
}

// LoadCommandJobFile reads a YAML job definition. A relative code path is
// resolved against the directory holding the file.
func LoadCommandJobFile(path string) (domain.CommandJob, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.CommandJob{}, fmt.Errorf("read job file: %w", err)
	}
	job, err := ParseCommandJob(raw)
	if err != nil {
		return domain.CommandJob{}, fmt.Errorf("%s: %w", path, err)
	}
	if job.CodePath != "" && !filepath.IsAbs(job.CodePath) {
		job.CodePath = filepath.Join(filepath.Dir(path), job.CodePath)
	}
	return job, nil
}

func ParseCommandJob(raw []byte) (domain.CommandJob, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var f jobFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.CommandJob{}, errors.New("job file is empty")
		}
		return domain.CommandJob{}, fmt.Errorf("parse job file: %w", err)
	}
	return domain.CommandJob{
		Name:           f.Name,
		CodePath:       f.Code,
		Command:        f.Command,
		Environment:    f.Environment,
		Compute:        f.Compute,
		DisplayName:    f.DisplayName,
		ExperimentName: f.ExperimentName,
		Description:    f.Description,
		Tags:           domain.Tags(f.Tags),
		EnvVars:        f.EnvironmentVariables,
	}, nil
}
