package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	ConfigFileName = "config.json"
	// ConfigDirName is also searched in every directory on the way up.
	ConfigDirName   = ".wsctl"
	DefaultEndpoint = "https://management.mlplatform.dev"
	EnvConfigPath   = "WSCTL_CONFIG"
)

var ErrConfigNotFound = errors.New("workspace config.json not found")

// Config identifies one remote workspace.
type Config struct {
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group"`
	WorkspaceName  string `json:"workspace_name"`
	Endpoint       string `json:"endpoint,omitempty"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.SubscriptionID) == "" {
		return errors.New("subscription_id is required")
	}
	if strings.TrimSpace(c.ResourceGroup) == "" {
		return errors.New("resource_group is required")
	}
	if strings.TrimSpace(c.WorkspaceName) == "" {
		return errors.New("workspace_name is required")
	}
	return nil
}

// FindConfig walks from startDir to the filesystem root and returns the first
// config.json or .wsctl/config.json it meets.
func FindConfig(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		for _, candidate := range []string{
			filepath.Join(dir, ConfigFileName),
			filepath.Join(dir, ConfigDirName, ConfigFileName),
		} {
			info, err := os.Stat(candidate)
			if err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w (searched upward from %s)", ErrConfigNotFound, startDir)
		}
		dir = parent
	}
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read workspace config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse workspace config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("workspace config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveConfig loads an explicit path when given, otherwise searches upward from startDir.
func ResolveConfig(explicitPath, startDir string) (Config, string, error) {
	path := explicitPath
	if path == "" {
		found, err := FindConfig(startDir)
		if err != nil {
			return Config{}, "", err
		}
		path = found
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}
