package domain

import (
	"strings"
	"time"
)

// CuratedPrefix marks vendor-provided environments.
const CuratedPrefix = "curated-"

func IsCurated(name string) bool {
	return strings.HasPrefix(name, CuratedPrefix)
}

// LatestEnvironment references the newest registered version of name.
func LatestEnvironment(name string) string {
	return name + "@latest"
}

// EnvironmentRef references one pinned version of name.
func EnvironmentRef(name, version string) string {
	return name + ":" + version
}

// Environment is a registration request. Versions are assigned remotely.
type Environment struct {
	Name        string
	Image       string
	Manifest    *DependencyManifest
	Description string
	Tags        Tags
}

func (e Environment) Clone() Environment {
	out := e
	out.Tags = e.Tags.Clone()
	if e.Manifest != nil {
		m := e.Manifest.Clone()
		out.Manifest = &m
	}
	return out
}

type BuildState string

const (
	BuildStateNotStarted BuildState = "NotStarted"
	BuildStateRunning    BuildState = "Running"
	BuildStateSucceeded  BuildState = "Succeeded"
	BuildStateFailed     BuildState = "Failed"
)

// EnvironmentVersion is one registered version of an environment.
type EnvironmentVersion struct {
	Name        string
	Version     string
	Image       string
	CondaFile   string
	Description string
	Tags        Tags
	BuildState  BuildState
	CreatedAt   time.Time
}

func (v EnvironmentVersion) Ref() string {
	return EnvironmentRef(v.Name, v.Version)
}

// EnvironmentSummary is one entry of the environment listing.
type EnvironmentSummary struct {
	Name          string
	LatestVersion string
	Description   string
	Tags          Tags
	UpdatedAt     time.Time
}
