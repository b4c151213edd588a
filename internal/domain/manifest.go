package domain

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DependencyManifest is a conda-style dependency file: a list of channels and
// package specs, optionally with a nested pip section.
type DependencyManifest struct {
	Name         string       `yaml:"name,omitempty"`
	Channels     []string     `yaml:"channels,omitempty"`
	Dependencies []Dependency `yaml:"dependencies"`
}

// Dependency is either a package spec ("python=3.10") or a pip block.
type Dependency struct {
	Package string
	Pip     []string
}

// NewManifest builds a manifest; pip packages go into a trailing pip block.
func NewManifest(name string, channels, packages, pip []string) DependencyManifest {
	m := DependencyManifest{
		Name:     name,
		Channels: cloneStrings(channels),
	}
	for _, p := range packages {
		m.Dependencies = append(m.Dependencies, Dependency{Package: p})
	}
	if len(pip) > 0 {
		m.Dependencies = append(m.Dependencies, Dependency{Pip: cloneStrings(pip)})
	}
	return m
}

func ParseManifest(data []byte) (DependencyManifest, error) {
	var m DependencyManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return DependencyManifest{}, fmt.Errorf("parse dependency manifest: %w", err)
	}
	return m, nil
}

func (m DependencyManifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode dependency manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m DependencyManifest) Clone() DependencyManifest {
	out := DependencyManifest{
		Name:     m.Name,
		Channels: cloneStrings(m.Channels),
	}
	if m.Dependencies != nil {
		out.Dependencies = make([]Dependency, len(m.Dependencies))
		for i, d := range m.Dependencies {
			out.Dependencies[i] = Dependency{Package: d.Package, Pip: cloneStrings(d.Pip)}
		}
	}
	return out
}

// Packages lists the conda package specs in declaration order.
func (m DependencyManifest) Packages() []string {
	var out []string
	for _, d := range m.Dependencies {
		if d.Pip == nil {
			out = append(out, d.Package)
		}
	}
	return out
}

// PipPackages flattens every pip block.
func (m DependencyManifest) PipPackages() []string {
	var out []string
	for _, d := range m.Dependencies {
		out = append(out, d.Pip...)
	}
	return out
}

func (d Dependency) MarshalYAML() (any, error) {
	if d.Pip != nil {
		return map[string][]string{"pip": d.Pip}, nil
	}
	return d.Package, nil
}

func (d *Dependency) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		d.Package = node.Value
		d.Pip = nil
		return nil
	case yaml.MappingNode:
		var block map[string][]string
		if err := node.Decode(&block); err != nil {
			return err
		}
		pip, ok := block["pip"]
		if !ok || len(block) != 1 {
			return fmt.Errorf("line %d: only a pip block may be nested in dependencies", node.Line)
		}
		if pip == nil {
			pip = []string{}
		}
		d.Package = ""
		d.Pip = pip
		return nil
	default:
		return fmt.Errorf("line %d: dependency must be a string or a pip block", node.Line)
	}
}
