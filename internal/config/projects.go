package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Project is one registered working directory agents can be pointed at.
type Project struct {
	// Path is the project directory on disk.
	Path string `yaml:"path"`
	// Repo is the GitHub full name used for webhook routing, if any.
	Repo string `yaml:"repo,omitempty"`
	// ChatID receives notifications for this project's repository.
	ChatID int64 `yaml:"chat_id,omitempty"`
}

// Projects is the named project registry, stored as projects.yaml next to
// the user config.
type Projects map[string]Project

// ProjectsPath returns the registry file location.
func ProjectsPath() string {
	return filepath.Join(userConfigDir(), "projects.yaml")
}

// LoadProjects reads the registry. A missing file is an empty registry.
func LoadProjects(path string) (Projects, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Projects{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read projects registry: %w", err)
	}

	var projects Projects
	if err := yaml.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("parse projects registry: %w", err)
	}
	if projects == nil {
		projects = Projects{}
	}
	return projects, nil
}

// Save writes the registry back to disk.
func (p Projects) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal projects registry: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write projects registry: %w", err)
	}
	return nil
}

// Names returns the project names sorted.
func (p Projects) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
