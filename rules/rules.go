// Package rules supplies the system rules and project descriptions given to
// the model. Rules live in a YAML or TOML file that can be reloaded while the
// server runs.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Project holds the settings of one project.
type Project struct {
	Rules       string `yaml:"rules" toml:"rules"`
	Description string `yaml:"description" toml:"description"`
}

// File is the on-disk layout of a rules file.
type File struct {
	GlobalRules string             `yaml:"global_rules" toml:"global_rules"`
	Projects    map[string]Project `yaml:"projects" toml:"projects"`
}

// FileStore serves rules loaded from a file.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	file   File
	logger *logrus.Entry
}

// Load reads the rules file at path. The format follows the extension:
// .toml for TOML, anything else is parsed as YAML.
func Load(path string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		logger: logrus.WithField("component", "rules"),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file. On failure the previous rules stay in effect.
func (s *FileStore) Reload() error {
	file, err := parseFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.file = file
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"path":     s.path,
		"projects": len(file.Projects),
	}).Info("Rules loaded")
	return nil
}

// Path returns the file the store reads.
func (s *FileStore) Path() string { return s.path }

// GlobalRules returns the rules applied to every conversation.
func (s *FileStore) GlobalRules() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.GlobalRules
}

// ProjectRules returns the rules of project, empty when unknown.
func (s *FileStore) ProjectRules(project string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Projects[project].Rules
}

// ProjectInfo returns the description of project, empty when unknown.
func (s *FileStore) ProjectInfo(project string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Projects[project].Description
}

// Projects returns the names of the configured projects.
func (s *FileStore) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.file.Projects))
	for name := range s.file.Projects {
		names = append(names, name)
	}
	return names
}

func parseFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading rules file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	var file File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, &file); err != nil {
			return File{}, fmt.Errorf("parsing rules file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
			return File{}, fmt.Errorf("parsing rules file: %w", err)
		}
	}
	return file, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Static is a fixed set of rules.
type Static struct {
	Global   string
	Projects map[string]string
}

func (s Static) GlobalRules() string                { return s.Global }
func (s Static) ProjectRules(project string) string { return s.Projects[project] }
