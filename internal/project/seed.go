package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Projects []Project `yaml:"projects"`
}

// LoadSeedFile reads a YAML file of the form
//
//	projects:
//	  - id: proj1
//	    name: Project One
//	    path: /srv/proj1
func LoadSeedFile(path string) ([]Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, p := range f.Projects {
		if p.ID == "" || p.Path == "" {
			return nil, fmt.Errorf("seed file entry %d: id and path are required", i)
		}
	}
	return f.Projects, nil
}

// FromStatic converts the config id->path table into projects, sorted by ID.
func FromStatic(static map[string]string) []Project {
	out := make([]Project, 0, len(static))
	for id, path := range static {
		out = append(out, Project{ID: id, Name: filepath.Base(path), Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Seed upserts every project. Relative paths are made absolute.
func (s *Store) Seed(ctx context.Context, projects []Project) error {
	for i := range projects {
		p := projects[i]
		if !filepath.IsAbs(p.Path) {
			abs, err := filepath.Abs(p.Path)
			if err != nil {
				return fmt.Errorf("project %s: %w", p.ID, err)
			}
			p.Path = abs
		}
		if err := s.UpsertProject(ctx, &p); err != nil {
			return fmt.Errorf("seed project %s: %w", p.ID, err)
		}
	}
	return nil
}
