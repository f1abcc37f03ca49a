// Package catalogue loads application catalogues (stage and substage
// templates, parameters, attestations) from YAML, validates them, and serves
// them from a registry with atomic pointer swap.
package catalogue

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/composer/model"
)

// Loader scans directories for YAML catalogue files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new catalogue Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a Catalogue.
func (l *Loader) LoadAll(directories []string) ([]model.Catalogue, error) {
	var cats []model.Catalogue

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			cat, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			cats = append(cats, cat)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return cats, nil
}

// LoadFile loads and parses a single catalogue file. Stages without an
// explicit application id inherit the catalogue's.
func (l *Loader) LoadFile(path string) (model.Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Catalogue{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var cat model.Catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return model.Catalogue{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	for i := range cat.Stages {
		if cat.Stages[i].ApplicationID == 0 {
			cat.Stages[i].ApplicationID = cat.Application.ID
		}
	}

	cat.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	cat.SourceFile = path

	return cat, nil
}
