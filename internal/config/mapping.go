package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/BartekS5/archive-ingest/pkg/models"
)

const (
	DefaultPageSize  = 10000
	DefaultPageDelay = 500 * time.Millisecond
)

// LoadProfiles reads and parses the fetch profiles file from the given path.
func LoadProfiles(filePath string) (*models.ProfilesFile, error) {
	bytes, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file '%s': %w", filePath, err)
	}

	var file models.ProfilesFile
	if err := json.Unmarshal(bytes, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file '%s': %w", filePath, err)
	}

	return &file, nil
}

// FindProfile returns the named profile with defaults applied.
func FindProfile(file *models.ProfilesFile, name string) (models.FetchProfile, error) {
	for _, p := range file.Profiles {
		if p.Name == name {
			return WithDefaults(p), nil
		}
	}
	return models.FetchProfile{}, fmt.Errorf("could not find profile with name '%s'", name)
}

// WithDefaults fills page size, delay, field list and file names.
func WithDefaults(p models.FetchProfile) models.FetchProfile {
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageDelay <= 0 {
		p.PageDelay = models.Duration(DefaultPageDelay)
	}
	if len(p.Fields) == 0 {
		p.Fields = models.SearchFields
	}
	if p.Output == "" && p.Name != "" {
		p.Output = fmt.Sprintf("scrape_%s_v1.ndjson", p.Name)
	}
	if p.CheckpointFile == "" && p.Name != "" {
		p.CheckpointFile = fmt.Sprintf("checkpoint_%s_v1.json", p.Name)
	}
	return p
}

// Validate reports missing required profile values.
func Validate(p models.FetchProfile) error {
	switch {
	case p.Query == "":
		return fmt.Errorf("profile %q: query is required", p.Name)
	case p.Output == "":
		return fmt.Errorf("profile %q: output is required", p.Name)
	case p.CheckpointFile == "":
		return fmt.Errorf("profile %q: checkpoint is required", p.Name)
	}
	return nil
}
