// Package fixture provides a file-backed extractor. It serves artifacts
// from JSON fixture files, so jobs can run end to end without cloud
// credentials. The CLI uses it for dry runs and local development.
package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stacktake/stacktake/pkg/engine"
)

// File is the on-disk fixture format: one extractor with its descriptor
// and artifacts keyed by region. Region-agnostic fixtures put their
// artifacts under the empty region key.
type File struct {
	Descriptor engine.Descriptor            `json:"descriptor"`
	Artifacts  map[string][]engine.Artifact `json:"artifacts"`

	// FailRegions lists regions whose calls fail with a transient error,
	// for exercising failure handling in dry runs.
	FailRegions []string `json:"fail_regions,omitempty"`
}

// Extractor implements engine.Extractor from a loaded fixture file.
type Extractor struct {
	file File
}

// Load reads a single fixture file.
func Load(path string) (*Extractor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	if f.Descriptor.Provider == "" || f.Descriptor.Service == "" {
		return nil, fmt.Errorf("invalid fixture %s: descriptor must carry provider and service", path)
	}
	return &Extractor{file: f}, nil
}

// LoadDir loads every *.json fixture in a directory.
func LoadDir(dir string) ([]*Extractor, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	extractors := make([]*Extractor, 0, len(paths))
	for _, path := range paths {
		e, err := Load(path)
		if err != nil {
			return nil, err
		}
		extractors = append(extractors, e)
	}
	return extractors, nil
}

// New creates a fixture extractor directly from its in-memory form,
// mainly for tests.
func New(f File) *Extractor {
	return &Extractor{file: f}
}

// Describe implements engine.Extractor.
func (e *Extractor) Describe() engine.Descriptor {
	return e.file.Descriptor
}

// Run implements engine.Extractor. Filters match against artifact
// metadata: every filter key must be present with an equal string value.
func (e *Extractor) Run(ctx context.Context, region string, filters map[string]string) ([]engine.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, engine.NewTransientError("fixture call cancelled", err)
	}

	for _, fail := range e.file.FailRegions {
		if fail == region {
			return nil, engine.NewTransientError(
				fmt.Sprintf("fixture configured to fail in region %s", region), nil).
				WithCode(engine.ErrCodeExtractionFailed).
				WithExtractor(e.file.Descriptor.Key(), region)
		}
	}

	artifacts := e.file.Artifacts[region]
	if len(filters) == 0 {
		out := make([]engine.Artifact, len(artifacts))
		copy(out, artifacts)
		return out, nil
	}

	var out []engine.Artifact
	for _, a := range artifacts {
		if matches(a, filters) {
			out = append(out, a)
		}
	}
	return out, nil
}

func matches(a engine.Artifact, filters map[string]string) bool {
	for k, want := range filters {
		got, ok := a.Metadata[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}
