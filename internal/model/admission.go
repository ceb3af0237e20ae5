package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/mo"
	"gopkg.in/yaml.v3"
)

// SkipReason explains why a configured disease was left out of the session.
type SkipReason string

const (
	SkipArtifactMissing     SkipReason = "artifact-missing"
	SkipNameMissing         SkipReason = "name-missing"
	SkipThresholdMissing    SkipReason = "threshold-missing"
	SkipThresholdOutOfRange SkipReason = "threshold-out-of-range"
)

// Admission is the setup-time verdict for one configured disease: either
// Admitted or Skipped.
type Admission interface {
	DiseaseID() string
	admission()
}

// Admitted is a disease that takes part in inference.
type Admitted struct {
	Definition   DiseaseDefinition
	ArtifactPath string
}

// Skipped is a disease that is unsupported in this deployment.
type Skipped struct {
	ID     string
	Reason SkipReason
}

func (a Admitted) DiseaseID() string { return a.Definition.ID }

func (Admitted) admission() {}

func (s Skipped) DiseaseID() string { return s.ID }

func (Skipped) admission() {}

// metadataEntry is one disease in the metadata resource. treshold is the
// spelling older metadata files use.
type metadataEntry struct {
	Name        *string  `json:"name" yaml:"name"`
	Threshold   *float64 `json:"threshold" yaml:"threshold"`
	ThresholdV0 *float64 `json:"treshold" yaml:"treshold"`
}

func (e metadataEntry) name() mo.Option[string] {
	if e.Name == nil || strings.TrimSpace(*e.Name) == "" {
		return mo.None[string]()
	}
	return mo.Some(*e.Name)
}

func (e metadataEntry) threshold() mo.Option[float64] {
	switch {
	case e.Threshold != nil:
		return mo.Some(*e.Threshold)
	case e.ThresholdV0 != nil:
		return mo.Some(*e.ThresholdV0)
	default:
		return mo.None[float64]()
	}
}

// readMetadata parses the disease metadata resource. YAML is used for .yaml
// and .yml files, JSON otherwise.
func readMetadata(path string) (map[string]metadataEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Resource: path, Err: err}
	}

	entries := make(map[string]metadataEntry)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &entries)
	default:
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, &ConfigurationError{Resource: path, Err: fmt.Errorf("failed to parse metadata: %w", err)}
	}
	return entries, nil
}

// findArtifact returns the first existing <dir>/<id><ext>.
func findArtifact(dir, id string, exts []string) (string, bool) {
	for _, ext := range exts {
		p := filepath.Join(dir, id+ext)
		info, err := os.Stat(p)
		if err == nil && info.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

// admit decides every configured disease, in identifier order.
func admit(entries map[string]metadataEntry, modelDir string, exts []string) []Admission {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Admission, 0, len(ids))
	for _, id := range ids {
		out = append(out, admitOne(id, entries[id], modelDir, exts))
	}
	return out
}

func admitOne(id string, e metadataEntry, modelDir string, exts []string) Admission {
	path, ok := findArtifact(modelDir, id, exts)
	if !ok {
		return Skipped{ID: id, Reason: SkipArtifactMissing}
	}
	name, ok := e.name().Get()
	if !ok {
		return Skipped{ID: id, Reason: SkipNameMissing}
	}
	threshold, ok := e.threshold().Get()
	if !ok {
		return Skipped{ID: id, Reason: SkipThresholdMissing}
	}
	if threshold < 0 || threshold > 1 {
		return Skipped{ID: id, Reason: SkipThresholdOutOfRange}
	}
	return Admitted{
		Definition:   DiseaseDefinition{ID: id, Name: name, Threshold: threshold},
		ArtifactPath: path,
	}
}
