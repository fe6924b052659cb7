// Package manifest provides loading and validation of codeq submission
// manifests.
//
// A submission manifest is a YAML or JSON file kept next to (or inside) a
// code folder. It names the target datasite and the job metadata so a
// submission is reproducible without retyping flags.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// submission. The schema enforces strict typing and disallows unknown
// properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	target: owner@datasite.example
//	name: aggregate-stats
//	description: Mean and row count over the private frame
//	tags:
//	  - analytics
//	code:
//	  dir: .
//	  entry: run.sh
package manifest

import "path/filepath"

// Manifest represents a validated submission manifest.
//
// Required fields are Version and Target. Everything else is optional with
// defaults applied during loading.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	// Example: "https://schemas.runveil.dev/codeq/v1.0.0/job-manifest.schema.json"
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Target is the owner datasite identity the job is addressed to.
	Target string `json:"target" yaml:"target"`

	// Name labels the job. Empty defaults to the code folder's name at
	// submission time.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description is shown to the reviewer deciding the job.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Tags label the job for listing and filtering.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Code locates the submission payload (optional).
	Code CodeConfig `json:"code,omitempty" yaml:"code,omitempty"`
}

// CodeConfig locates the code folder and its entry script.
type CodeConfig struct {
	// Dir is the code folder, relative to the manifest file.
	// Default: ".".
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Entry is the script executed on the owner side, a bare file name
	// inside the code folder. Default: "run.sh".
	Entry string `json:"entry,omitempty" yaml:"entry,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultCodeDir is the default code folder, the manifest's own
	// directory.
	DefaultCodeDir = "."

	// DefaultEntry is the default entry script name.
	DefaultEntry = "run.sh"
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest so
// callers don't need to reason about empty strings.
func (m *Manifest) ApplyDefaults() {
	if m.Code.Dir == "" {
		m.Code.Dir = DefaultCodeDir
	}
	if m.Code.Entry == "" {
		m.Code.Entry = DefaultEntry
	}
}

// ResolveCodeDir returns the code folder for a manifest loaded from
// manifestPath. A relative Code.Dir is resolved against the manifest's own
// directory; an absolute one is used as-is.
func (m *Manifest) ResolveCodeDir(manifestPath string) string {
	dir := m.Code.Dir
	if dir == "" {
		dir = DefaultCodeDir
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(manifestPath), dir))
}
