package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a manifest file, validates it against the schema, and
// applies defaults.
//
// Format follows the extension: .yaml/.yml for YAML, .json for JSON.
// Anything else is tried as YAML first, then as JSON.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading manifest: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a manifest held in memory. The path
// is used for format detection and error messages only; empty means the
// format is unknown.
//
// The document is validated in raw form before it is bound to the
// Manifest type, so fields the schema does not know are rejected rather
// than silently dropped.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(data) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	jsonData, err := canonicalJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	m.ApplyDefaults()
	return &m, nil
}

// LoadFromReader reads a manifest from r and validates it like
// LoadFromBytes.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// canonicalJSON renders the manifest document as JSON, whatever format it
// arrived in, so validation and binding always see the same bytes.
func canonicalJSON(data []byte, path string) ([]byte, error) {
	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
		}
		return data, nil
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
		}
	default:
		if yamlErr := yaml.Unmarshal(data, &doc); yamlErr != nil {
			// yaml.v3 rejects a few documents plain JSON accepts,
			// duplicated keys among them.
			if json.Unmarshal(data, &doc) == nil {
				return data, nil
			}
			return nil, fmt.Errorf("failed to parse manifest (tried YAML and JSON): %w", yamlErr)
		}
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	return jsonData, nil
}
