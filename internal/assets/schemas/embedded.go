// Package schemasassets embeds the JSON schemas the module validates against.
//
// Embedding at compile time keeps validation working in installed binaries
// and library consumers, with no schema files on disk at run time.
package schemasassets

import _ "embed"

// JobManifestSchema is the JSON schema for job submission manifests.
//
//go:embed job-manifest.schema.json
var JobManifestSchema []byte
