// Package schemas provides access to embedded JSON schemas.
package schemas

import (
	_ "embed"
)

// Embed the client definition JSON Schema into the binary for validation
// and tooling. The schema describes the YAML client definition format and
// enables IDE autocompletion, early validation, and schema-based tools.
//
//go:embed client.schema.json
var clientSchema []byte

// GetClientSchema returns the embedded client definition JSON Schema as raw
// bytes. This schema can be used for validation, IDE integration, or schema
// export.
func GetClientSchema() []byte {
	return clientSchema
}

// GetClientSchemaString returns the embedded client definition JSON Schema as
// a string. This is a convenience method for use cases that need the schema
// as a string.
func GetClientSchemaString() string {
	return string(clientSchema)
}
