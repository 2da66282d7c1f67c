// Package config handles configuration loading and management for hitwire.
//
// It provides functionality for:
//   - Loading .hitwire.json or .hitwire.yaml files
//   - Validating documents against an embedded JSON schema
//   - Default values and merging of flag overrides
package config
