package storage

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Sync bookkeeping keys in the metadata table.
const (
	MetaJSONLContentHash = "jsonl_content_hash"
	MetaLastImportTime   = "last_import_time"
	MetaLastImportMtime  = "last_import_mtime"
	MetaLastExportTime   = "last_export_time"
	MetaSchemaVersion    = "schema_version"
)

// NormalizeMetadataValue converts a dependency metadata payload to a validated
// JSON string. Accepts string, []byte, or json.RawMessage; an empty payload
// becomes "{}".
func NormalizeMetadataValue(value interface{}) (string, error) {
	var jsonStr string

	switch v := value.(type) {
	case nil:
		return "{}", nil
	case string:
		jsonStr = v
	case []byte:
		jsonStr = string(v)
	case json.RawMessage:
		jsonStr = string(v)
	default:
		return "", fmt.Errorf("metadata must be string, []byte, or json.RawMessage, got %T", value)
	}

	if jsonStr == "" {
		return "{}", nil
	}
	if !json.Valid([]byte(jsonStr)) {
		return "", fmt.Errorf("metadata is not valid JSON")
	}
	return jsonStr, nil
}

// validMetadataKeyRe allows alphanumeric, underscore, and dot.
var validMetadataKeyRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// ValidateMetadataKey checks that a metadata or config key is well formed.
func ValidateMetadataKey(key string) error {
	if !validMetadataKeyRe.MatchString(key) {
		return fmt.Errorf("invalid metadata key %q: must match [a-zA-Z_][a-zA-Z0-9_.]*", key)
	}
	return nil
}
