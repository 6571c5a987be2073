package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSnapshot wraps schema violations in a decoded snapshot.
var ErrInvalidSnapshot = errors.New("host: invalid snapshot")

const snapshotSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "characterId": {"type": "string"},
    "sessionId":   {"type": "string"},
    "name1":       {"type": "string"},
    "name2":       {"type": "string"},
    "userPersona": {"type": "string"},
    "character": {
      "type": "object",
      "properties": {
        "description": {"type": "string"},
        "scenario":    {"type": "string"},
        "personality": {"type": "string"}
      }
    },
    "transcript": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["text"],
        "properties": {
          "text":   {"type": "string"},
          "isUser": {"type": "boolean"}
        }
      }
    },
    "characterBookEntries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["content"],
        "properties": {"content": {"type": "string"}}
      }
    },
    "memoryLedger": {
      "type": ["object", "null"],
      "properties": {
        "entries": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "date":    {"type": "string"},
              "summary": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

var snapshotSchema = jsonschema.MustCompileString("snapshot.schema.json", snapshotSchemaJSON)

// Parse decodes a snapshot from JSON or YAML (YAML being a superset of
// JSON) and validates its shape.
func Parse(data []byte) (*Snapshot, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("host: parse snapshot: %w", err)
	}
	if generic == nil {
		return &Snapshot{}, nil
	}

	// Round-trip through encoding/json so the validator sees the same value
	// shapes regardless of the input syntax.
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("host: normalize snapshot: %w", err)
	}
	var doc any
	if err := json.Unmarshal(canonical, &doc); err != nil {
		return nil, fmt.Errorf("host: normalize snapshot: %w", err)
	}
	if err := snapshotSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(canonical, &snap); err != nil {
		return nil, fmt.Errorf("host: decode snapshot: %w", err)
	}
	return &snap, nil
}

// LoadFile reads and parses a snapshot file.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("host: read %s: %w", path, err)
	}
	return Parse(data)
}
