// Package payload reads token payload files for the beam CLI and watches them
// for edits.
package payload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/token-beam/token-beam/pkg/tokens"
)

// Load reads path and returns its payload as validated JSON. Files ending in
// .yaml or .yml are converted from YAML; everything else is read as JSON.
func Load(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return Decode(data, formatOf(path))
}

// Decode converts data in the given format ("json" or "yaml") to validated
// JSON.
func Decode(data []byte, format string) (json.RawMessage, error) {
	raw := json.RawMessage(data)
	if format == "yaml" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
		raw = b
	}
	if err := tokens.Validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Encode renders raw in the given format for display or storage.
func Encode(raw json.RawMessage, format string) ([]byte, error) {
	switch format {
	case "yaml":
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return yaml.Marshal(doc)
	case "flat":
		p, err := tokens.Parse(raw)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, path := range tokens.Flatten(p) {
			fmt.Fprintf(&sb, "%s/%s/%s\t%s\t%v\n", path.Collection, path.Mode, path.Token.Name, path.Token.Type, path.Token.Value)
		}
		return []byte(sb.String()), nil
	default:
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}
