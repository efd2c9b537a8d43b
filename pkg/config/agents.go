// Package config loads agent definition files. Definitions are authored in
// YAML or JSON; YAML documents are normalized through JSON so both formats
// decode through the same struct tags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/outflowhq/outflow/pkg/models"
)

var ErrUnsupportedFormat = errors.New("unsupported definition format")

// LoadAgentDefinition reads one agent definition file. The format is chosen
// by extension: .yaml/.yml or .json.
func LoadAgentDefinition(path string) (*models.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file %s: %w", path, err)
	}

	raw, err := NormalizeJSON(path, data)
	if err != nil {
		return nil, err
	}

	var definition models.AgentDefinition

	err = json.Unmarshal(raw, &definition)
	if err != nil {
		return nil, fmt.Errorf("failed to decode definition %s: %w", path, err)
	}

	return &definition, nil
}

// NormalizeJSON returns the file content as JSON bytes regardless of the
// authored format, so schema validation sees one representation.
func NormalizeJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any

		err := yaml.Unmarshal(data, &doc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML %s: %w", path, err)
		}

		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize YAML %s: %w", path, err)
		}

		return raw, nil
	case ".json":
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadAgentDir loads every definition file in the directory, sorted by file
// name so load order is stable.
func LoadAgentDir(dir string) ([]*models.AgentDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	definitions := make([]*models.AgentDefinition, 0, len(names))

	for _, name := range names {
		definition, err := LoadAgentDefinition(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}

		definitions = append(definitions, definition)
	}

	return definitions, nil
}
