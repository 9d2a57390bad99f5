package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/torosent/pipefire/internal/header"
)

// DefaultScenarioFile is looked up when the scenario path is a directory. Relative
// body files are then resolved against the "body" subdirectory.
const DefaultScenarioFile = "request.yml"

// LoadScenarios reads a scenario file, or DefaultScenarioFile inside a directory, and
// returns the scenarios together with the directory relative body files resolve
// against.
func LoadScenarios(path string) ([]Scenario, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("scenario file: %w", err)
	}

	file, bodyDir := path, filepath.Dir(path)
	if info.IsDir() {
		file = filepath.Join(path, DefaultScenarioFile)
		bodyDir = filepath.Join(path, "body")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, "", fmt.Errorf("scenario file: %w", err)
	}
	scenarios, err := ParseScenarios(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", file, err)
	}
	return scenarios, bodyDir, nil
}

// ParseScenarios decodes a YAML list of scenarios. Unknown fields are rejected.
func ParseScenarios(data []byte) ([]Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var scenarios []Scenario
	if err := dec.Decode(&scenarios); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return scenarios, nil
}

// UnmarshalYAML accepts either a mapping of name to value or a list of single-entry
// mappings, the latter allowing repeated names.
func (h *Headers) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(Headers, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			hdr, err := headerFromNodes(node.Content[i], node.Content[i+1])
			if err != nil {
				return err
			}
			out = append(out, hdr)
		}
		*h = out
	case yaml.SequenceNode:
		out := make(Headers, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
				return fmt.Errorf("line %d: header list entries must be single \"name: value\" pairs", item.Line)
			}
			hdr, err := headerFromNodes(item.Content[0], item.Content[1])
			if err != nil {
				return err
			}
			out = append(out, hdr)
		}
		*h = out
	case yaml.ScalarNode:
		if node.Tag != "!!null" {
			return fmt.Errorf("line %d: headers must be a mapping", node.Line)
		}
		*h = nil
	default:
		return fmt.Errorf("line %d: headers must be a mapping", node.Line)
	}
	return nil
}

func headerFromNodes(key, value *yaml.Node) (header.Header, error) {
	if key.Kind != yaml.ScalarNode || value.Kind != yaml.ScalarNode {
		return header.Header{}, fmt.Errorf("line %d: header %q must have a scalar value", key.Line, key.Value)
	}
	if key.Value == "" {
		return header.Header{}, fmt.Errorf("line %d: header key cannot be empty", key.Line)
	}
	return header.Header{Name: key.Value, Value: value.Value}, nil
}
