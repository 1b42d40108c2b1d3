package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectConfigFile is the name of the project config inside .beads/.
const ProjectConfigFile = "config.yaml"

// yamlOnlyKeys are read before the database is opened, so a value in the
// config table would never take effect.
var yamlOnlyKeys = map[string]bool{
	KeyJSON:        true,
	KeyDB:          true,
	KeyJSONL:       true,
	KeyActor:       true,
	KeyLockTimeout: true,
}

// IsYamlOnlyKey reports whether key belongs in config.yaml rather than the
// database config table.
func IsYamlOnlyKey(key string) bool {
	return yamlOnlyKeys[key] || strings.HasPrefix(key, "db.")
}

// SetProjectValue writes key into the config.yaml found by walking up from
// the working directory. Dotted keys become nested mappings; comments and
// unrelated keys are preserved.
func SetProjectValue(key, value string) error {
	path, err := findProjectConfigYaml()
	if err != nil {
		return err
	}
	return SetYamlValue(path, key, value)
}

// SetYamlValue writes key into the YAML file at path, creating the file if
// it does not exist.
func SetYamlValue(path, key, value string) error {
	content, err := os.ReadFile(path) // #nosec G304 - path is the project config file
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	updated, err := setYamlKey(content, key, value)
	if err != nil {
		return fmt.Errorf("update %s in %s: %w", key, path, err)
	}
	if err := os.WriteFile(path, updated, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func setYamlKey(content []byte, key, value string) ([]byte, error) {
	parts := strings.Split(strings.TrimSpace(key), ".")
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("invalid key %q", key)
		}
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(content)) > 0 {
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, err
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level is not a mapping")
	}

	node := root
	for i, part := range parts {
		last := i == len(parts)-1
		child := mappingValue(node, part)
		if child == nil && !last {
			// A flat dotted key written by hand takes precedence over nesting.
			if flat := mappingValue(node, strings.Join(parts[i:], ".")); flat != nil {
				setScalar(flat, value)
				return encodeYaml(&doc)
			}
		}
		switch {
		case last && child != nil:
			setScalar(child, value)
		case last:
			node.Content = append(node.Content, scalarNode(part), newScalar(value))
		case child == nil:
			child = &yaml.Node{Kind: yaml.MappingNode}
			node.Content = append(node.Content, scalarNode(part), child)
			node = child
		case child.Kind != yaml.MappingNode:
			return nil, fmt.Errorf("%s is a value, not a section", strings.Join(parts[:i+1], "."))
		default:
			node = child
		}
	}
	return encodeYaml(&doc)
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func scalarNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func newScalar(value string) *yaml.Node {
	n := &yaml.Node{}
	setScalar(n, value)
	return n
}

// setScalar replaces n with a plain scalar. The encoder quotes the value
// when plain style would not parse back to it, so booleans, numbers and
// durations stay unquoted.
func setScalar(n *yaml.Node, value string) {
	comment := n.LineComment
	*n = yaml.Node{Kind: yaml.ScalarNode, Value: value, LineComment: comment}
}

func encodeYaml(doc *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// findProjectConfigYaml walks up from the working directory to the nearest
// .beads/config.yaml.
func findProjectConfigYaml() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		path := filepath.Join(dir, ".beads", ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}
	return "", fmt.Errorf("no .beads/%s found (run 'bd init' first)", ProjectConfigFile)
}
