// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Document is the YAML config file as a node tree. Working on nodes instead
// of the typed struct keeps comments and key order through every rewrite.
type Document struct {
	root yaml.Node
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	d := &Document{}
	d.root = yaml.Node{
		Kind:    yaml.DocumentNode,
		Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
	}
	return d
}

// LoadDocument parses the file at path; a missing file yields an empty
// document.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if errors.Is(err, fs.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	d := &Document{}
	if err := yaml.Unmarshal(data, &d.root); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if d.root.Kind == 0 || len(d.root.Content) == 0 {
		return NewDocument(), nil
	}
	return d, nil
}

func (d *Document) mapping() *yaml.Node {
	if d.root.Kind == yaml.DocumentNode && len(d.root.Content) > 0 {
		return d.root.Content[0]
	}
	return &d.root
}

// Decode materializes the typed tree from the document.
func (d *Document) Decode() (*Config, error) {
	cfg := &Config{}
	if err := d.mapping().Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Get returns the scalar at a dotted path.
func (d *Document) Get(path string) (string, bool) {
	node := d.mapping()
	for _, part := range strings.Split(path, ".") {
		next := childValue(node, part)
		if next == nil {
			return "", false
		}
		node = next
	}
	if node.Kind != yaml.ScalarNode {
		return "", false
	}
	return node.Value, true
}

// Set writes a value at a dotted path, creating intermediate mappings as
// needed. Comments attached to existing keys stay in place.
func (d *Document) Set(path string, value any) error {
	node := d.mapping()
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		next := childValue(node, part)
		if next == nil {
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			appendKey(node, part, next)
		}
		if next.Kind != yaml.MappingNode {
			return fmt.Errorf("config: %q is not a mapping", part)
		}
		node = next
	}

	var encoded yaml.Node
	if err := encoded.Encode(value); err != nil {
		return fmt.Errorf("config: encode %v: %w", value, err)
	}

	leaf := childValue(node, parts[len(parts)-1])
	if leaf == nil {
		appendKey(node, parts[len(parts)-1], &encoded)
		return nil
	}
	// Rewrite the node in place so head and line comments survive.
	leaf.Kind = encoded.Kind
	leaf.Tag = encoded.Tag
	leaf.Value = encoded.Value
	leaf.Content = encoded.Content
	leaf.Style = 0
	return nil
}

func childValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func appendKey(mapping *yaml.Node, key string, value *yaml.Node) {
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

// Bytes serializes the document, comments included.
func (d *Document) Bytes() ([]byte, error) {
	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(&d.root); err != nil {
		return nil, fmt.Errorf("config: encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("config: encode document: %w", err)
	}
	return []byte(sb.String()), nil
}

// Save writes the document atomically.
func (d *Document) Save(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// restore replaces the document content from serialized bytes.
func (d *Document) restore(data []byte) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("config: restore document: %w", err)
	}
	d.root = root
	return nil
}
