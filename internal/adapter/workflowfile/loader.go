// Package workflowfile reads workflow definitions from a YAML document.
package workflowfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// Document is the top-level shape of a workflow file.
type Document struct {
	Workflows []domain.Workflow `yaml:"workflows"`
}

// Load reads the workflow file at path.
func Load(path string) ([]domain.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file: %w", err)
	}
	ws, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ws, nil
}

// Parse decodes a workflow document. Unknown keys are rejected so that a
// misspelled field fails loudly instead of being dropped.
func Parse(r io.Reader) ([]domain.Workflow, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decoding workflows: %w", err)
	}

	seen := make(map[string]bool, len(doc.Workflows))
	for i, w := range doc.Workflows {
		if w.ID == "" {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("workflows[%d].id", i), Reason: "is required"}
		}
		if seen[w.ID] {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("workflows[%d].id", i), Reason: fmt.Sprintf("duplicate workflow id %q", w.ID)}
		}
		seen[w.ID] = true
	}
	return doc.Workflows, nil
}
