// Package uuid generates time-ordered record IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings for news rows and queue jobs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewJobID returns a UUID7 string prefixed with the crawl source.
func (g Generator) NewJobID(source string) (string, error) {
	id, err := g.NewID()
	if err != nil {
		return "", err
	}
	if source == "" {
		return id, nil
	}
	return source + "-" + id, nil
}
