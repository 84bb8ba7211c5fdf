// Package uuid generates run request identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements catalog.IDGenerator with UUID v7 strings, which sort
// by submission time.
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
