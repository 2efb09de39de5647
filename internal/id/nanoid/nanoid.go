// Package nanoid generates workflow-run identifiers.
package nanoid

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultLength is the size of a workflow-run identifier.
const DefaultLength = 16

// Generator creates URL-safe random identifiers.
type Generator struct {
	length int
}

// New returns a Generator producing identifiers of DefaultLength.
func New() *Generator {
	return &Generator{length: DefaultLength}
}

// NewWithLength returns a Generator producing identifiers of n characters.
func NewWithLength(n int) *Generator {
	if n <= 0 {
		n = DefaultLength
	}
	return &Generator{length: n}
}

// NewID returns a fresh identifier from the default URL-safe alphabet.
func (g *Generator) NewID() (string, error) {
	id, err := gonanoid.New(g.length)
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return id, nil
}
