// Package memory provides in-process implementations of the coordination,
// blob, and relational stores for development and tests.
package memory
