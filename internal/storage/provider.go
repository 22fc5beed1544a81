// Package storage defines the export-directory file-system abstraction.
package storage

import "github.com/starford/markpad/internal/models"

// Provider is the interface for export file operations. Paths are relative
// to the export root.
type Provider interface {
	// List returns metadata for every exported file.
	List() ([]models.ExportFile, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
}
