// Package models defines the domain types for markpad.
package models

import "time"

// StateVersion is the schema version written with full editor state.
// Payloads carrying only content and key use version 0.
const StateVersion = 1

// SessionMetadata describes one snapshot in the history catalog.
type SessionMetadata struct {
	StorageKey     string    `json:"storageKey"`
	Title          string    `json:"title"`
	ContentPreview string    `json:"contentPreview"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModified   time.Time `json:"lastModified"`
}

// EditorConfig is the editor and preview configuration a tab carries
// alongside its buffer.
type EditorConfig struct {
	EditorTheme  string `json:"editorTheme"`
	PreviewTheme string `json:"previewTheme"`
	DarkMode     bool   `json:"darkMode"`
	FontSize     int    `json:"fontSize"`
	ShowEditor   bool   `json:"showEditor"`
	ShowPreview  bool   `json:"showPreview"`
	ScrollSync   bool   `json:"scrollSync"`
	WordWrap     bool   `json:"wordWrap"`
	LineNumbers  bool   `json:"lineNumbers"`
}

// DefaultEditorConfig returns the configuration a fresh tab starts with.
func DefaultEditorConfig() EditorConfig {
	return EditorConfig{
		EditorTheme:  "github",
		PreviewTheme: "github",
		FontSize:     14,
		ShowEditor:   true,
		ShowPreview:  true,
		ScrollSync:   true,
		WordWrap:     true,
		LineNumbers:  true,
	}
}

// DocumentState is the state object stored inside a snapshot payload.
// A nil EditorConfig marshals to content and storageKey only.
type DocumentState struct {
	Content    string `json:"content"`
	StorageKey string `json:"storageKey"`
	*EditorConfig
}

// Envelope is the serialized form written under a snapshot's storage key.
type Envelope struct {
	State   DocumentState `json:"state"`
	Version int           `json:"version"`
}

// MirrorState is the projection of a tab continuously mirrored into
// tab-scoped storage.
type MirrorState struct {
	Content      string `json:"content"`
	StorageKey   string `json:"storageKey"`
	EditorTheme  string `json:"editorTheme"`
	PreviewTheme string `json:"previewTheme"`
	DarkMode     bool   `json:"darkMode"`
}

// MirrorEnvelope wraps MirrorState the same way Envelope wraps DocumentState.
type MirrorEnvelope struct {
	State   MirrorState `json:"state"`
	Version int         `json:"version"`
}

// Draft is the debounced, tab-scoped summary of unsaved edits.
type Draft struct {
	Title          string    `json:"title"`
	ContentPreview string    `json:"contentPreview"`
	LastModified   time.Time `json:"lastModified"`
}
