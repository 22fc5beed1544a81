package state

import (
	"encoding/json"
	"log/slog"

	"github.com/starford/markpad/internal/models"
	"github.com/starford/markpad/internal/persist"
)

// Mirror keeps the tab-scoped copy of what the tab is showing. It is
// overwritten in place on every change and never enters the history.
type Mirror struct {
	p      *persist.Adapter
	logger *slog.Logger
}

// NewMirror returns a Mirror writing through p.
func NewMirror(p *persist.Adapter, logger *slog.Logger) *Mirror {
	return &Mirror{p: p, logger: logger}
}

// Project returns the persisted projection of s.
func Project(s State) models.MirrorState {
	return models.MirrorState{
		Content:      s.Content,
		StorageKey:   s.StorageKey,
		EditorTheme:  s.Config.EditorTheme,
		PreviewTheme: s.Config.PreviewTheme,
		DarkMode:     s.Config.DarkMode,
	}
}

// OnChange is the subscriber writing the projection after each change.
func (m *Mirror) OnChange(ch Change) {
	_ = m.Write(Project(ch.Next))
}

// Write stores st in the tab's buffer slot.
func (m *Mirror) Write(st models.MirrorState) error {
	raw, err := json.Marshal(models.MirrorEnvelope{State: st, Version: models.StateVersion})
	if err != nil {
		return err
	}
	// The adapter logs failures; the tab keeps working on its in-memory state.
	return m.p.Write(persist.BufferName, string(raw))
}

// Load reads the mirrored projection. An unreadable mirror counts as absent.
func (m *Mirror) Load() (models.MirrorState, bool) {
	raw, ok := m.p.Read(persist.BufferName)
	if !ok {
		return models.MirrorState{}, false
	}
	var env models.MirrorEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		m.logger.Warn("state: mirror unreadable, ignoring", slog.String("error", err.Error()))
		return models.MirrorState{}, false
	}
	return env.State, true
}
