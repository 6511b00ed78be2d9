// Package storage holds the record layout shared by the state store drivers.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/dsamentor/mentor/internal/domain"
)

// Record names. Both are written together on every mutation.
const (
	RecordEffort = "effortState"
	RecordApp    = "appState"
)

// EncodeSnapshot splits a snapshot into its named records
func EncodeSnapshot(s domain.Snapshot) (map[string][]byte, error) {
	effort, err := json.Marshal(s.Effort)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", RecordEffort, err)
	}
	app, err := json.Marshal(s.App)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", RecordApp, err)
	}
	return map[string][]byte{RecordEffort: effort, RecordApp: app}, nil
}

// DecodeSnapshot rebuilds a snapshot from named records. A missing record
// falls back to its default; no records at all is domain.ErrNotFound.
func DecodeSnapshot(records map[string][]byte, policy domain.Policy) (domain.Snapshot, error) {
	if len(records) == 0 {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	snap := domain.DefaultSnapshot(policy)
	if raw, ok := records[RecordEffort]; ok {
		if err := json.Unmarshal(raw, &snap.Effort); err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode %s: %w", RecordEffort, err)
		}
	}
	if raw, ok := records[RecordApp]; ok {
		if err := json.Unmarshal(raw, &snap.App); err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode %s: %w", RecordApp, err)
		}
	}
	return Normalize(snap, policy), nil
}

// Normalize fills zero values left by older or hand-edited records
func Normalize(s domain.Snapshot, policy domain.Policy) domain.Snapshot {
	if !s.App.Phase.Valid() {
		s.App.Phase = domain.PhaseThinking
	}
	if !s.App.Confidence.Valid() {
		s.App.Confidence = domain.ConfidenceLow
	}
	if s.App.ExplanationHistory == nil {
		s.App.ExplanationHistory = []string{}
	}
	if s.App.UsedHintTypes == nil {
		s.App.UsedHintTypes = []domain.HintCategory{}
	}
	if !s.Effort.Active {
		s.Effort = domain.DefaultEffortState(policy)
	}
	return s
}
