package field

import (
	"fmt"
	"slices"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/darkswarm/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const snapshotVersion = 1

// Snapshot is the full deterministic state of a field.
type Snapshot struct {
	Tick int64
	// Signals are ordered by ID.
	Signals []schemas.Signal
}

// Snapshot captures the field state.
func (f *Field) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := Snapshot{Tick: f.tick, Signals: make([]schemas.Signal, 0, len(f.signals))}
	for _, s := range f.signals {
		out.Signals = append(out.Signals, s.Clone())
	}
	slices.SortFunc(out.Signals, func(a, b schemas.Signal) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Restore replaces the field contents with a snapshot. The snapshot is
// checked in full first, so a bad snapshot leaves the field unchanged.
func (f *Field) Restore(snap Snapshot) error {
	if snap.Tick < 0 {
		return fmt.Errorf("%w: negative tick %d", ErrBadSnapshot, snap.Tick)
	}
	restored := make(map[string]schemas.Signal, len(snap.Signals))
	for _, s := range snap.Signals {
		if _, dup := restored[s.ID]; dup {
			return fmt.Errorf("%w: duplicate signal %s", ErrBadSnapshot, s.ID)
		}
		s = s.Clone()
		if err := f.checkStored(s.ID, s); err != nil {
			return fmt.Errorf("%w: %w", ErrBadSnapshot, err)
		}
		restored[s.ID] = s
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = restored
	f.tick = snap.Tick
	return nil
}

// -- Encoding --

type wireSnapshot struct {
	Version int          `json:"version"`
	Tick    int64        `json:"tick"`
	Signals []wireSignal `json:"signals"`
}

type wireSignal struct {
	ID                 string              `json:"id"`
	Kind               schemas.Kind        `json:"kind"`
	Payload            jsoniter.RawMessage `json:"payload"`
	Intensity          float64             `json:"intensity"`
	Confidence         float64             `json:"confidence"`
	TTL                int64               `json:"ttl"`
	EmitterID          string              `json:"emitter_id"`
	ReinforcedBy       []string            `json:"reinforced_by,omitempty"`
	ReinforcementCount int                 `json:"reinforcement_count"`
	Corroborated       bool                `json:"corroborated"`
	CreatedAt          int64               `json:"created_at"`
	LastTouchedAt      int64               `json:"last_touched_at"`
}

// MarshalSnapshot encodes a snapshot as an opaque blob.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	w := wireSnapshot{Version: snapshotVersion, Tick: snap.Tick, Signals: make([]wireSignal, 0, len(snap.Signals))}
	for _, s := range snap.Signals {
		raw, err := schemas.EncodePayload(s.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload of %s: %w", s.ID, err)
		}
		w.Signals = append(w.Signals, wireSignal{
			ID:                 s.ID,
			Kind:               s.Kind,
			Payload:            raw,
			Intensity:          s.Intensity,
			Confidence:         s.Confidence,
			TTL:                s.TTL,
			EmitterID:          s.EmitterID,
			ReinforcedBy:       s.ReinforcedBy,
			ReinforcementCount: s.ReinforcementCount,
			Corroborated:       s.Corroborated,
			CreatedAt:          s.CreatedAt,
			LastTouchedAt:      s.LastTouchedAt,
		})
	}
	return json.Marshal(w)
}

// UnmarshalSnapshot decodes a blob produced by MarshalSnapshot.
func UnmarshalSnapshot(blob []byte) (Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(blob, &w); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	if w.Version != snapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, w.Version)
	}
	snap := Snapshot{Tick: w.Tick, Signals: make([]schemas.Signal, 0, len(w.Signals))}
	for _, ws := range w.Signals {
		payload, err := schemas.DecodePayload(ws.Kind, ws.Payload)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: signal %s: %w", ErrBadSnapshot, ws.ID, err)
		}
		snap.Signals = append(snap.Signals, schemas.Signal{
			ID:                 ws.ID,
			Kind:               ws.Kind,
			Payload:            payload,
			Intensity:          ws.Intensity,
			Confidence:         ws.Confidence,
			TTL:                ws.TTL,
			EmitterID:          ws.EmitterID,
			ReinforcedBy:       ws.ReinforcedBy,
			ReinforcementCount: ws.ReinforcementCount,
			Corroborated:       ws.Corroborated,
			CreatedAt:          ws.CreatedAt,
			LastTouchedAt:      ws.LastTouchedAt,
		})
	}
	return snap, nil
}
