// Package field implements the shared signal space of the swarm.
//
// The field is a map from content fingerprint to Signal. Signals fade every
// tick with a per-kind exponential rate and merge on collision, raising
// confidence once per distinct emitter. The coordinator is the only writer;
// agents read through immutable Views captured at tick boundaries.
package field

import (
	"iter"
	"math"
	"slices"
	"sync"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"go.uber.org/zap"
)

// MergeResult reports what Submit did with a signal.
type MergeResult int

const (
	Rejected MergeResult = iota
	Inserted
	// Reinforced means a new distinct emitter raised confidence.
	Reinforced
	// Refreshed means an already-counted emitter repeated itself. Floors
	// were refreshed but nothing counts as progress.
	Refreshed
)

func (r MergeResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Reinforced:
		return "reinforced"
	case Refreshed:
		return "refreshed"
	default:
		return "rejected"
	}
}

// Progress reports whether the merge changed what the swarm knows.
func (r MergeResult) Progress() bool {
	return r == Inserted || r == Reinforced
}

// DecayReport summarizes one decay pass.
type DecayReport struct {
	Elapsed int64
	Expired int
	Active  int
}

// Stats is a point-in-time summary of the field.
type Stats struct {
	Active              int                  `json:"active"`
	TotalIntensity      float64              `json:"total_intensity"`
	AvgIntensity        float64              `json:"avg_intensity"`
	TotalReinforcements int                  `json:"total_reinforcements"`
	Corroborated        int                  `json:"corroborated"`
	ByKind              map[schemas.Kind]int `json:"by_kind"`
}

// Field is the signal map with its decay and reinforcement rules.
type Field struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	signals map[string]schemas.Signal
	// tick is the index of the last decay pass.
	tick int64
}

// New creates an empty field.
func New(cfg Config, logger *zap.Logger) (*Field, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Field{
		cfg:     cfg,
		logger:  logger.Named("field"),
		signals: make(map[string]schemas.Signal),
	}, nil
}

// Config returns the construction-time configuration.
func (f *Field) Config() Config { return f.cfg }

// Tick returns the index of the last decay pass.
func (f *Field) Tick() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.tick
}

// Len returns the number of live signals.
func (f *Field) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.signals)
}

// Get returns a copy of a live signal.
func (f *Field) Get(id string) (schemas.Signal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.signals[id]
	return s, ok
}

// -- Decay --

// Decay advances the field to tick. Each signal loses intensity by
// rate^Δt and TTL by Δt, and signals below epsilon or out of TTL are
// removed. A tick at or before the current one is a no-op.
func (f *Field) Decay(tick int64) DecayReport {
	f.mu.Lock()
	defer f.mu.Unlock()

	dt := tick - f.tick
	if dt <= 0 {
		return DecayReport{Active: len(f.signals)}
	}
	f.tick = tick

	report := DecayReport{Elapsed: dt}
	for id, s := range f.signals {
		rate := f.cfg.PolicyFor(s.Kind).DecayRate
		s.Intensity *= math.Pow(rate, float64(dt))
		s.TTL -= dt
		if s.Intensity < f.cfg.Epsilon || s.TTL <= 0 {
			delete(f.signals, id)
			report.Expired++
			continue
		}
		f.signals[id] = s
	}
	report.Active = len(f.signals)

	if report.Expired > 0 {
		f.logger.Debug("Signals expired.",
			zap.Int64("tick", tick),
			zap.Int("expired", report.Expired),
			zap.Int("active", report.Active))
	}
	return report
}

// -- Submit --

// Validate checks a signal before it may enter the field.
func (f *Field) Validate(s schemas.Signal) error {
	if s.Payload == nil {
		return invariant(s.ID, "nil payload")
	}
	if s.Payload.Kind() != s.Kind {
		return invariant(s.ID, "payload kind %q does not match signal kind %q", s.Payload.Kind(), s.Kind)
	}
	if !schemas.IsRegistered(s.Kind) {
		return invariant(s.ID, "unregistered kind %q", s.Kind)
	}
	if want := Fingerprint(s.Kind, s.Payload); s.ID != want {
		return invariant(s.ID, "id does not match fingerprint %s", want)
	}
	if err := s.CheckRanges(); err != nil {
		return invariant(s.ID, "%v", err)
	}
	if s.TTL <= 0 {
		return invariant(s.ID, "non-positive ttl %d", s.TTL)
	}
	if s.EmitterID == "" {
		return invariant(s.ID, "missing emitter")
	}
	return nil
}

// Submit inserts a new signal or merges it into the existing one with the
// same ID. A malformed signal is rejected and the field left untouched.
func (f *Field) Submit(s schemas.Signal) (MergeResult, error) {
	if err := f.Validate(s); err != nil {
		return Rejected, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	policy := f.cfg.PolicyFor(s.Kind)
	existing, ok := f.signals[s.ID]
	if !ok {
		s.ReinforcedBy = nil
		s.ReinforcementCount = 0
		s.CreatedAt = f.tick
		s.LastTouchedAt = f.tick
		s.Corroborated = policy.Quorum <= 0
		f.signals[s.ID] = s
		return Inserted, nil
	}

	existing.Intensity = math.Max(existing.Intensity, s.Intensity)
	existing.TTL = max(existing.TTL, s.TTL)
	existing.LastTouchedAt = f.tick

	result := Refreshed
	if !existing.HasEmitter(s.EmitterID) {
		existing.Confidence = math.Min(1, existing.Confidence+policy.Boost)
		existing.ReinforcementCount++
		existing.ReinforcedBy = insertSorted(existing.ReinforcedBy, s.EmitterID)
		existing.Corroborated = existing.ReinforcementCount >= policy.Quorum
		result = Reinforced
	}
	f.signals[s.ID] = existing
	return result, nil
}

// insertSorted returns a new slice so views holding the old one stay intact.
func insertSorted(set []string, id string) []string {
	i, _ := slices.BinarySearch(set, id)
	next := make([]string, 0, len(set)+1)
	next = append(next, set[:i]...)
	next = append(next, id)
	return append(next, set[i:]...)
}

// -- Reads --

// View captures an immutable copy of the field.
func (f *Field) View() *View {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return newView(f.tick, f.signals)
}

// Query runs a single-pass query over a consistent copy of the field.
func (f *Field) Query(pred Predicate) iter.Seq[schemas.Signal] {
	return f.View().Query(pred)
}

// Stats summarizes the live signals.
func (f *Field) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	st := Stats{Active: len(f.signals), ByKind: make(map[schemas.Kind]int)}
	for _, s := range f.signals {
		st.TotalIntensity += s.Intensity
		st.TotalReinforcements += s.ReinforcementCount
		st.ByKind[s.Kind]++
		if s.Corroborated {
			st.Corroborated++
		}
	}
	if st.Active > 0 {
		st.AvgIntensity = st.TotalIntensity / float64(st.Active)
	}
	return st
}

// CheckInvariants verifies every live signal. It returns the first violation
// in ID order.
func (f *Field) CheckInvariants() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.signals))
	for id := range f.signals {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if err := f.checkStored(id, f.signals[id]); err != nil {
			return err
		}
	}
	return nil
}

func (f *Field) checkStored(key string, s schemas.Signal) error {
	if s.ID != key {
		return invariant(s.ID, "stored under key %s", key)
	}
	if err := f.Validate(s); err != nil {
		return err
	}
	if s.ReinforcementCount != len(s.ReinforcedBy) {
		return invariant(s.ID, "reinforcement count %d does not match %d reinforcers", s.ReinforcementCount, len(s.ReinforcedBy))
	}
	if !slices.IsSorted(s.ReinforcedBy) || len(slices.Compact(slices.Clone(s.ReinforcedBy))) != len(s.ReinforcedBy) {
		return invariant(s.ID, "reinforcers not a sorted set")
	}
	if slices.Contains(s.ReinforcedBy, s.EmitterID) {
		return invariant(s.ID, "original emitter counted as reinforcer")
	}
	if want := s.ReinforcementCount >= f.cfg.PolicyFor(s.Kind).Quorum; s.Corroborated != want {
		return invariant(s.ID, "corroborated flag is %v, want %v", s.Corroborated, want)
	}
	return nil
}
