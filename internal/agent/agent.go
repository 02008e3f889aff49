// Package agent defines the sense/process/emit contract of swarm members and
// the concrete investigation agents.
//
// Agents never talk to each other. Each one reads the tick's immutable view,
// does its work through a collaborator and hands payloads back to the
// coordinator, which wraps them into signals and merges them at the barrier.
package agent

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/field"
)

// ErrNoWork reports that the agent found nothing to do this tick. It is not a failure.
var ErrNoWork = errors.New("no work")

// Agent is one member of the swarm.
type Agent interface {
	ID() string
	Kind() schemas.AgentKind
	// Sense selects the signals the agent reacts to. It must not block or mutate.
	Sense(view field.Reader) []schemas.Signal
	Process(ctx context.Context, sensed []schemas.Signal) ([]schemas.Payload, error)
	Emit(outputs []schemas.Payload) []schemas.Signal
}

// Emission holds the starting values of a freshly emitted signal.
type Emission struct {
	Intensity  float64
	Confidence float64
	TTL        int64
}

var fallbackEmission = Emission{Intensity: 0.5, Confidence: 0.5, TTL: 120}

var emissionDefaults = map[schemas.Kind]Emission{
	schemas.KindUserQuery:          {1.0, 1.0, 600},
	schemas.KindRefinedQuery:       {0.9, 0.7, 240},
	schemas.KindRawResult:          {0.7, 0.5, 180},
	schemas.KindFilteredResult:     {0.8, 0.6, 240},
	schemas.KindScrapedContent:     {0.8, 0.7, 360},
	schemas.KindExtractedArtifacts: {0.85, 0.7, 360},
	schemas.KindEnrichedArtifacts:  {0.8, 0.7, 240},
	schemas.KindInsight:            {0.8, 0.6, 240},
	schemas.KindSummary:            {1.0, 1.0, 1200},
	schemas.KindBlockchainAnalysis: {0.8, 0.8, 240},
	schemas.KindPasteContent:       {0.75, 0.7, 300},
}

// DefaultEmission returns the starting values for a kind.
func DefaultEmission(kind schemas.Kind) Emission {
	if e, ok := emissionDefaults[kind]; ok {
		return e
	}
	return fallbackEmission
}

// Base carries the identity and subscriptions shared by every agent and
// provides the default Sense and Emit. Concrete agents embed it.
type Base struct {
	id        string
	kind      schemas.AgentKind
	threshold float64
	kinds     []schemas.Kind
	Logger    *zap.Logger
}

// NewBase creates a Base subscribed to kinds at the given intensity threshold.
func NewBase(id string, kind schemas.AgentKind, threshold float64, logger *zap.Logger, kinds ...schemas.Kind) Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Base{
		id:        id,
		kind:      kind,
		threshold: threshold,
		kinds:     kinds,
		Logger:    logger.Named(string(kind)).With(zap.String("agent_id", id)),
	}
}

func (b *Base) ID() string { return b.id }

func (b *Base) Kind() schemas.AgentKind { return b.kind }

func (b *Base) SensingThreshold() float64 { return b.threshold }

func (b *Base) SubscribedKinds() []schemas.Kind { return b.kinds }

// Sense returns subscribed signals at or above the threshold, most intense first.
func (b *Base) Sense(view field.Reader) []schemas.Signal {
	if view == nil {
		return nil
	}
	return field.Collect(view.Query(field.All(field.OfKind(b.kinds...), field.MinIntensity(b.threshold))), 0)
}

// Emit wraps payloads into signals stamped with this agent as emitter.
// Salient payloads set their own intensity.
func (b *Base) Emit(outputs []schemas.Payload) []schemas.Signal {
	signals := make([]schemas.Signal, 0, len(outputs))
	for _, p := range outputs {
		if p == nil {
			continue
		}
		e := DefaultEmission(p.Kind())
		intensity := e.Intensity
		if s, ok := p.(schemas.Salient); ok && s.Salience() > 0 {
			intensity = schemas.Clamp01(s.Salience())
		}
		signals = append(signals, field.NewSignal(p, b.id, intensity, e.Confidence, e.TTL))
	}
	return signals
}

// payloads extracts the typed payloads of the sensed signals, keeping order.
func payloads[T schemas.Payload](sensed []schemas.Signal) []T {
	var out []T
	for _, s := range sensed {
		if p, ok := s.Payload.(T); ok {
			out = append(out, p)
		}
	}
	return out
}

// seenSet is the private memory most agents keep of what they already handled.
type seenSet map[string]struct{}

func (s seenSet) has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s seenSet) add(key string) { s[key] = struct{}{} }

// commit records keys once the call is known to succeed, so work whose
// result is dropped is picked up again on a later tick.
func (s seenSet) commit(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, k := range keys {
		s.add(k)
	}
	return nil
}
