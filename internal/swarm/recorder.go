package swarm

import (
	"time"

	"github.com/xkilldash9x/darkswarm/internal/field"
)

// Recorder receives run telemetry. *observability.Metrics implements it.
type Recorder interface {
	ObserveTick(d time.Duration, active, expired int)
	ObserveMerge(result string)
	ObserveAgent(kind string, d time.Duration, emitted int)
	ObserveAgentFailure(kind, reason string)
	ObserveRun(status string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTick(time.Duration, int, int) {}
func (nopRecorder) ObserveMerge(string) {}
func (nopRecorder) ObserveAgent(string, time.Duration, int) {}
func (nopRecorder) ObserveAgentFailure(string, string) {}
func (nopRecorder) ObserveRun(string) {}

// TickReport describes one finished tick.
type TickReport struct {
	Tick       int64
	Duration   time.Duration
	Decay      field.DecayReport
	Emitted    int
	Inserted   int
	Reinforced int
	Refreshed  int
	Rejected   int
	// Active is the field size after the merge.
	Active   int
	Failures int
	// Skipped counts agents still busy with an earlier call.
	Skipped int
	Idle    int
}

// Progress reports whether the tick inserted or corroborated anything.
func (r TickReport) Progress() bool { return r.Inserted+r.Reinforced > 0 }

// Observer is called after every tick from the coordinator goroutine.
type Observer func(TickReport)
