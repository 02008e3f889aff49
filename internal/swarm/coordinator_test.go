package swarm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/agent"
	"github.com/xkilldash9x/darkswarm/internal/field"
)

// -- Test Helpers --

type processFunc func(ctx context.Context, call int, sensed []schemas.Signal) ([]schemas.Payload, error)

// scriptAgent runs a scripted Process and records what it sensed each tick.
type scriptAgent struct {
	agent.Base
	fn    processFunc
	emit  func([]schemas.Payload) []schemas.Signal
	calls atomic.Int32

	mu     sync.Mutex
	sensed []int
}

func newScriptAgent(t *testing.T, id string, fn processFunc, kinds ...schemas.Kind) *scriptAgent {
	if len(kinds) == 0 {
		kinds = []schemas.Kind{schemas.KindUserQuery}
	}
	return &scriptAgent{Base: agent.NewBase(id, schemas.AgentAnalyst, 0, zaptest.NewLogger(t), kinds...), fn: fn}
}

func (a *scriptAgent) Sense(view field.Reader) []schemas.Signal {
	out := a.Base.Sense(view)
	a.mu.Lock()
	a.sensed = append(a.sensed, len(out))
	a.mu.Unlock()
	return out
}

func (a *scriptAgent) Process(ctx context.Context, sensed []schemas.Signal) ([]schemas.Payload, error) {
	return a.fn(ctx, int(a.calls.Add(1)), sensed)
}

func (a *scriptAgent) Emit(outputs []schemas.Payload) []schemas.Signal {
	if a.emit != nil {
		return a.emit(outputs)
	}
	return a.Base.Emit(outputs)
}

func (a *scriptAgent) sensedCounts() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.sensed...)
}

func idleFn(context.Context, int, []schemas.Signal) ([]schemas.Payload, error) {
	return nil, agent.ErrNoWork
}

// findingFn emits a new insight on each of its first n calls.
func findingFn(n int) processFunc {
	return func(_ context.Context, call int, _ []schemas.Signal) ([]schemas.Payload, error) {
		if call > n {
			return nil, nil
		}
		return []schemas.Payload{schemas.Insight{Category: "osint", Content: fmt.Sprintf("finding %d", call)}}, nil
	}
}

func testConfig(mutate ...func(*Config)) Config {
	cfg := Config{
		MaxTicks:         20,
		Timeout:          5 * time.Second,
		StagnationWindow: 3,
		Concurrency:      4,
		AgentTimeout:     time.Second,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return cfg
}

func assemble(t *testing.T, cfg Config, agents []agent.Agent, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := Assemble(agents, cfg, opts...)
	require.NoError(t, err)
	return c
}

func seededRun(t *testing.T, c *Coordinator) RunOutcome {
	t.Helper()
	require.NoError(t, c.SubmitSeed("ransomware group infrastructure"))
	out, err := c.Run(context.Background())
	require.NoError(t, err)
	return out
}

func ofKind(snap field.Snapshot, kind schemas.Kind) []schemas.Signal {
	var out []schemas.Signal
	for _, s := range snap.Signals {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type countingRecorder struct {
	mu       sync.Mutex
	merges   map[string]int
	failures map[string]int
	ticks    int
	run      string
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{merges: map[string]int{}, failures: map[string]int{}}
}

func (r *countingRecorder) ObserveTick(time.Duration, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
}

func (r *countingRecorder) ObserveMerge(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merges[result]++
}

func (r *countingRecorder) ObserveAgent(string, time.Duration, int) {}

func (r *countingRecorder) ObserveAgentFailure(_, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[reason]++
}

func (r *countingRecorder) ObserveRun(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run = status
}

// -- Test Cases --

func TestAssembleValidation(t *testing.T) {
	defer goleak.VerifyNone(t)
	ok := newScriptAgent(t, "a-1", idleFn)

	_, err := Assemble(nil, testConfig())
	assert.ErrorIs(t, err, ErrNoAgents)

	_, err = Assemble([]agent.Agent{ok, nil}, testConfig())
	assert.ErrorContains(t, err, "nil")

	_, err = Assemble([]agent.Agent{ok, newScriptAgent(t, "a-1", idleFn)}, testConfig())
	assert.ErrorContains(t, err, "duplicate")

	_, err = Assemble([]agent.Agent{newScriptAgent(t, SeedEmitter, idleFn)}, testConfig())
	assert.ErrorContains(t, err, "reserved")

	_, err = Assemble([]agent.Agent{newScriptAgent(t, " ", idleFn)}, testConfig())
	assert.ErrorContains(t, err, "empty id")

	_, err = Assemble([]agent.Agent{ok}, testConfig(func(c *Config) { c.MaxTicks = 0 }))
	assert.ErrorContains(t, err, "max ticks")

	_, err = Assemble([]agent.Agent{ok}, testConfig(func(c *Config) { c.Concurrency = 0 }))
	assert.ErrorContains(t, err, "concurrency")
}

func TestSeedValidation(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := assemble(t, testConfig(func(c *Config) { c.MaxTicks = 1 }), []agent.Agent{newScriptAgent(t, "a-1", idleFn)})

	assert.ErrorIs(t, c.SubmitSeed("   "), ErrEmptySeed)
	require.NoError(t, c.SubmitSeed("  LockBit   affiliates "))
	assert.Equal(t, 1, c.Stats().ByKind[schemas.KindUserQuery])

	seed := c.Snapshot().Signals[0]
	assert.Equal(t, SeedEmitter, seed.EmitterID)
	assert.Equal(t, "LockBit   affiliates", seed.Payload.(schemas.UserQuery).Query)
	assert.Equal(t, 1.0, seed.Intensity)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, c.SubmitSeed("again"), ErrNotIdle)
	assert.ErrorIs(t, c.Restore(field.Snapshot{}), ErrNotIdle)

	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestDecayAcrossTicks(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig(func(c *Config) {
		c.MaxTicks = 5
		c.StagnationWindow = 10
	})
	c := assemble(t, cfg, []agent.Agent{newScriptAgent(t, "a-1", idleFn)})
	out := seededRun(t, c)

	assert.Equal(t, StatusTimedOut, out.Status)
	assert.Equal(t, 5, out.Ticks)
	assert.Equal(t, int64(5), out.Snapshot.Tick)
	seeds := ofKind(out.Snapshot, schemas.KindUserQuery)
	require.Len(t, seeds, 1)
	assert.InDelta(t, math.Pow(0.9, 5), seeds[0].Intensity, 1e-9)
	assert.Equal(t, 1.0, seeds[0].Confidence)
	assert.Empty(t, out.AgentFailures)
}

func TestDistinctEmittersReinforce(t *testing.T) {
	defer goleak.VerifyNone(t)
	same := func(context.Context, int, []schemas.Signal) ([]schemas.Payload, error) {
		return []schemas.Payload{schemas.RawResult{URL: "http://exampleonion.onion/market", Title: "market"}}, nil
	}
	cfg := testConfig(func(c *Config) { c.MaxTicks = 1 })
	c := assemble(t, cfg, []agent.Agent{
		newScriptAgent(t, "crawler-1", same),
		newScriptAgent(t, "crawler-2", same),
		newScriptAgent(t, "crawler-3", same),
	})
	out := seededRun(t, c)

	results := ofKind(out.Snapshot, schemas.KindRawResult)
	require.Len(t, results, 1)
	s := results[0]
	assert.Equal(t, "crawler-1", s.EmitterID)
	assert.InDelta(t, 0.9, s.Confidence, 1e-9)
	assert.Equal(t, 2, s.ReinforcementCount)
	assert.Equal(t, []string{"crawler-2", "crawler-3"}, s.ReinforcedBy)
	assert.True(t, s.Corroborated)
}

func TestSenseThresholdHidesFaintSignals(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := newScriptAgent(t, "a-1", findingFn(1))
	a.Base = agent.NewBase("a-1", schemas.AgentRefiner, 0.5, zaptest.NewLogger(t), schemas.KindUserQuery)

	c := assemble(t, testConfig(func(c *Config) { c.MaxTicks = 1 }), []agent.Agent{a})
	faint := field.NewSignal(schemas.UserQuery{Query: "faint trail", Priority: 1}, SeedEmitter, 0.3, 1, 100)
	require.NoError(t, c.Restore(field.Snapshot{Signals: []schemas.Signal{faint}}))

	out, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0}, a.sensedCounts())
	assert.Zero(t, a.calls.Load())
	assert.Equal(t, StatusTimedOut, out.Status)
}

func TestMaxTicksTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := assemble(t, testConfig(func(c *Config) { c.MaxTicks = 3 }), []agent.Agent{newScriptAgent(t, "a-1", findingFn(100))})
	out := seededRun(t, c)

	assert.Equal(t, StatusTimedOut, out.Status)
	assert.Equal(t, 3, out.Ticks)
	assert.Contains(t, out.Diagnostic, "tick limit")
	assert.Len(t, ofKind(out.Snapshot, schemas.KindInsight), 3)
	assert.Nil(t, out.Summary)
	assert.Equal(t, StatusTimedOut, c.Status())
}

func TestStagnationStopsRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	var reports []TickReport
	c := assemble(t, testConfig(), []agent.Agent{newScriptAgent(t, "a-1", findingFn(4))},
		WithObserver(func(r TickReport) { reports = append(reports, r) }))
	out := seededRun(t, c)

	assert.Equal(t, StatusStagnant, out.Status)
	assert.Equal(t, 7, out.Ticks)
	require.Len(t, reports, 7)
	assert.Equal(t, 0, reports[3].Idle)
	assert.Equal(t, 3, reports[6].Idle)
	assert.Equal(t, int64(7), reports[6].Tick)
}

func TestRefreshIsNotProgress(t *testing.T) {
	defer goleak.VerifyNone(t)
	repeat := func(context.Context, int, []schemas.Signal) ([]schemas.Payload, error) {
		return []schemas.Payload{schemas.Insight{Category: "osint", Content: "same finding"}}, nil
	}
	var reports []TickReport
	c := assemble(t, testConfig(), []agent.Agent{newScriptAgent(t, "a-1", repeat)},
		WithObserver(func(r TickReport) { reports = append(reports, r) }))
	out := seededRun(t, c)

	assert.Equal(t, StatusStagnant, out.Status)
	assert.Equal(t, 4, out.Ticks)
	assert.Equal(t, 1, reports[0].Inserted)
	assert.Equal(t, 1, reports[1].Refreshed)
}

func TestSummaryCompletesRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	analyst := func(_ context.Context, call int, _ []schemas.Signal) ([]schemas.Payload, error) {
		if call < 2 {
			return nil, agent.ErrNoWork
		}
		return []schemas.Payload{schemas.Summary{Query: "q", Markdown: "# Report", SourceCount: 2}}, nil
	}
	rec := newCountingRecorder()
	c := assemble(t, testConfig(), []agent.Agent{newScriptAgent(t, "analyst-1", analyst)}, WithRecorder(rec))
	out := seededRun(t, c)

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, 2, out.Ticks)
	require.NotNil(t, out.Summary)
	assert.Equal(t, "# Report", out.Summary.Markdown)
	assert.Empty(t, out.AgentFailures)

	assert.Equal(t, string(StatusCompleted), rec.run)
	assert.Equal(t, 2, rec.ticks)
	assert.Equal(t, 2, rec.merges["inserted"])
}

func TestTickIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)
	writer := newScriptAgent(t, "writer-1", findingFn(1))
	reader := newScriptAgent(t, "reader-1", idleFn, schemas.KindInsight)
	cfg := testConfig(func(c *Config) { c.MaxTicks = 2 })
	c := assemble(t, cfg, []agent.Agent{writer, reader})
	seededRun(t, c)

	// The insight written in tick 1 is visible only from tick 2.
	assert.Equal(t, []int{0, 1}, reader.sensedCounts())
}

func TestFailedAgentContributesNothing(t *testing.T) {
	defer goleak.VerifyNone(t)
	partial := func(_ context.Context, call int, _ []schemas.Signal) ([]schemas.Payload, error) {
		return []schemas.Payload{schemas.Insight{Category: "osint", Content: fmt.Sprintf("partial %d", call)}}, errors.New("upstream flaked")
	}
	rec := newCountingRecorder()
	var reports []TickReport
	c := assemble(t, testConfig(func(c *Config) { c.MaxTicks = 2 }), []agent.Agent{newScriptAgent(t, "a-1", partial)},
		WithRecorder(rec), WithObserver(func(r TickReport) { reports = append(reports, r) }))
	out := seededRun(t, c)

	assert.Empty(t, ofKind(out.Snapshot, schemas.KindInsight))
	assert.Equal(t, 2, out.AgentFailures["a-1"])
	assert.Equal(t, 2, rec.failures[ReasonError])
	for _, r := range reports {
		assert.Zero(t, r.Emitted)
	}
}

func TestFailingAgentDoesNotBlockCompletion(t *testing.T) {
	defer goleak.VerifyNone(t)
	failing := func(context.Context, int, []schemas.Signal) ([]schemas.Payload, error) {
		return []schemas.Payload{
			schemas.Insight{Category: "noise", Content: "half-written"},
			schemas.Summary{Query: "q", Markdown: "# Forged"},
		}, errors.New("model quota exhausted")
	}
	analyst := func(_ context.Context, call int, _ []schemas.Signal) ([]schemas.Payload, error) {
		if call < 2 {
			return nil, agent.ErrNoWork
		}
		return []schemas.Payload{schemas.Summary{Query: "q", Markdown: "# Report"}}, nil
	}
	c := assemble(t, testConfig(), []agent.Agent{
		newScriptAgent(t, "broken-1", failing),
		newScriptAgent(t, "analyst-1", analyst),
	})
	out := seededRun(t, c)

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, 2, out.Ticks)
	require.NotNil(t, out.Summary)
	assert.Equal(t, "# Report", out.Summary.Markdown)
	assert.Equal(t, 2, out.AgentFailures["broken-1"])
	for _, s := range out.Snapshot.Signals {
		assert.NotEqual(t, "broken-1", s.EmitterID, "signal %s came from the failing agent", s.ID)
	}
	assert.Empty(t, ofKind(out.Snapshot, schemas.KindInsight))
	assert.Len(t, ofKind(out.Snapshot, schemas.KindSummary), 1)
}

func TestTimedOutAgentContributesNothing(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig(func(c *Config) {
		c.MaxTicks = 1
		c.AgentTimeout = 20 * time.Millisecond
	})

	t.Run("returns outputs with the context error", func(t *testing.T) {
		late := func(ctx context.Context, _ int, _ []schemas.Signal) ([]schemas.Payload, error) {
			<-ctx.Done()
			return []schemas.Payload{schemas.Summary{Query: "q", Markdown: "# Too late"}}, ctx.Err()
		}
		c := assemble(t, cfg, []agent.Agent{newScriptAgent(t, "slow-1", late)})
		out := seededRun(t, c)

		assert.Equal(t, StatusTimedOut, out.Status)
		assert.Nil(t, out.Summary)
		assert.Empty(t, ofKind(out.Snapshot, schemas.KindSummary))
		assert.Equal(t, 1, out.AgentFailures["slow-1"])
	})

	t.Run("ignores the deadline and reports success", func(t *testing.T) {
		stubborn := func(ctx context.Context, _ int, _ []schemas.Signal) ([]schemas.Payload, error) {
			<-ctx.Done()
			return []schemas.Payload{schemas.Summary{Query: "q", Markdown: "# Too late"}}, nil
		}
		c := assemble(t, cfg, []agent.Agent{newScriptAgent(t, "slow-1", stubborn)})
		out := seededRun(t, c)

		assert.Equal(t, StatusTimedOut, out.Status)
		assert.Empty(t, ofKind(out.Snapshot, schemas.KindSummary))
		assert.Equal(t, 1, out.AgentFailures["slow-1"])
	})
}

func TestPanickingAgentIsContained(t *testing.T) {
	defer goleak.VerifyNone(t)
	boom := func(context.Context, int, []schemas.Signal) ([]schemas.Payload, error) {
		panic("nil map write")
	}
	rec := newCountingRecorder()
	c := assemble(t, testConfig(func(c *Config) { c.MaxTicks = 2 }), []agent.Agent{
		newScriptAgent(t, "bad-1", boom),
		newScriptAgent(t, "good-1", findingFn(10)),
	}, WithRecorder(rec))
	out := seededRun(t, c)

	assert.Equal(t, StatusTimedOut, out.Status)
	assert.Equal(t, 2, out.AgentFailures["bad-1"])
	assert.Zero(t, out.AgentFailures["good-1"])
	assert.Len(t, ofKind(out.Snapshot, schemas.KindInsight), 2)
	assert.Equal(t, 2, rec.failures[ReasonPanic])
}

func TestAgentTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	hang := func(ctx context.Context, _ int, _ []schemas.Signal) ([]schemas.Payload, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	rec := newCountingRecorder()
	cfg := testConfig(func(c *Config) {
		c.MaxTicks = 2
		c.AgentTimeout = 20 * time.Millisecond
	})
	c := assemble(t, cfg, []agent.Agent{newScriptAgent(t, "slow-1", hang)}, WithRecorder(rec))
	out := seededRun(t, c)

	// The second tick either times out again or finds the agent still unwinding.
	assert.Equal(t, 2, out.AgentFailures["slow-1"])
	assert.GreaterOrEqual(t, rec.failures[ReasonTimeout], 1)
	assert.Equal(t, 2, rec.failures[ReasonTimeout]+rec.failures[ReasonBusy])
}

func TestBusyAgentIsSkipped(t *testing.T) {
	defer goleak.VerifyNone(t)
	release := make(chan struct{})
	stuck := func(_ context.Context, call int, _ []schemas.Signal) ([]schemas.Payload, error) {
		if call == 1 {
			<-release
		}
		return nil, nil
	}
	var reports []TickReport
	cfg := testConfig(func(c *Config) {
		c.MaxTicks = 2
		c.StagnationWindow = 10
		c.AgentTimeout = 20 * time.Millisecond
	})
	a := newScriptAgent(t, "stuck-1", stuck)
	c := assemble(t, cfg, []agent.Agent{a}, WithObserver(func(r TickReport) { reports = append(reports, r) }))
	out := seededRun(t, c)
	close(release)

	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].Failures)
	assert.Zero(t, reports[0].Skipped)
	assert.Equal(t, 1, reports[1].Skipped)
	assert.Equal(t, 2, out.AgentFailures["stuck-1"])
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestMalformedEmissionFailsRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := newScriptAgent(t, "a-1", findingFn(10))
	a.emit = func(outputs []schemas.Payload) []schemas.Signal {
		signals := a.Base.Emit(outputs)
		for i := range signals {
			signals[i].Intensity = 1.7
		}
		return signals
	}
	c := assemble(t, testConfig(), []agent.Agent{a})
	out := seededRun(t, c)

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 1, out.Ticks)
	assert.Contains(t, out.Diagnostic, "a-1")
	assert.Empty(t, ofKind(out.Snapshot, schemas.KindInsight))
}

func TestForgedEmitterIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t)
	a := newScriptAgent(t, "a-1", findingFn(10))
	a.emit = func(outputs []schemas.Payload) []schemas.Signal {
		signals := a.Base.Emit(outputs)
		for i := range signals {
			signals[i].EmitterID = "someone-else"
		}
		return signals
	}
	c := assemble(t, testConfig(), []agent.Agent{a})
	out := seededRun(t, c)

	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Diagnostic, "does not match")
	assert.Empty(t, ofKind(out.Snapshot, schemas.KindInsight))
}

func TestConcurrencyLimit(t *testing.T) {
	defer goleak.VerifyNone(t)
	var inflight, peak atomic.Int32
	work := func(context.Context, int, []schemas.Signal) ([]schemas.Payload, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return nil, agent.ErrNoWork
	}
	agents := make([]agent.Agent, 0, 6)
	for i := range 6 {
		agents = append(agents, newScriptAgent(t, fmt.Sprintf("w-%d", i), work))
	}
	cfg := testConfig(func(c *Config) {
		c.MaxTicks = 2
		c.Concurrency = 2
	})
	seededRun(t, assemble(t, cfg, agents))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCancelledContextTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := assemble(t, testConfig(), []agent.Agent{newScriptAgent(t, "a-1", findingFn(100))},
		WithObserver(func(TickReport) { cancel() }))
	require.NoError(t, c.SubmitSeed("q"))
	out, err := c.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StatusTimedOut, out.Status)
	assert.Equal(t, 1, out.Ticks)
	assert.Contains(t, out.Diagnostic, "cancelled")
}

func TestRestoreContinuesTickIndex(t *testing.T) {
	defer goleak.VerifyNone(t)
	first := assemble(t, testConfig(func(c *Config) { c.MaxTicks = 2 }), []agent.Agent{newScriptAgent(t, "a-1", findingFn(100))})
	out := seededRun(t, first)

	second := assemble(t, testConfig(func(c *Config) { c.MaxTicks = 2 }), []agent.Agent{newScriptAgent(t, "a-1", findingFn(100))})
	require.NoError(t, second.Restore(out.Snapshot))
	resumed, err := second.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, resumed.Ticks)
	assert.Equal(t, int64(4), resumed.Snapshot.Tick)
	// The fresh agent repeats findings 1 and 2, which only refresh.
	assert.Len(t, ofKind(resumed.Snapshot, schemas.KindInsight), 2)
}

func TestRestoreKeepsSubmittedSeed(t *testing.T) {
	defer goleak.VerifyNone(t)
	earlier := assemble(t, testConfig(func(c *Config) { c.MaxTicks = 2 }), []agent.Agent{newScriptAgent(t, "a-1", findingFn(1))})
	prev := seededRun(t, earlier)

	c := assemble(t, testConfig(func(c *Config) { c.MaxTicks = 1 }), []agent.Agent{newScriptAgent(t, "a-1", idleFn)})
	require.NoError(t, c.SubmitSeed("bulletproof hosting"))
	require.NoError(t, c.Restore(prev.Snapshot))

	var queries []string
	for _, s := range ofKind(c.Snapshot(), schemas.KindUserQuery) {
		queries = append(queries, s.Payload.(schemas.UserQuery).Query)
	}
	assert.ElementsMatch(t, []string{"ransomware group infrastructure", "bulletproof hosting"}, queries)
	assert.Len(t, ofKind(c.Snapshot(), schemas.KindInsight), 1)
	assert.Equal(t, prev.Snapshot.Tick, c.Snapshot().Tick)
}

func TestRunsAreDeterministic(t *testing.T) {
	defer goleak.VerifyNone(t)
	build := func() *Coordinator {
		shared := func(context.Context, int, []schemas.Signal) ([]schemas.Payload, error) {
			return []schemas.Payload{schemas.RawResult{URL: "http://a.onion/", Title: "a"}}, nil
		}
		return assemble(t, testConfig(func(c *Config) { c.MaxTicks = 4 }), []agent.Agent{
			newScriptAgent(t, "a-1", findingFn(3)),
			newScriptAgent(t, "b-1", shared),
			newScriptAgent(t, "c-1", shared),
		})
	}
	a := seededRun(t, build())
	b := seededRun(t, build())

	assert.Equal(t, a.Status, b.Status)
	assert.Equal(t, a.Ticks, b.Ticks)
	if diff := cmp.Diff(a.Snapshot, b.Snapshot); diff != "" {
		t.Errorf("snapshots differ (-first +second):\n%s", diff)
	}
}
