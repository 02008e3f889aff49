// Package swarm drives a set of agents over a shared signal field in
// discrete ticks until a summary appears, the run stagnates or a limit is hit.
package swarm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/agent"
	"github.com/xkilldash9x/darkswarm/internal/field"
)

// SeedEmitter is the emitter ID of the user query that starts a run.
const SeedEmitter = "user"

// RunOutcome is the result of a finished run.
type RunOutcome struct {
	Status     Status
	Summary    *schemas.Summary
	Snapshot   field.Snapshot
	Stats      field.Stats
	Diagnostic string
	Ticks      int
	Elapsed    time.Duration
	// AgentFailures counts failed calls per agent ID.
	AgentFailures map[string]int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// Coordinator owns the field and is its only writer.
type Coordinator struct {
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
	observer Observer

	field   *field.Field
	members []*member

	mu     sync.Mutex
	status Status
	ran    bool
	// seed is kept so a later Restore does not lose it.
	seed *schemas.Signal
}

// Assemble validates the roster and limits and returns an idle coordinator.
func Assemble(agents []agent.Agent, cfg Config, opts ...Option) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid swarm config: %w", err)
	}
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}

	c := &Coordinator{
		cfg:      cfg,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		status:   StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("swarm")

	seen := make(map[string]struct{}, len(agents))
	for i, a := range agents {
		if a == nil {
			return nil, fmt.Errorf("agent %d is nil", i)
		}
		id := a.ID()
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("agent %d has an empty id", i)
		}
		if id == SeedEmitter {
			return nil, fmt.Errorf("agent id %q is reserved", id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate agent id %q", id)
		}
		seen[id] = struct{}{}
		c.members = append(c.members, &member{agent: a})
	}

	f, err := field.New(cfg.Field, c.logger)
	if err != nil {
		return nil, err
	}
	c.field = f
	return c, nil
}

// Status returns the current lifecycle state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stats summarizes the field.
func (c *Coordinator) Stats() field.Stats { return c.field.Stats() }

// Snapshot captures the field state.
func (c *Coordinator) Snapshot() field.Snapshot { return c.field.Snapshot() }

// Restore loads a snapshot into an idle coordinator so a run continues from
// it. A seed submitted earlier is merged into the restored field.
func (c *Coordinator) Restore(snap field.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusIdle {
		return ErrNotIdle
	}
	if err := c.field.Restore(snap); err != nil {
		return err
	}
	if c.seed == nil {
		return nil
	}
	res, err := c.field.Submit(*c.seed)
	if err != nil {
		return fmt.Errorf("re-seed restored field: %w", err)
	}
	c.recorder.ObserveMerge(res.String())
	return nil
}

// SubmitSeed inserts the user query that starts the investigation.
func (c *Coordinator) SubmitSeed(query string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusIdle {
		return ErrNotIdle
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrEmptySeed
	}
	e := agent.DefaultEmission(schemas.KindUserQuery)
	seed := field.NewSignal(schemas.UserQuery{Query: query, Priority: 1}, SeedEmitter, e.Intensity, e.Confidence, e.TTL)
	res, err := c.field.Submit(seed)
	if err != nil {
		return err
	}
	c.recorder.ObserveMerge(res.String())
	c.seed = &seed
	c.logger.Info("Seed submitted.", zap.String("query", query), zap.String("signal_id", seed.ID))
	return nil
}

func (c *Coordinator) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Run drives ticks until a terminal condition holds. It can be called once.
func (c *Coordinator) Run(ctx context.Context) (RunOutcome, error) {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return RunOutcome{}, ErrAlreadyRun
	}
	c.ran = true
	c.status = StatusRunning
	c.mu.Unlock()

	start := time.Now()
	deadline := start.Add(c.cfg.Timeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	c.logger.Info("Swarm run started.",
		zap.Int("agents", len(c.members)),
		zap.Int("max_ticks", c.cfg.MaxTicks),
		zap.Duration("timeout", c.cfg.Timeout))

	var (
		outcome  RunOutcome
		idle     int
		failures = make(map[string]int)
		base     = c.field.Tick()
	)
	for ticks := 1; ; ticks++ {
		tickStart := time.Now()
		tick := base + int64(ticks)

		report, violation := c.tick(runCtx, tick, deadline, failures)
		if report.Progress() {
			idle = 0
		} else {
			idle++
		}
		report.Idle = idle
		report.Duration = time.Since(tickStart)
		c.recorder.ObserveTick(report.Duration, report.Active, report.Decay.Expired)
		if c.observer != nil {
			c.observer(report)
		}
		c.logger.Debug("Tick finished.",
			zap.Int64("tick", tick),
			zap.Int("active", report.Active),
			zap.Int("inserted", report.Inserted),
			zap.Int("reinforced", report.Reinforced),
			zap.Int("failures", report.Failures),
			zap.Int("idle", idle))

		if status, diag, done := c.evaluate(ctx, ticks, idle, start, violation); done {
			outcome.Status = status
			outcome.Diagnostic = diag
			outcome.Ticks = ticks
			break
		}
		sleepCtx(runCtx, c.cfg.TickInterval-time.Since(tickStart))
	}

	outcome.Elapsed = time.Since(start)
	outcome.AgentFailures = failures
	outcome.Snapshot = c.field.Snapshot()
	outcome.Stats = c.field.Stats()
	if outcome.Status == StatusCompleted {
		outcome.Summary = c.summary()
	}
	c.setStatus(outcome.Status)
	c.recorder.ObserveRun(string(outcome.Status))
	c.logger.Info("Swarm run finished.",
		zap.String("status", string(outcome.Status)),
		zap.String("diagnostic", outcome.Diagnostic),
		zap.Int("ticks", outcome.Ticks),
		zap.Duration("elapsed", outcome.Elapsed),
		zap.Int("signals", outcome.Stats.Active))
	return outcome, nil
}

// tick runs one decay, dispatch and merge cycle. It returns the first
// invariant violation seen, if any.
func (c *Coordinator) tick(ctx context.Context, tick int64, deadline time.Time, failures map[string]int) (TickReport, error) {
	report := TickReport{Tick: tick}
	report.Decay = c.field.Decay(tick)
	view := c.field.View()

	results := c.dispatch(ctx, view, deadline)

	var violation error
	for i, r := range results {
		m := c.members[i]
		if r.skipped {
			report.Skipped++
		}
		if r.reason != "" {
			report.Failures++
			failures[m.agent.ID()]++
			c.recorder.ObserveAgentFailure(string(m.agent.Kind()), r.reason)
			c.logger.Warn("Agent call failed.",
				zap.String("agent_id", m.agent.ID()),
				zap.String("reason", r.reason),
				zap.Error(r.err))
		}
		if r.reason != "" {
			r.signals = nil
		}
		if !r.skipped {
			c.recorder.ObserveAgent(string(m.agent.Kind()), r.duration, len(r.signals))
		}

		for _, s := range r.signals {
			report.Emitted++
			res, err := c.merge(m.agent.ID(), s)
			c.recorder.ObserveMerge(res.String())
			switch res {
			case field.Inserted:
				report.Inserted++
			case field.Reinforced:
				report.Reinforced++
			case field.Refreshed:
				report.Refreshed++
			default:
				report.Rejected++
				c.logger.Error("Malformed emission rejected.", zap.String("agent_id", m.agent.ID()), zap.Error(err))
				if violation == nil {
					violation = fmt.Errorf("agent %s: %w", m.agent.ID(), err)
				}
			}
		}
	}

	if err := c.field.CheckInvariants(); err != nil && violation == nil {
		c.logger.Error("Field invariant violated after merge.", zap.Error(err))
		violation = err
	}
	report.Active = c.field.Len()
	return report, violation
}

// merge submits one emission, rejecting signals whose provenance does not
// match the emitting agent.
func (c *Coordinator) merge(agentID string, s schemas.Signal) (field.MergeResult, error) {
	if s.EmitterID != agentID {
		return field.Rejected, &field.InvariantError{
			SignalID: s.ID,
			Reason:   fmt.Sprintf("emitter %q does not match agent %q", s.EmitterID, agentID),
		}
	}
	return c.field.Submit(s)
}

// evaluate applies the termination rules in priority order.
func (c *Coordinator) evaluate(parent context.Context, ticks, idle int, start time.Time, violation error) (Status, string, bool) {
	if c.summary() != nil {
		return StatusCompleted, "", true
	}
	if err := parent.Err(); err != nil {
		return StatusTimedOut, fmt.Sprintf("run cancelled: %v", err), true
	}
	if time.Since(start) >= c.cfg.Timeout {
		return StatusTimedOut, fmt.Sprintf("wall clock limit of %s reached", c.cfg.Timeout), true
	}
	if ticks >= c.cfg.MaxTicks {
		return StatusTimedOut, fmt.Sprintf("tick limit of %d reached", c.cfg.MaxTicks), true
	}
	if idle >= c.cfg.StagnationWindow {
		return StatusStagnant, fmt.Sprintf("no progress for %d ticks", idle), true
	}
	if violation != nil {
		return StatusFailed, violation.Error(), true
	}
	return "", "", false
}

// summary returns the most intense summary in the field.
func (c *Coordinator) summary() *schemas.Summary {
	for s := range c.field.Query(field.OfKind(schemas.KindSummary)) {
		if p, ok := s.Payload.(schemas.Summary); ok {
			return &p
		}
	}
	return nil
}
