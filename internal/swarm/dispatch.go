package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/agent"
	"github.com/xkilldash9x/darkswarm/internal/field"
)

// Failure reasons reported per agent call.
const (
	ReasonError   = "error"
	ReasonTimeout = "timeout"
	ReasonPanic   = "panic"
	ReasonBusy    = "busy"
)

// member wraps an agent with its in-flight flag. An agent whose previous
// call outlived its deadline stays busy until that call returns.
type member struct {
	agent agent.Agent
	busy  atomic.Bool
}

type callResult struct {
	signals  []schemas.Signal
	duration time.Duration
	skipped  bool
	reason   string
	err      error
}

// dispatch runs every available agent against the view, bounded by the
// configured concurrency. Results are indexed by registration order.
func (c *Coordinator) dispatch(ctx context.Context, view *field.View, deadline time.Time) []callResult {
	results := make([]callResult, len(c.members))

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, m := range c.members {
		if !m.busy.CompareAndSwap(false, true) {
			results[i] = callResult{skipped: true, reason: ReasonBusy, err: errors.New("previous call still running")}
			continue
		}
		g.Go(func() error {
			results[i] = c.invoke(ctx, m, view, deadline)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// invoke runs one sense/process/emit cycle under min(agent timeout,
// remaining run time). It returns at the deadline even if the agent does not.
func (c *Coordinator) invoke(ctx context.Context, m *member, view *field.View, deadline time.Time) callResult {
	budget := min(c.cfg.AgentTimeout, time.Until(deadline))
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer m.busy.Store(false)
		done <- c.call(callCtx, m, view)
	}()

	select {
	case r := <-done:
		return r
	case <-callCtx.Done():
		// A call that finished at the deadline already carries its own verdict.
		select {
		case r := <-done:
			return r
		default:
		}
		c.logger.Warn("Agent missed its deadline; results discarded.",
			zap.String("agent_id", m.agent.ID()), zap.Duration("budget", budget))
		return callResult{duration: budget, reason: ReasonTimeout, err: callCtx.Err()}
	}
}

// call executes the agent and recovers panics from any of its operations.
// A failed or late call emits nothing.
func (c *Coordinator) call(ctx context.Context, m *member, view *field.View) (r callResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("Agent panicked.", zap.String("agent_id", m.agent.ID()), zap.Any("panic", p), zap.Stack("stack"))
			r = callResult{reason: ReasonPanic, err: fmt.Errorf("agent panicked: %v", p)}
		}
		r.duration = time.Since(start)
	}()

	sensed := m.agent.Sense(view)
	if len(sensed) == 0 {
		return callResult{}
	}
	outputs, err := m.agent.Process(ctx, sensed)
	switch {
	case err == nil, errors.Is(err, agent.ErrNoWork):
	case ctx.Err() != nil:
		r.reason, r.err = ReasonTimeout, err
		return r
	default:
		r.reason, r.err = ReasonError, err
		return r
	}
	if ctx.Err() != nil {
		r.reason, r.err = ReasonTimeout, ctx.Err()
		return r
	}
	r.signals = m.agent.Emit(outputs)
	return r
}
