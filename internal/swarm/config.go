package swarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/darkswarm/internal/config"
	"github.com/xkilldash9x/darkswarm/internal/field"
)

// Status is the lifecycle state of a coordinator.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
	StatusStagnant  Status = "stagnant"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusTimedOut, StatusStagnant, StatusFailed:
		return true
	}
	return false
}

var (
	ErrAlreadyRun = errors.New("coordinator has already run")
	ErrNotIdle    = errors.New("coordinator is not idle")
	ErrNoAgents   = errors.New("swarm needs at least one agent")
	ErrEmptySeed  = errors.New("seed query is empty")
)

const defaultStagnationWindow = 3

// Config bounds one run.
type Config struct {
	MaxTicks         int
	Timeout          time.Duration
	StagnationWindow int
	Concurrency      int
	AgentTimeout     time.Duration
	// TickInterval is the minimum wall time of a tick. Zero runs ticks back to back.
	TickInterval time.Duration
	Field        field.Config
}

// ConfigFrom maps the application configuration onto a run configuration.
func ConfigFrom(sc config.SwarmConfig, fc field.Config) Config {
	return Config{
		MaxTicks:         sc.MaxTicks,
		Timeout:          sc.Timeout,
		StagnationWindow: sc.StagnationWindow,
		Concurrency:      sc.Concurrency,
		AgentTimeout:     sc.AgentTimeout,
		TickInterval:     sc.TickInterval,
		Field:            fc,
	}
}

func (c Config) withDefaults() Config {
	if c.StagnationWindow == 0 {
		c.StagnationWindow = defaultStagnationWindow
	}
	if c.Field.Policies == nil && c.Field.Epsilon == 0 {
		c.Field = field.DefaultConfig()
	}
	return c
}

// Validate checks the limits.
func (c Config) Validate() error {
	switch {
	case c.MaxTicks < 1:
		return fmt.Errorf("max ticks must be at least 1, got %d", c.MaxTicks)
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	case c.StagnationWindow < 1:
		return fmt.Errorf("stagnation window must be at least 1, got %d", c.StagnationWindow)
	case c.Concurrency < 1:
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	case c.AgentTimeout <= 0:
		return fmt.Errorf("agent timeout must be positive, got %s", c.AgentTimeout)
	case c.TickInterval < 0:
		return fmt.Errorf("tick interval must not be negative, got %s", c.TickInterval)
	}
	return c.Field.Validate()
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
