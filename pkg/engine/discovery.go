package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Default polling budget.
const (
	DefaultMaxAttempts  = 20
	DefaultPollInterval = time.Second
)

// PollingConfig bounds task discovery.
type PollingConfig struct {
	// MaxAttempts is the number of listings made before giving up.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Interval is the pause between two listings.
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// DefaultPollingConfig returns the default polling budget.
func DefaultPollingConfig() PollingConfig {
	return PollingConfig{
		MaxAttempts: DefaultMaxAttempts,
		Interval:    DefaultPollInterval,
	}
}

// DiscoveryResult describes the outcome of one discovery.
// Exhausting the budget is a normal outcome, not an error.
type DiscoveryResult struct {
	// Task is the selected task when Found is true.
	Task TaskHandle

	// Found is true when a task was selected.
	Found bool

	// Ambiguous is true when a strict selector matched several tasks.
	Ambiguous bool

	// Attempts is the number of listings made.
	Attempts int

	// Candidates is the number of tasks matching the selector in the
	// listing that ended discovery.
	Candidates int

	// LastErr is the listing error of the final attempt, if it failed.
	LastErr error
}

// Poller repeatedly lists an instance's candidate tasks until one matches.
type Poller struct {
	client   EngineClient
	config   PollingConfig
	observer Observer
	logger   zerolog.Logger
}

// NewPoller creates a new poller. Zero config values fall back to defaults.
func NewPoller(client EngineClient, config PollingConfig, observer Observer, logger zerolog.Logger) *Poller {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.Interval < 0 {
		config.Interval = 0
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Poller{
		client:   client,
		config:   config,
		observer: observer,
		logger:   logger,
	}
}

// Discover polls for a task of the instance satisfying the selector.
// It returns ctx.Err() only when the context is done; every other outcome is
// described by the result.
func (p *Poller) Discover(ctx context.Context, instanceID int64, sel Selector) (DiscoveryResult, error) {
	var res DiscoveryResult
	filter := TaskFilter{ProcessInstanceID: instanceID}

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt

		tasks, err := p.client.ListCandidateTasks(ctx, filter)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.LastErr = err
			p.observer.DiscoveryAttempt(ctx, instanceID, attempt, 0, err)
			p.logger.Warn().
				Err(err).
				Int64("instance_id", instanceID).
				Int("attempt", attempt).
				Msg("Task listing failed")
		} else {
			res.LastErr = nil
			matches := sel.Filter(tasks)
			p.observer.DiscoveryAttempt(ctx, instanceID, attempt, len(matches), nil)

			if len(matches) > 0 {
				res.Candidates = len(matches)
				task, ok := sel.pick(matches)
				if !ok {
					res.Ambiguous = true
					return res, nil
				}
				res.Task = task
				res.Found = true
				return res, nil
			}
		}

		if attempt == p.config.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.config.Interval); err != nil {
			return res, err
		}
	}

	p.logger.Debug().
		Int64("instance_id", instanceID).
		Int("attempts", res.Attempts).
		Str("selector", sel.String()).
		Msg("Discovery budget exhausted")
	return res, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
