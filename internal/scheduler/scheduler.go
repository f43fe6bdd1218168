package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler manages the execution of a process with a configurable interval
type Scheduler struct {
	name     string
	ticker   *time.Ticker
	process  Process
	log      *zerolog.Logger
	interval time.Duration
	mu       sync.Mutex
}

// NewSchedulerWithInterval creates a new scheduler with a parsed interval string
func NewSchedulerWithInterval(intervalExpr string, process Process, log *zerolog.Logger) (*Scheduler, error) {
	duration, err := ParseEveryExpr(intervalExpr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse interval: %w", err)
	}

	ticker := time.NewTicker(duration)
	scheduler := &Scheduler{
		name:     process.Name(),
		ticker:   ticker,
		process:  process,
		log:      log,
		interval: duration,
	}

	return scheduler, nil
}

// Run starts the scheduler and blocks until context is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	defer s.ticker.Stop()

	s.log.Info().
		Str("Process", s.process.Name()).
		Dur("interval", s.interval).
		Msg("Starting scheduler")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().
				Str("Process", s.process.Name()).
				Msg("Scheduler received cancellation signal. Exiting...")
			return

		case <-s.ticker.C:
			if s.process.IsComplete() {
				s.log.Info().
					Str("Process", s.process.Name()).
					Msg("Process marked as complete. Stopping scheduling.")
				return
			}
			s.launchProcess(ctx)
		}
	}
}

// ResetInterval changes the ticker interval dynamically
func (s *Scheduler) ResetInterval(newInterval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticker.Reset(newInterval)
	s.interval = newInterval
	s.log.Info().
		Str("Process", s.process.Name()).
		Dur("newInterval", newInterval).
		Msg("Scheduler interval reset")
}

// GetInterval returns the current interval
func (s *Scheduler) GetInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Name returns the name of the scheduler
func (s *Scheduler) Name() string {
	return s.name
}

func (s *Scheduler) launchProcess(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.process.IsRunning() {
		go func() {
			if err := s.process.Execute(ctx); err != nil {
				s.log.Warn().
					Str("Process", s.process.Name()).
					Err(err).
					Msg("Error occurred while executing process.")
			}
		}()
	} else {
		s.log.Debug().
			Str("Process", s.process.Name()).
			Msg("Process already executing")
	}
}

// ParseEveryExpr parses "@every <duration>" interval expressions.
func ParseEveryExpr(expr string) (time.Duration, error) {
	const prefix = "@every "
	if expr == "" {
		return 0, fmt.Errorf("empty expression provided")
	}
	if !strings.HasPrefix(expr, prefix) {
		return 0, fmt.Errorf("unsupported format: must start with %q", prefix)
	}
	return time.ParseDuration(strings.TrimPrefix(expr, prefix))
}
