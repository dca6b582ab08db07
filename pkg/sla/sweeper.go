package sla

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowplane/flowplane/pkg/telemetry"
)

// Sweeper runs the periodic sweep in the background.
type Sweeper struct {
	engine    *Engine
	interval  time.Duration
	batchSize int
	tracer    *telemetry.Tracer
	logger    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper over the given engine.
func NewSweeper(engine *Engine, interval time.Duration, batchSize int, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		engine:    engine,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "sla-sweeper").Logger(),
	}
}

// WithTracer enables per-pass sweep spans.
func (s *Sweeper) WithTracer(t *telemetry.Tracer) *Sweeper {
	s.tracer = t
	return s
}

// Start launches the sweep loop. The first pass runs after one full
// interval, not immediately, so a restarting process does not hammer
// the store. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)
	s.logger.Info().
		Dur("interval", s.interval).
		Int("batch_size", s.batchSize).
		Msg("sweeper started")
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info().Msg("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Sweeper) pass(ctx context.Context) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartSweepSpan(ctx)
		defer span.End()
	}
	processed, err := s.engine.Sweep(ctx, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep pass failed")
		return
	}
	if processed > 0 {
		s.logger.Info().Int("processed", processed).Msg("sweep pass complete")
	}
}
