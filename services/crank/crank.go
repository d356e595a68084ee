// Package crank drives the permissionless upkeep of fixed-term markets. Each
// tick drains the maker event queues and pays out what the consumed events
// entitled their owners to.
package crank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"fixedterm/crypto"
	nativecommon "fixedterm/native/common"
	"fixedterm/native/fixedterm"
	"fixedterm/native/orderbook"
)

const instrumentationName = "fixedterm/services/crank"

// Engine is the subset of the market engine the crank drives.
type Engine interface {
	Markets() ([]fixedterm.MarketID, error)
	PendingEvents(id fixedterm.MarketID, limit int) ([]orderbook.Event, error)
	ConsumeEvents(id fixedterm.MarketID, maxCount int, accounts []crypto.Address) (bool, error)
	Settle(id fixedterm.MarketID, owner crypto.Address) (fixedterm.SettleResult, error)
}

// Config tunes the crank loop.
type Config struct {
	Interval        time.Duration
	BatchSize       int
	EventsPerSecond float64
	Burst           int
	// MaxRounds bounds the batches consumed per market and tick so one busy
	// market cannot starve the others.
	MaxRounds int
	// Markets restricts cranking to the listed markets. Empty means all.
	Markets []fixedterm.MarketID
}

func (c *Config) normalize() error {
	if c.Interval <= 0 {
		return fmt.Errorf("crank: interval must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("crank: batch size must be positive")
	}
	if c.EventsPerSecond <= 0 {
		c.EventsPerSecond = float64(rate.Inf)
	}
	if c.Burst < c.BatchSize {
		c.Burst = c.BatchSize
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = 16
	}
	return nil
}

// Result summarizes one market crank.
type Result struct {
	Events  int
	Settled int
	Pending bool
}

// Service periodically cranks every market.
type Service struct {
	engine  Engine
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	tracer  trace.Tracer

	consumed metric.Int64Counter
	settled  metric.Int64Counter
	once     sync.Once
}

// Option configures a Service.
type Option func(*Service)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New constructs a crank over engine.
func New(engine Engine, cfg Config, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("crank: engine required")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	meter := otel.Meter(instrumentationName)
	consumed, err := meter.Int64Counter("fixedterm.crank.events",
		metric.WithDescription("Maker events consumed by the crank."))
	if err != nil {
		return nil, fmt.Errorf("crank: events counter: %w", err)
	}
	settled, err := meter.Int64Counter("fixedterm.crank.settlements",
		metric.WithDescription("Margin users settled by the crank."))
	if err != nil {
		return nil, fmt.Errorf("crank: settlements counter: %w", err)
	}
	s := &Service{
		engine:   engine,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.Burst),
		logger:   slog.Default(),
		tracer:   otel.Tracer(instrumentationName),
		consumed: consumed,
		settled:  settled,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run blocks, cranking every interval until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.once.Do(func() {
		s.logger.Info("crank started",
			slog.Duration("interval", s.cfg.Interval),
			slog.Int("batch", s.cfg.BatchSize))
	})
	for {
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("crank tick failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick cranks every configured market once. Failures of one market do not
// stop the others; they are joined into the returned error.
func (s *Service) Tick(ctx context.Context) error {
	ids := s.cfg.Markets
	if len(ids) == 0 {
		var err error
		if ids, err = s.engine.Markets(); err != nil {
			return fmt.Errorf("crank: list markets: %w", err)
		}
	}
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := s.CrankMarket(ctx, id)
		switch {
		case errors.Is(err, nativecommon.ErrModulePaused):
			s.logger.Debug("crank skipped paused module", slog.String("market", id.String()))
			return errors.Join(errs...)
		case err != nil:
			errs = append(errs, fmt.Errorf("market %s: %w", id, err))
		case res.Events > 0:
			s.logger.Debug("market cranked",
				slog.String("market", id.String()),
				slog.Int("events", res.Events),
				slog.Int("settled", res.Settled),
				slog.Bool("pending", res.Pending))
		}
	}
	return errors.Join(errs...)
}

// CrankMarket consumes queued events of one market in batches and settles
// every owner the consumed events touched.
func (s *Service) CrankMarket(ctx context.Context, id fixedterm.MarketID) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "crank.market",
		trace.WithAttributes(attribute.String("market", id.String())))
	defer span.End()

	res, err := s.crank(ctx, id)
	span.SetAttributes(
		attribute.Int("crank.events", res.Events),
		attribute.Int("crank.settled", res.Settled),
		attribute.Bool("crank.pending", res.Pending))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetStatus(codes.Ok, "cranked")
	return res, nil
}

func (s *Service) crank(ctx context.Context, id fixedterm.MarketID) (Result, error) {
	var (
		res     Result
		touched []crypto.Address
		seen    = make(map[crypto.Address]struct{})
	)
	attrs := metric.WithAttributes(attribute.String("market", id.String()))
	consumeErr := func() error {
		for round := 0; round < s.cfg.MaxRounds; round++ {
			pending, err := s.engine.PendingEvents(id, s.cfg.BatchSize)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				return nil
			}
			if err := s.limiter.WaitN(ctx, len(pending)); err != nil {
				return err
			}
			accounts := fixedterm.EventAccounts(pending)
			remaining, err := s.engine.ConsumeEvents(id, len(pending), accounts)
			if err != nil {
				return err
			}
			res.Events += len(pending)
			res.Pending = remaining
			s.consumed.Add(ctx, int64(len(pending)), attrs)
			for _, owner := range accounts {
				if _, ok := seen[owner]; !ok {
					seen[owner] = struct{}{}
					touched = append(touched, owner)
				}
			}
			if !remaining {
				return nil
			}
		}
		return nil
	}()
	// Owners credited by earlier rounds are settled even when a later round
	// failed.
	errs := []error{consumeErr}
	for _, owner := range touched {
		out, err := s.engine.Settle(id, owner)
		if err != nil {
			errs = append(errs, fmt.Errorf("settle %s: %w", owner, err))
			continue
		}
		if out.Tokens > 0 || out.Tickets > 0 {
			res.Settled++
			s.settled.Add(ctx, 1, attrs)
		}
	}
	return res, errors.Join(errs...)
}
