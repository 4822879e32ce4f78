// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/clock"
	"github.com/sdv-zonal/canbridge/lib/signaldb"
	"github.com/sdv-zonal/canbridge/lib/store"
	"github.com/sdv-zonal/canbridge/lib/vss"
)

// ErrPersistenceUnavailable is returned by Run after too many
// consecutive store failures.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

// Defaults for Config fields left zero.
const (
	DefaultInitialBackoff     = 500 * time.Millisecond
	DefaultMaxBackoff         = 30 * time.Second
	DefaultMaxPersistFailures = 5

	flushTimeout = 10 * time.Second
)

// Subscription delivers frames in publication order. Receive must
// return promptly when ctx is cancelled or Close is called.
type Subscription interface {
	Receive(ctx context.Context) (canframe.Frame, error)
	Close() error
}

// Source opens subscriptions. The controller calls Subscribe again
// after a subscription fails.
type Source interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Subscription, error)

// Subscribe calls f.
func (f SourceFunc) Subscribe(ctx context.Context) (Subscription, error) { return f(ctx) }

// Persister is the part of *store.Store the controller writes to.
type Persister interface {
	AppendFrame(ctx context.Context, record store.FrameRecord) error
	AppendDecodedFrame(ctx context.Context, record store.FrameRecord, signals []signaldb.SignalValue) error
	AppendSamples(ctx context.Context, samples []vss.Sample) error
	Flush(ctx context.Context) error
}

// Config configures a Controller.
type Config struct {
	// Name identifies the controller in logs and status output.
	Name string

	Source   Source
	Database *signaldb.Database
	Store    Persister

	// Mapping converts decoded signals to samples. Nil persists raw
	// frames only.
	Mapping *vss.Table

	// InitialBackoff and MaxBackoff bound the wait between failed
	// subscribe attempts. The wait doubles after each failure.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxPersistFailures is how many consecutive store failures stop
	// the controller.
	MaxPersistFailures int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Controller subscribes to a frame source and, for each frame,
// persists the raw record, decodes it, maps its signals, and persists
// the samples. Several controllers may share one store.
type Controller struct {
	name               string
	source             Source
	database           *signaldb.Database
	mapping            *vss.Table
	store              Persister
	initialBackoff     time.Duration
	maxBackoff         time.Duration
	maxPersistFailures int
	clock              clock.Clock
	logger             *slog.Logger

	stats   *Stats
	started atomic.Bool

	// Owned by the Run goroutine.
	failureStreak int
}

// New validates config and returns an idle controller.
func New(config Config) (*Controller, error) {
	if config.Source == nil {
		return nil, errors.New("gateway: source is required")
	}
	if config.Database == nil {
		return nil, errors.New("gateway: signal database is required")
	}
	if config.Store == nil {
		return nil, errors.New("gateway: store is required")
	}

	controller := &Controller{
		name:               config.Name,
		source:             config.Source,
		database:           config.Database,
		mapping:            config.Mapping,
		store:              config.Store,
		initialBackoff:     config.InitialBackoff,
		maxBackoff:         config.MaxBackoff,
		maxPersistFailures: config.MaxPersistFailures,
		clock:              config.Clock,
		logger:             config.Logger,
		stats:              &Stats{},
	}
	if controller.initialBackoff <= 0 {
		controller.initialBackoff = DefaultInitialBackoff
	}
	if controller.maxBackoff <= 0 {
		controller.maxBackoff = DefaultMaxBackoff
	}
	if controller.maxBackoff < controller.initialBackoff {
		controller.maxBackoff = controller.initialBackoff
	}
	if controller.maxPersistFailures <= 0 {
		controller.maxPersistFailures = DefaultMaxPersistFailures
	}
	if controller.clock == nil {
		controller.clock = clock.Real()
	}
	if controller.logger == nil {
		controller.logger = slog.New(slog.DiscardHandler)
	}
	if controller.name != "" {
		controller.logger = controller.logger.With("controller", controller.name)
	}
	return controller, nil
}

// Name returns the configured name.
func (c *Controller) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.stats.State() }

// Stats returns the live counters.
func (c *Controller) Stats() *Stats { return c.stats }

// Run drives the controller until ctx is cancelled or the store fails
// MaxPersistFailures times in a row. Cancellation is a normal stop and
// returns nil once the store has been flushed. Run may be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("gateway: controller already started")
	}
	defer c.stats.setState(StateStopped)

	var runErr error
	for {
		subscription, err := c.subscribe(ctx)
		if err != nil {
			break
		}

		c.stats.setState(StateRunning)
		err = c.process(ctx, subscription)
		subscription.Close()

		if errors.Is(err, ErrPersistenceUnavailable) {
			runErr = err
			break
		}
		if ctx.Err() != nil {
			break
		}
		c.stats.recordError(KindTransport, err, c.clock.Now())
		c.logger.Warn("subscription lost, resubscribing", "error", err)
	}

	c.stats.setState(StateDraining)
	flushContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := c.store.Flush(flushContext); err != nil {
		c.logger.Error("flushing store", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("flushing store: %w", err)
		}
	}

	snapshot := c.stats.Snapshot()
	c.logger.Info("controller stopped",
		"frames_received", snapshot.FramesReceived,
		"frames_decoded", snapshot.FramesDecoded,
		"samples_persisted", snapshot.SamplesPersisted,
		"errors", snapshot.Errors,
	)
	return runErr
}

// subscribe retries Source.Subscribe with exponential backoff until it
// succeeds or ctx is cancelled.
func (c *Controller) subscribe(ctx context.Context) (Subscription, error) {
	c.stats.setState(StateSubscribing)
	backoff := c.initialBackoff

	for attempt := 1; ; attempt++ {
		subscription, err := c.source.Subscribe(ctx)
		if err == nil {
			c.stats.subscriptions.Add(1)
			c.logger.Info("subscribed", "attempt", attempt)
			return subscription, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.stats.recordError(KindTransport, err, c.clock.Now())
		c.logger.Warn("subscribe failed, will retry",
			"error", err,
			"attempt", attempt,
			"backoff", backoff,
		)
		select {
		case <-c.clock.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// process handles frames until the subscription fails, ctx is
// cancelled, or persistence becomes unavailable.
func (c *Controller) process(ctx context.Context, subscription Subscription) error {
	// Closing the subscription on cancel unblocks Receive for sources
	// that only watch Close.
	stop := context.AfterFunc(ctx, func() { subscription.Close() })
	defer stop()

	// A frame that has been received is processed to completion even
	// if ctx is cancelled meanwhile.
	writeContext := context.WithoutCancel(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := subscription.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving frame: %w", err)
		}
		if err := c.handleFrame(writeContext, frame); err != nil {
			return err
		}
	}
}

// handleFrame runs the per-frame pipeline. Only a persistence streak
// reaching the limit is returned; every other problem is counted and
// the frame's remaining work continues where it can.
func (c *Controller) handleFrame(ctx context.Context, frame canframe.Frame) error {
	c.stats.framesReceived.Add(1)

	record := store.FrameRecord{Frame: frame}
	if message, ok := c.database.Message(frame.ID, frame.Extended); ok {
		record.Message = message.Name
	}

	// The raw frame is stored whether or not it decodes; decoded
	// signal values go in the same write.
	decoded, decodeErr := c.database.Decode(frame)
	if decodeErr != nil {
		if err := c.persist(func() error { return c.store.AppendFrame(ctx, record) }); err != nil {
			return err
		}
		kind := KindUnknownMessage
		if errors.Is(decodeErr, signaldb.ErrTruncatedFrame) {
			kind = KindTruncatedFrame
		}
		c.stats.recordError(kind, decodeErr, c.clock.Now())
		c.logger.Debug("frame not decoded", "frame", frame.String(), "error", decodeErr)
		return nil
	}
	c.stats.framesDecoded.Add(1)
	if err := c.persist(func() error { return c.store.AppendDecodedFrame(ctx, record, decoded.Signals) }); err != nil {
		return err
	}

	if outOfRange := decoded.OutOfRange(); len(outOfRange) > 0 {
		c.stats.outOfRange.Add(uint64(len(outOfRange)))
		c.logger.Debug("signals out of range",
			"message", decoded.Message,
			"signals", outOfRange,
		)
	}

	if c.mapping == nil {
		return nil
	}
	samples, mappingErrors := c.mapping.MapDecoded(decoded)
	for _, mappingError := range mappingErrors {
		c.stats.recordError(KindTypeMismatch, mappingError, c.clock.Now())
		c.logger.Warn("signal not mapped", "error", mappingError)
	}
	if len(samples) == 0 {
		return nil
	}
	c.stats.samplesMapped.Add(uint64(len(samples)))

	persisted := false
	if err := c.persist(func() error {
		err := c.store.AppendSamples(ctx, samples)
		persisted = err == nil
		return err
	}); err != nil {
		return err
	}
	if persisted {
		c.stats.samplesPersisted.Add(uint64(len(samples)))
	}
	return nil
}

// persist runs one store write and tracks the consecutive failure
// streak. It returns ErrPersistenceUnavailable when the streak reaches
// the limit; smaller failures are counted and swallowed.
func (c *Controller) persist(write func() error) error {
	err := write()
	if err == nil {
		c.failureStreak = 0
		return nil
	}

	c.failureStreak++
	c.stats.recordError(KindPersistence, err, c.clock.Now())
	c.logger.Error("store write failed",
		"error", err,
		"consecutive_failures", c.failureStreak,
		"limit", c.maxPersistFailures,
	)
	if c.failureStreak >= c.maxPersistFailures {
		return fmt.Errorf("%w: %d consecutive failures: %w", ErrPersistenceUnavailable, c.failureStreak, err)
	}
	return nil
}
