// Package notify delivers domain facts to the notification collaborator
// outside of any store transaction
package notify

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/shopstore"
)

// ErrBusy is reported to the logger when a fact is dropped because every
// delivery slot is taken
var ErrBusy = errors.New("notify: all delivery slots busy")

// DefaultConcurrency bounds the deliveries in flight per dispatcher
const DefaultConcurrency = 16

// Dispatcher hands facts to a downstream notifier on background goroutines.
// Notify never blocks the caller and never returns a delivery error; failed
// and dropped facts are logged.
type Dispatcher struct {
	next    shopstore.Notifier
	logger  zerolog.Logger
	timeout time.Duration
	slots   chan struct{}
	wg      sync.WaitGroup
}

// DispatcherOption configures a dispatcher
type DispatcherOption func(*Dispatcher)

// WithLogger sets a custom logger for the dispatcher
func WithLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithTimeout bounds each delivery. Zero disables the bound.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithConcurrency sets how many deliveries may be in flight
func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.slots = make(chan struct{}, n)
		}
	}
}

// NewDispatcher creates a dispatcher in front of next
func NewDispatcher(next shopstore.Notifier, opts ...DispatcherOption) *Dispatcher {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	d := &Dispatcher{
		next:    next,
		logger:  defaultLogger,
		timeout: shopstore.DefaultConfig.NotifyTimeout,
		slots:   make(chan struct{}, DefaultConcurrency),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify schedules delivery of fact. The caller's cancellation does not
// reach the delivery.
func (d *Dispatcher) Notify(ctx context.Context, fact shopstore.Fact) error {
	select {
	case d.slots <- struct{}{}:
	default:
		shopstore.LogFactDropped(d.logger, fact.Kind, fact.EntityID, ErrBusy)
		return nil
	}

	deliverCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().Interface("panic", r).Str("kind", string(fact.Kind)).Msg("Notifier panicked")
			}
		}()

		cancel := context.CancelFunc(func() {})
		if d.timeout > 0 {
			deliverCtx, cancel = context.WithTimeout(deliverCtx, d.timeout)
		}
		defer cancel()

		if err := d.next.Notify(deliverCtx, fact); err != nil {
			shopstore.LogFactDropped(d.logger, fact.Kind, fact.EntityID, err)
		}
	}()
	return nil
}

// Wait blocks until every scheduled delivery has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogNotifier writes each fact to a logger. It is the notifier used when no
// downstream channel is configured.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify logs fact
func (n LogNotifier) Notify(_ context.Context, fact shopstore.Fact) error {
	ev := n.Logger.Info().
		Str("event", "fact").
		Str("kind", string(fact.Kind)).
		Str("entity_type", fact.EntityType).
		Str("entity_id", fact.EntityID).
		Time("occurred_at", fact.OccurredAt)
	for k, v := range fact.Attributes {
		ev = ev.Str("attr_"+k, v)
	}
	ev.Msg(fact.Message)
	return nil
}

// Multi delivers each fact to every notifier in order and joins the errors
type Multi []shopstore.Notifier

// Notify calls every notifier even when an earlier one fails
func (m Multi) Notify(ctx context.Context, fact shopstore.Fact) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, fact); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
