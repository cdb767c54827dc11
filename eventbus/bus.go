// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/shardwire/lib/clock"
	"github.com/bureau-foundation/shardwire/lib/fault"
)

// Handler consumes one event. A returned error is reported to the
// bus's ErrorHandler; it never stops delivery to other handlers.
type Handler func(ctx context.Context, event any) error

// ErrorHandler receives handler failures: returned errors, recovered
// panics (*PanicError), and overruns (*TimeoutError).
type ErrorHandler func(ctx context.Context, event any, err error)

// Config configures a Bus.
type Config struct {
	// ErrorHandler receives handler failures. Nil logs them at warn
	// level.
	ErrorHandler ErrorHandler

	// Clock times per-handler timeouts. Nil uses the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Bus is an ordered publish/subscribe hub. It is safe for concurrent
// use; the subscriber list is guarded by a single RWMutex and copied
// at the start of each publish.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	nextID      uint64

	errorHandler ErrorHandler
	clock        clock.Clock
	logger       *slog.Logger
}

type subscriber struct {
	id      uint64
	handler Handler
}

// New returns an empty Bus.
func New(config Config) *Bus {
	bus := &Bus{
		errorHandler: config.ErrorHandler,
		clock:        config.Clock,
		logger:       config.Logger,
	}
	if bus.clock == nil {
		bus.clock = clock.Real()
	}
	if bus.logger == nil {
		bus.logger = slog.Default()
	}
	if bus.errorHandler == nil {
		bus.errorHandler = func(_ context.Context, event any, err error) {
			bus.logger.Warn("event handler failed",
				"event", fmt.Sprintf("%T", event),
				"error", err,
			)
		}
	}
	return bus
}

// Subscribe appends handler to the subscriber list and returns a
// function that removes it. The returned function is idempotent.
func (bus *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	bus.mu.Lock()
	bus.nextID++
	id := bus.nextID
	bus.subscribers = append(bus.subscribers, &subscriber{id: id, handler: handler})
	bus.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { bus.remove(id) })
	}
}

func (bus *Bus) remove(id uint64) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for index, sub := range bus.subscribers {
		if sub.id == id {
			bus.subscribers = append(bus.subscribers[:index:index], bus.subscribers[index+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of registered handlers.
func (bus *Bus) SubscriberCount() int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.subscribers)
}

// On subscribes a handler that only sees events of type T. Events of
// other types are skipped without invoking fn.
//
//	eventbus.On(bus, func(ctx context.Context, ready *gateway.ReadyEvent) error {
//	    ...
//	})
func On[T any](bus *Bus, fn func(ctx context.Context, event T) error) (unsubscribe func()) {
	return bus.Subscribe(func(ctx context.Context, event any) error {
		typed, ok := event.(T)
		if !ok {
			return nil
		}
		return fn(ctx, typed)
	})
}

// PublishOption adjusts a single Publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	concurrency int
	timeout     time.Duration
}

// WithConcurrency lets up to n handlers run at once for this publish.
// n <= 1 keeps sequential dispatch.
func WithConcurrency(n int) PublishOption {
	return func(options *publishOptions) { options.concurrency = n }
}

// WithTimeout bounds the wait on each handler invocation. Zero means
// wait indefinitely.
func WithTimeout(d time.Duration) PublishOption {
	return func(options *publishOptions) { options.timeout = d }
}

// Publish delivers event to every current subscriber and returns once
// each handler has returned or overrun its timeout. The only error
// Publish returns is ctx's, when ctx ends before every handler was
// started; handler failures go to the ErrorHandler.
func (bus *Bus) Publish(ctx context.Context, event any, opts ...PublishOption) error {
	var options publishOptions
	for _, opt := range opts {
		opt(&options)
	}

	bus.mu.RLock()
	subscribers := make([]*subscriber, len(bus.subscribers))
	copy(subscribers, bus.subscribers)
	bus.mu.RUnlock()

	if options.concurrency > 1 {
		return bus.publishConcurrent(ctx, event, subscribers, options)
	}

	for _, sub := range subscribers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if handled(event) {
			return nil
		}
		bus.invoke(ctx, event, sub, options.timeout)
	}
	return nil
}

func (bus *Bus) publishConcurrent(ctx context.Context, event any, subscribers []*subscriber, options publishOptions) error {
	semaphore := make(chan struct{}, options.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for _, sub := range subscribers {
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if handled(event) {
			<-semaphore
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()
			bus.invoke(ctx, event, sub, options.timeout)
		}()
	}
	return nil
}

// invoke runs one handler, converting panics and overruns into errors
// for the ErrorHandler.
func (bus *Bus) invoke(ctx context.Context, event any, sub *subscriber, timeout time.Duration) {
	if timeout <= 0 {
		if err := safeCall(ctx, event, sub.handler); err != nil {
			bus.errorHandler(ctx, event, err)
		}
		return
	}

	result := make(chan error, 1)
	var overran atomic.Bool
	go func() {
		err := safeCall(ctx, event, sub.handler)
		if overran.Load() {
			// The overrun was already reported; a late failure is
			// still worth surfacing.
			if err != nil {
				bus.errorHandler(ctx, event, err)
			}
			return
		}
		result <- err
	}()

	timer := bus.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-result:
		if err != nil {
			bus.errorHandler(ctx, event, err)
		}
	case <-timer.C:
		overran.Store(true)
		// The handler may have finished between the timer firing and
		// the flag being set.
		select {
		case err := <-result:
			if err != nil {
				bus.errorHandler(ctx, event, err)
			}
			return
		default:
		}
		bus.errorHandler(ctx, event, &TimeoutError{Event: event, Timeout: timeout})
	}
}

func safeCall(ctx context.Context, event any, handler Handler) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &PanicError{Value: recovered, Stack: debug.Stack()}
		}
	}()
	return handler(ctx, event)
}

// TimeoutError reports a handler that did not return within the
// publish timeout. The handler is still running.
type TimeoutError struct {
	Event   any
	Timeout time.Duration
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("eventbus: handler for %T exceeded %v", err.Event, err.Timeout)
}

// Kind classifies overruns as transient.
func (err *TimeoutError) Kind() fault.Kind { return fault.Transient }

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (err *PanicError) Error() string {
	return fmt.Sprintf("eventbus: handler panicked: %v", err.Value)
}
