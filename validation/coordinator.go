// CLAUDE:SUMMARY Validation state machine for one file row: cancels superseded attempts, applies only the newest result, normalises backend errors.
// Package validation owns the idle → testing → ready|error state machine of
// one download file row.
//
// Each Test call supersedes the previous attempt: its context is cancelled
// (best effort, the transport may still answer) and its generation number
// stops being current. Completions are applied under the lock only when
// their generation is still current, which is the authoritative guard
// against stale results.
package validation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hazyhaar/releasedeploy/ajax"
	"github.com/hazyhaar/releasedeploy/reference"
)

// Tester performs one remote validation. *ajax.Client implements it.
type Tester interface {
	TestFile(ctx context.Context, fileURL string) (ajax.FileInfo, error)
}

// TesterFunc adapts a function to Tester.
type TesterFunc func(ctx context.Context, fileURL string) (ajax.FileInfo, error)

// TestFile implements Tester.
func (f TesterFunc) TestFile(ctx context.Context, fileURL string) (ajax.FileInfo, error) {
	return f(ctx, fileURL)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithInitialURL seeds the URL used by Test("") and Retry.
func WithInitialURL(u string) Option {
	return func(c *Coordinator) {
		if reference.HasScheme(u) {
			c.lastURL = u
		}
	}
}

// WithFallbackMessage replaces the message shown for transport failures.
func WithFallbackMessage(msg string) Option {
	return func(c *Coordinator) { c.fallback = msg }
}

// Coordinator drives validation of one row. It is safe for concurrent use.
type Coordinator struct {
	tester   Tester
	logger   *slog.Logger
	fallback string

	mu      sync.Mutex
	state   State
	gen     uint64
	cancel  context.CancelFunc
	lastURL string
	closed  bool
	subs    map[int]func(State)
	nextSub int
	pending []delivery

	flushMu sync.Mutex
}

// New creates an idle Coordinator.
func New(tester Tester, opts ...Option) *Coordinator {
	c := &Coordinator{
		tester:   tester,
		logger:   slog.Default(),
		fallback: MsgNetworkError,
		state:    State{Status: StatusIdle},
		subs:     make(map[int]func(State)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for every state change and returns a function
// removing it. States are delivered in the order they were reached. fn
// should return quickly; it may call back into the coordinator.
func (c *Coordinator) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Test starts a validation attempt for url, or for the last reference URL
// when url is empty. Any pending attempt is cancelled first. The returned
// channel is closed once the attempt has finished, whether its result was
// applied or discarded. After Close, Test does nothing and returns a closed
// channel.
func (c *Coordinator) Test(url string) <-chan struct{} {
	done := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(done)
		return done
	}
	if url == "" {
		url = c.lastURL
	}
	if reference.HasScheme(url) {
		c.lastURL = url
	}

	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.state = State{Status: StatusTesting, URL: url, Attempt: gen}
	c.publishLocked()
	c.mu.Unlock()

	c.flush()
	c.logger.Debug("validation: testing", "url", url, "attempt", gen)

	go func() {
		defer close(done)
		defer cancel()
		info, err := c.tester.TestFile(ctx, url)
		c.complete(gen, url, info, err)
	}()
	return done
}

// Retry re-runs the last validation, as a manual click does. It is a no-op
// while an attempt is in flight or before any reference URL is known.
func (c *Coordinator) Retry() <-chan struct{} {
	c.mu.Lock()
	busy := c.state.Status == StatusTesting
	url := c.lastURL
	c.mu.Unlock()

	if busy || url == "" {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.Test(url)
}

// Close cancels any pending attempt and makes the coordinator inert: late
// completions are dropped and Test becomes a no-op.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.subs = make(map[int]func(State))
	c.pending = nil
}

func (c *Coordinator) complete(gen uint64, url string, info ajax.FileInfo, err error) {
	log := c.logger.With("url", url, "attempt", gen)

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		log.Debug("validation: stale completion dropped")
		return
	}
	c.cancel = nil

	switch {
	case err == nil:
		c.state = State{
			Status:  StatusReady,
			URL:     url,
			Result:  &Result{Size: info.Size, Exists: info.Exists},
			Attempt: gen,
		}
	case isCancellation(err):
		// A cancelled attempt leaves the status as it was set when the
		// attempt started.
		c.mu.Unlock()
		log.Debug("validation: attempt cancelled")
		return
	default:
		c.state = State{
			Status:  StatusError,
			URL:     url,
			Err:     c.toError(err),
			Attempt: gen,
		}
	}
	st := c.state
	c.publishLocked()
	c.mu.Unlock()

	if st.Err != nil {
		log.Info("validation: failed", "message", st.Err.Message, "code", st.Err.Code, "error", err)
	} else {
		log.Info("validation: ready", "size", st.Result.Size, "exists", st.Result.Exists)
	}
	c.flush()
}

func (c *Coordinator) toError(err error) *Error {
	return Describe(err, c.fallback)
}

// Describe turns a failed test into its user-facing form: backend errors
// are normalized and keep their code, anything else becomes fallback.
func Describe(err error, fallback string) *Error {
	var re *ajax.RemoteError
	if errors.As(err, &re) {
		return &Error{Message: NormalizeMessage(re.Message), Code: re.Code}
	}
	return &Error{Message: fallback}
}

func isCancellation(err error) bool {
	return errors.Is(err, ajax.ErrCanceled) || errors.Is(err, context.Canceled)
}

type delivery struct {
	state State
	subs  []func(State)
}

// publishLocked queues the current state for every subscriber. c.mu must be
// held; flush delivers the queue after it is released.
func (c *Coordinator) publishLocked() {
	subs := make([]func(State), 0, len(c.subs))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	c.pending = append(c.pending, delivery{state: c.state, subs: subs})
}

// flush delivers queued states in order. Whoever holds flushMu drains the
// whole queue, so concurrent callers may return before their state has been
// delivered.
func (c *Coordinator) flush() {
	for {
		if !c.flushMu.TryLock() {
			return
		}
		for {
			c.mu.Lock()
			batch := c.pending
			c.pending = nil
			closed := c.closed
			c.mu.Unlock()
			if len(batch) == 0 || closed {
				break
			}
			for _, d := range batch {
				for _, fn := range d.subs {
					fn(d.state)
				}
			}
		}
		c.flushMu.Unlock()

		c.mu.Lock()
		more := len(c.pending) > 0 && !c.closed
		c.mu.Unlock()
		if !more {
			return
		}
	}
}
