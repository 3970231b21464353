// CLAUDE:SUMMARY Watches one download file input for value changes from DOM events and polling, publishes every change and debounces validation of reference values.
// Package fieldwatch watches the file input of one repeatable download row.
//
// The input is written by third-party admin scripts that set the value
// without dispatching DOM events, so the observer combines native
// input/change listeners with a fixed-interval poll. Every distinct value is
// published immediately through OnURL. OnValidate fires after a quiet period
// for edd-release-deploy:// values and immediately for anything else.
//
// Typical usage:
//
//	o := fieldwatch.New(fieldwatch.Config{}, fieldwatch.Handlers{
//		OnURL:      func(v string) { ... },
//		OnValidate: func(v string) { ... },
//	})
//	o.Attach(ctx, anchor)
//	defer o.Detach()
package fieldwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/releasedeploy/reference"
)

// Default selectors of the download files metabox.
const (
	DefaultWrapperSelector = ".edd_repeatable_upload_wrapper"
	DefaultFieldSelector   = ".edd_repeatable_upload_field"
)

// watchedEvents are the native events that signal a value change.
var watchedEvents = []string{"input", "change"}

// Config tunes the observer.
type Config struct {
	// PollInterval is how often the value is re-read to catch silent
	// writes. Default: 600ms.
	PollInterval time.Duration
	// Debounce is the quiet period before OnValidate fires for a reference
	// value. Every further change restarts it. Default: 600ms.
	Debounce time.Duration
	// WrapperSelector scopes the lookup to one row. Default:
	// DefaultWrapperSelector.
	WrapperSelector string
	// FieldSelector finds the input inside the wrapper. Default:
	// DefaultFieldSelector.
	FieldSelector string
	Logger        *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 600 * time.Millisecond
	}
	if c.Debounce <= 0 {
		c.Debounce = 600 * time.Millisecond
	}
	if c.WrapperSelector == "" {
		c.WrapperSelector = DefaultWrapperSelector
	}
	if c.FieldSelector == "" {
		c.FieldSelector = DefaultFieldSelector
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Handlers receive the observer's output. Both run on the observer's loop
// goroutine and must not call Detach. Either may be nil.
type Handlers struct {
	// OnURL receives every distinct value as soon as it is seen.
	OnURL func(value string)
	// OnValidate receives the value that should be validated.
	OnValidate func(value string)
}

// Stats are point-in-time counters.
type Stats struct {
	Polls       int64 `json:"polls"`
	Events      int64 `json:"events"`
	Changes     int64 `json:"changes"`
	Validations int64 `json:"validations"`
}

// Observer watches a single input. It is safe for concurrent use; Attach and
// Detach may be called repeatedly, for instance when the row is re-rendered.
type Observer struct {
	cfg Config
	h   Handlers

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// mounted is false once Detach has started; a debounce fire racing
	// with Detach checks it before calling out.
	mounted atomic.Bool
	current atomic.Value // string
	poke    chan struct{}

	polls       atomic.Int64
	events      atomic.Int64
	changes     atomic.Int64
	validations atomic.Int64
}

// New creates an Observer. Call Attach to start watching.
func New(cfg Config, h Handlers) *Observer {
	cfg.defaults()
	o := &Observer{cfg: cfg, h: h}
	o.current.Store("")
	return o
}

// CurrentURL returns the last value seen on the input.
func (o *Observer) CurrentURL() string {
	return o.current.Load().(string)
}

// Attached reports whether the observer is watching an input.
func (o *Observer) Attached() bool {
	return o.mounted.Load()
}

// Stats returns the current counters.
func (o *Observer) Stats() Stats {
	return Stats{
		Polls:       o.polls.Load(),
		Events:      o.events.Load(),
		Changes:     o.changes.Load(),
		Validations: o.validations.Load(),
	}
}

// Attach locates the input from anchor (anchor → closest wrapper → field)
// and starts watching it until Detach is called or ctx is cancelled. A
// missing anchor, wrapper or field is not an error: the observer stays
// inert and Attach returns false. Attaching an attached observer detaches
// it first.
func (o *Observer) Attach(ctx context.Context, anchor Element) bool {
	o.Detach()

	o.mu.Lock()
	defer o.mu.Unlock()

	log := o.cfg.Logger
	field := o.locate(ctx, anchor)
	if field == nil {
		return false
	}

	initial, err := field.Value(ctx)
	if err != nil {
		log.Warn("fieldwatch: initial read failed", "error", err)
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	poke := make(chan struct{}, 1)
	notify := func() {
		select {
		case poke <- struct{}{}:
		default:
		}
	}

	remove, err := field.Listen(loopCtx, watchedEvents, notify)
	if err != nil {
		// Polling alone still catches every write.
		log.Warn("fieldwatch: listener registration failed, polling only", "error", err)
		remove = func() {}
	}

	o.current.Store(initial)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.poke = poke
	o.mounted.Store(true)

	go o.loop(loopCtx, field, initial, poke, remove, o.done)

	log.Debug("fieldwatch: attached",
		"value", initial, "poll", o.cfg.PollInterval, "debounce", o.cfg.Debounce)
	return true
}

// Detach stops watching: listeners are removed, the poll ticker and any
// pending debounce timer are stopped. When Detach returns no handler is
// running or will run.
func (o *Observer) Detach() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done, o.poke = nil, nil, nil
	o.mu.Unlock()

	o.mounted.Store(false)
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Poke schedules an immediate re-read of the input, as if a change event
// had fired.
func (o *Observer) Poke() {
	o.mu.Lock()
	poke := o.poke
	o.mu.Unlock()
	if poke == nil {
		return
	}
	select {
	case poke <- struct{}{}:
	default:
	}
}

func (o *Observer) locate(ctx context.Context, anchor Element) Element {
	log := o.cfg.Logger
	if anchor == nil {
		return nil
	}
	wrapper, err := anchor.Closest(ctx, o.cfg.WrapperSelector)
	if err != nil {
		log.Debug("fieldwatch: wrapper lookup failed", "error", err)
		return nil
	}
	if wrapper == nil {
		return nil
	}
	field, err := wrapper.Query(ctx, o.cfg.FieldSelector)
	if err != nil {
		log.Debug("fieldwatch: field lookup failed", "error", err)
		return nil
	}
	return field
}

// loop serialises the three change sources: listener signals, poll ticks
// and the debounce timer.
func (o *Observer) loop(ctx context.Context, field Element, last string, poke <-chan struct{}, remove func(), done chan<- struct{}) {
	log := o.cfg.Logger
	ticker := time.NewTicker(o.cfg.PollInterval)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	var pending string

	defer func() {
		ticker.Stop()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		remove()
		o.mounted.Store(false)
		close(done)
		log.Debug("fieldwatch: detached")
	}()

	check := func() {
		v, err := field.Value(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug("fieldwatch: read failed", "error", err)
			}
			return
		}
		if v == last {
			return
		}
		last = v
		o.changes.Add(1)

		if debounceTimer != nil {
			debounceTimer.Stop()
			debounceTimer, debounceCh = nil, nil
		}

		o.current.Store(v)
		if o.h.OnURL != nil {
			o.h.OnURL(v)
		}

		if reference.HasScheme(v) {
			pending = v
			debounceTimer = time.NewTimer(o.cfg.Debounce)
			debounceCh = debounceTimer.C
			return
		}
		o.validate(v)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-poke:
			o.events.Add(1)
			check()

		case <-ticker.C:
			o.polls.Add(1)
			check()

		case <-debounceCh:
			debounceTimer, debounceCh = nil, nil
			if !o.mounted.Load() || ctx.Err() != nil {
				return
			}
			o.validate(pending)
		}
	}
}

func (o *Observer) validate(v string) {
	o.validations.Add(1)
	if o.h.OnValidate != nil {
		o.h.OnValidate(v)
	}
}
