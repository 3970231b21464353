// CLAUDE:SUMMARY Binds one download file row: an input observer feeding a validation coordinator, with snapshots of what the status indicator shows.
// Package metabox assembles the per-row pieces of the download files
// metabox: the input observer, the validation coordinator and the status
// the row displays.
package metabox

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/releasedeploy/fieldwatch"
	"github.com/hazyhaar/releasedeploy/reference"
	"github.com/hazyhaar/releasedeploy/sink"
	"github.com/hazyhaar/releasedeploy/validation"
)

// Snapshot is what one row displays.
type Snapshot struct {
	Row string `json:"row"`
	URL string `json:"url"`
	// Visible is false when URL is not a reference; nothing is shown then.
	Visible bool `json:"visible"`
	// Pending is true while a changed reference waits for its debounced
	// validation.
	Pending bool             `json:"pending"`
	State   validation.State `json:"state"`
	// Action is set when the error has a known remedy.
	Action *sink.Action `json:"action,omitempty"`
}

// Links are the admin pages error actions point to. An empty URL disables
// the matching action.
type Links struct {
	PurchaseURL string
	SettingsURL string
}

// action picks the remedy for a failed validation: pro-only features link
// to the purchase page, token problems to the settings page.
func (l Links) action(e *validation.Error) *sink.Action {
	if e == nil {
		return nil
	}
	switch {
	case e.Code == "pro_feature" && l.PurchaseURL != "":
		return &sink.Action{Label: "Get Pro", URL: l.PurchaseURL}
	case strings.Contains(strings.ToLower(e.Message), "token") && l.SettingsURL != "":
		return &sink.Action{Label: "Fix it", URL: l.SettingsURL}
	}
	return nil
}

// RowConfig configures a Row.
type RowConfig struct {
	ID              string
	Observer        fieldwatch.Config
	FallbackMessage string
	Links           Links
	Logger          *slog.Logger
	// Emit receives URL and state events. It is called from the observer
	// and coordinator goroutines and should not block for long.
	Emit func(sink.Event)
}

// Row watches one file input and validates its references.
type Row struct {
	id     string
	obs    *fieldwatch.Observer
	coord  *validation.Coordinator
	links  Links
	emit   func(sink.Event)
	logger *slog.Logger

	mu     sync.Mutex
	unsub  func()
	closed bool
}

// NewRow creates a detached row validating through tester.
func NewRow(tester validation.Tester, cfg RowConfig) *Row {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Emit == nil {
		cfg.Emit = func(sink.Event) {}
	}
	logger := cfg.Logger.With("row", cfg.ID)
	cfg.Observer.Logger = logger

	opts := []validation.Option{validation.WithLogger(logger)}
	if cfg.FallbackMessage != "" {
		opts = append(opts, validation.WithFallbackMessage(cfg.FallbackMessage))
	}

	r := &Row{
		id:     cfg.ID,
		coord:  validation.New(tester, opts...),
		links:  cfg.Links,
		emit:   cfg.Emit,
		logger: logger,
	}
	r.obs = fieldwatch.New(cfg.Observer, fieldwatch.Handlers{
		OnURL:      r.onURL,
		OnValidate: r.onValidate,
	})
	r.unsub = r.coord.Subscribe(r.onState)
	return r
}

// ID returns the row identifier.
func (r *Row) ID() string { return r.id }

// Attach starts watching the input found from anchor. A reference already
// present in the input is validated immediately. Attach returns false when
// the row structure is missing, in which case the row stays inert.
func (r *Row) Attach(ctx context.Context, anchor fieldwatch.Element) bool {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed || !r.obs.Attach(ctx, anchor) {
		return false
	}

	current := r.obs.CurrentURL()
	r.emitURL(current)
	if reference.HasScheme(current) {
		r.coord.Test(current)
	}
	return true
}

// Detach stops watching the input. The coordinator keeps its last state so
// a later Attach resumes where it left off.
func (r *Row) Detach() { r.obs.Detach() }

// Close detaches the row and cancels any pending validation. A closed row
// emits nothing further.
func (r *Row) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsub := r.unsub
	r.mu.Unlock()

	r.obs.Detach()
	unsub()
	r.coord.Close()
}

// Retry re-runs the last validation, as the retry link does. It is ignored
// while a validation is in flight or when the input holds no reference.
func (r *Row) Retry() <-chan struct{} {
	if !reference.HasScheme(r.obs.CurrentURL()) {
		done := make(chan struct{})
		close(done)
		return done
	}
	return r.coord.Retry()
}

// Poke forces an immediate re-read of the input.
func (r *Row) Poke() { r.obs.Poke() }

// Stats returns the observer counters.
func (r *Row) Stats() fieldwatch.Stats { return r.obs.Stats() }

// Snapshot returns what the row currently displays.
func (r *Row) Snapshot() Snapshot {
	return r.snapshot(r.obs.CurrentURL(), r.coord.State())
}

func (r *Row) snapshot(current string, st validation.State) Snapshot {
	s := Snapshot{
		Row:     r.id,
		URL:     current,
		Visible: reference.HasScheme(current),
		State:   st,
	}
	if s.Visible && st.URL != current {
		// The input moved on; the old result no longer describes it.
		s.Pending = true
		s.State = validation.State{Status: validation.StatusTesting, URL: current, Attempt: st.Attempt}
	}
	if s.Visible {
		s.Action = r.links.action(s.State.Err)
	}
	return s
}

func (r *Row) onURL(v string) {
	r.emitURL(v)
}

func (r *Row) onValidate(v string) {
	if !reference.HasScheme(v) {
		return
	}
	r.coord.Test(v)
}

func (r *Row) onState(st validation.State) {
	s := r.snapshot(r.obs.CurrentURL(), st)
	r.send(sink.KindState, s)
}

func (r *Row) emitURL(v string) {
	r.send(sink.KindURL, r.snapshot(v, r.coord.State()))
}

func (r *Row) send(kind sink.Kind, s Snapshot) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	r.emit(sink.Event{
		Kind:    kind,
		Row:     r.id,
		URL:     s.URL,
		Visible: s.Visible,
		State:   s.State,
		Action:  s.Action,
		At:      time.Now().UTC(),
	})
}
