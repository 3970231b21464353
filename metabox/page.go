// CLAUDE:SUMMARY Manages every file row of a download edit screen and streams their events to sinks through one dispatcher goroutine.
package metabox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/releasedeploy/fieldwatch"
	"github.com/hazyhaar/releasedeploy/reference"
	"github.com/hazyhaar/releasedeploy/sink"
	"github.com/hazyhaar/releasedeploy/validation"
)

// Config configures a Page.
type Config struct {
	Tester          validation.Tester
	Observer        fieldwatch.Config
	FallbackMessage string
	Links           Links
	// Sink receives every row event. Nil discards them.
	Sink sink.Sink
	// QueueSize bounds the events waiting for the sink. Default: 64.
	QueueSize int
	Logger    *slog.Logger
}

// Page is the set of file rows of one download. Events from all rows are
// delivered to the sink in order by a single goroutine.
type Page struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	rows   map[string]*Row
	order  []string
	seq    int
	closed bool

	events chan sink.Event
	stop   chan struct{}
	done   chan struct{}
}

// NewPage creates a Page and starts its dispatcher.
func NewPage(cfg Config) *Page {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	p := &Page{
		cfg:    cfg,
		logger: cfg.Logger,
		rows:   make(map[string]*Row),
		events: make(chan sink.Event, cfg.QueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// AddRow attaches a new row found from anchor. An empty id is replaced by
// a generated one. A missing row structure yields a nil row and no error.
func (p *Page) AddRow(ctx context.Context, id string, anchor fieldwatch.Element) (*Row, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("metabox: page closed")
	}
	if id == "" {
		id = fmt.Sprintf("row-%d", p.seq)
	}
	p.seq++
	if _, dup := p.rows[id]; dup {
		p.mu.Unlock()
		return nil, fmt.Errorf("metabox: row %q already exists", id)
	}
	p.mu.Unlock()

	row := NewRow(p.cfg.Tester, RowConfig{
		ID:              id,
		Observer:        p.cfg.Observer,
		FallbackMessage: p.cfg.FallbackMessage,
		Links:           p.cfg.Links,
		Logger:          p.logger,
		Emit:            p.enqueue,
	})
	if !row.Attach(ctx, anchor) {
		row.Close()
		p.logger.Debug("metabox: row structure not found", "row", id)
		return nil, nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		row.Close()
		return nil, fmt.Errorf("metabox: page closed")
	}
	p.rows[id] = row
	p.order = append(p.order, id)
	p.mu.Unlock()
	return row, nil
}

// RemoveRow closes and forgets the row, as when it is deleted from the
// form. Unknown ids are ignored.
func (p *Page) RemoveRow(id string) {
	p.mu.Lock()
	row, ok := p.rows[id]
	if ok {
		delete(p.rows, id)
		for i, v := range p.order {
			if v == id {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()
	if ok {
		row.Close()
	}
}

// Row returns the row with id, or nil.
func (p *Page) Row(id string) *Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows[id]
}

// Snapshots returns the display state of every row in insertion order.
func (p *Page) Snapshots() []Snapshot {
	rows := p.ordered()
	out := make([]Snapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Snapshot())
	}
	return out
}

// FirstReference returns the first row value, in insertion order, that
// parses as a reference.
func (p *Page) FirstReference() (reference.Ref, bool) {
	for _, r := range p.ordered() {
		if ref, ok := reference.Parse(r.obs.CurrentURL()); ok {
			return ref, true
		}
	}
	return reference.Ref{}, false
}

// HasReferences reports whether any row holds a reference.
func (p *Page) HasReferences() bool {
	_, ok := p.FirstReference()
	return ok
}

// Close closes every row, flushes queued events and closes the sink.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	rows := make([]*Row, 0, len(p.order))
	for _, id := range p.order {
		rows = append(rows, p.rows[id])
	}
	p.rows = make(map[string]*Row)
	p.order = nil
	p.mu.Unlock()

	for _, r := range rows {
		r.Close()
	}
	close(p.stop)
	<-p.done

	if p.cfg.Sink != nil {
		return p.cfg.Sink.Close()
	}
	return nil
}

func (p *Page) ordered() []*Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	rows := make([]*Row, 0, len(p.order))
	for _, id := range p.order {
		rows = append(rows, p.rows[id])
	}
	return rows
}

func (p *Page) enqueue(ev sink.Event) {
	select {
	case p.events <- ev:
	case <-p.stop:
	}
}

func (p *Page) dispatch() {
	defer close(p.done)
	for {
		select {
		case ev := <-p.events:
			p.deliver(ev)
		case <-p.stop:
			for {
				select {
				case ev := <-p.events:
					p.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Page) deliver(ev sink.Event) {
	if p.cfg.Sink == nil {
		return
	}
	if err := p.cfg.Sink.Send(context.Background(), ev); err != nil {
		p.logger.Warn("metabox: sink send failed", "row", ev.Row, "kind", ev.Kind, "error", err)
	}
}
