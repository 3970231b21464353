// Package roddom adapts elements of a live Chrome page to fieldwatch.Element.
//
// Values are read through the element's value property. DOM listeners are
// bridged back to Go with a CDP runtime binding: the injected handler calls
// the binding with a listener id and the Bridge dispatches to the matching
// Go callback.
package roddom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/releasedeploy/fieldwatch"
)

// BindingName is the window function the injected listeners call.
const BindingName = "__releaseDeployBinding"

const addListenerJS = `function(binding, id, events) {
	const h = () => window[binding](String(id));
	this.__releaseDeploy = this.__releaseDeploy || {};
	this.__releaseDeploy[id] = { h, events };
	for (const ev of events) this.addEventListener(ev, h);
}`

const removeListenerJS = `function(id) {
	const reg = this.__releaseDeploy && this.__releaseDeploy[id];
	if (!reg) return;
	for (const ev of reg.events) this.removeEventListener(ev, reg.h);
	delete this.__releaseDeploy[id];
}`

// Bridge owns the runtime binding of one page.
type Bridge struct {
	page   *rod.Page
	logger *slog.Logger

	nextID atomic.Uint64
	mu     sync.RWMutex
	fns    map[string]func()
}

// NewBridge installs the binding on page and dispatches binding calls until
// ctx is cancelled.
func NewBridge(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(page); err != nil {
		return nil, fmt.Errorf("roddom: add binding: %w", err)
	}
	b := &Bridge{page: page, logger: logger, fns: make(map[string]func())}

	wait := page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != BindingName {
			return
		}
		b.mu.RLock()
		fn := b.fns[e.Payload]
		b.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})
	go wait()
	return b, nil
}

// Wrap adapts el.
func (b *Bridge) Wrap(el *rod.Element) *Element {
	return &Element{el: el, bridge: b}
}

// All returns every element matching selector, without waiting.
func (b *Bridge) All(ctx context.Context, selector string) ([]*Element, error) {
	els, err := b.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: query %s: %w", selector, err)
	}
	out := make([]*Element, 0, len(els))
	for _, el := range els {
		out = append(out, b.Wrap(el))
	}
	return out, nil
}

func (b *Bridge) register(fn func()) string {
	id := strconv.FormatUint(b.nextID.Add(1), 10)
	b.mu.Lock()
	b.fns[id] = fn
	b.mu.Unlock()
	return id
}

func (b *Bridge) unregister(id string) {
	b.mu.Lock()
	delete(b.fns, id)
	b.mu.Unlock()
}

// Element is a page element seen through the Bridge.
type Element struct {
	el     *rod.Element
	bridge *Bridge
}

// Rod returns the underlying rod element.
func (e *Element) Rod() *rod.Element { return e.el }

// Closest implements fieldwatch.Element.
func (e *Element) Closest(ctx context.Context, selector string) (fieldwatch.Element, error) {
	found, err := e.el.Context(ctx).ElementByJS(rod.Eval(`function(sel) { return this.closest(sel) }`, selector))
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("roddom: closest %s: %w", selector, err)
	}
	return e.bridge.Wrap(found), nil
}

// Query implements fieldwatch.Element.
func (e *Element) Query(ctx context.Context, selector string) (fieldwatch.Element, error) {
	found, err := e.el.Context(ctx).Element(selector)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("roddom: query %s: %w", selector, err)
	}
	return e.bridge.Wrap(found), nil
}

// Value implements fieldwatch.Element.
func (e *Element) Value(ctx context.Context) (string, error) {
	v, err := e.el.Context(ctx).Property("value")
	if err != nil {
		return "", fmt.Errorf("roddom: read value: %w", err)
	}
	if v.Nil() {
		return "", nil
	}
	return v.Str(), nil
}

// Listen implements fieldwatch.Element.
func (e *Element) Listen(ctx context.Context, events []string, fn func()) (func(), error) {
	id := e.bridge.register(fn)
	if _, err := e.el.Context(ctx).Eval(addListenerJS, BindingName, id, events); err != nil {
		e.bridge.unregister(id)
		return nil, fmt.Errorf("roddom: add listener: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.bridge.unregister(id)
			// The listener context may already be cancelled; removal uses
			// the element's own context.
			if _, err := e.el.Eval(removeListenerJS, id); err != nil {
				e.bridge.logger.Debug("roddom: remove listener failed", "error", err)
			}
		})
	}, nil
}

// SetValueSilently writes the value the way jQuery's .val() does, without
// dispatching events.
func (e *Element) SetValueSilently(ctx context.Context, v string) error {
	_, err := e.el.Context(ctx).Eval(`function(v) { this.value = v }`, v)
	return err
}

func isNotFound(err error) bool {
	var nf *rod.ElementNotFoundError
	return errors.As(err, &nf)
}

var _ fieldwatch.Element = (*Element)(nil)
