// Package memdom is a minimal in-memory element tree implementing
// fieldwatch.Element. It models the parts of the download files metabox the
// observer touches: nested containers, class and id selectors, an input
// value, and input/change listeners.
//
// SetValue writes silently, the way jQuery's .val() does. Type writes and
// dispatches an input event, the way a keystroke does.
package memdom

import (
	"context"
	"strings"
	"sync"

	"github.com/hazyhaar/releasedeploy/fieldwatch"
)

// tree holds the lock shared by every node of one document.
type tree struct {
	mu sync.RWMutex
}

type listener struct {
	fn func()
}

// Node is an element of the tree.
type Node struct {
	t         *tree
	tag       string
	id        string
	classes   []string
	attrs     map[string]string
	parent    *Node
	children  []*Node
	value     string
	listeners map[string][]*listener
}

// New creates a detached element. tag may carry an id and classes in
// selector form, e.g. "input#file-0.edd_repeatable_upload_field".
func New(tag string) *Node {
	n := &Node{t: &tree{}, attrs: map[string]string{}, listeners: map[string][]*listener{}}
	s := parseSelector(tag)
	n.tag, n.id, n.classes = s.tag, s.id, s.classes
	return n
}

// Append adopts child (and its subtree) as the last child of n and returns
// child.
func (n *Node) Append(child *Node) *Node {
	n.t.mu.Lock()
	defer n.t.mu.Unlock()
	child.adopt(n.t)
	child.parent = n
	n.children = append(n.children, child)
	return child
}

func (n *Node) adopt(t *tree) {
	n.t = t
	for _, c := range n.children {
		c.adopt(t)
	}
}

// Remove detaches n from its parent.
func (n *Node) Remove() {
	n.t.mu.Lock()
	defer n.t.mu.Unlock()
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = nil
}

// SetAttr sets an attribute, e.g. data-file-url.
func (n *Node) SetAttr(name, value string) *Node {
	n.t.mu.Lock()
	defer n.t.mu.Unlock()
	n.attrs[name] = value
	return n
}

// Attr returns an attribute value.
func (n *Node) Attr(name string) string {
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	return n.attrs[name]
}

// SetValue writes the value without dispatching any event.
func (n *Node) SetValue(v string) {
	n.t.mu.Lock()
	n.value = v
	n.t.mu.Unlock()
}

// Type writes the value and dispatches an input event.
func (n *Node) Type(v string) {
	n.SetValue(v)
	n.Dispatch("input")
}

// Dispatch calls every listener registered for event.
func (n *Node) Dispatch(event string) {
	n.t.mu.RLock()
	ls := append([]*listener(nil), n.listeners[event]...)
	n.t.mu.RUnlock()
	for _, l := range ls {
		l.fn()
	}
}

// ListenerCount returns how many listeners are registered for event.
func (n *Node) ListenerCount(event string) int {
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	return len(n.listeners[event])
}

// Closest implements fieldwatch.Element.
func (n *Node) Closest(_ context.Context, selector string) (fieldwatch.Element, error) {
	s := parseSelector(selector)
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	for cur := n; cur != nil; cur = cur.parent {
		if s.matches(cur) {
			return cur, nil
		}
	}
	return nil, nil
}

// Query implements fieldwatch.Element.
func (n *Node) Query(_ context.Context, selector string) (fieldwatch.Element, error) {
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	if found := n.find(parseSelector(selector)); found != nil {
		return found, nil
	}
	return nil, nil
}

// QueryAll returns every descendant matching selector in document order.
func (n *Node) QueryAll(selector string) []*Node {
	s := parseSelector(selector)
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	var out []*Node
	var walk func(*Node)
	walk = func(cur *Node) {
		for _, c := range cur.children {
			if s.matches(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func (n *Node) find(s selector) *Node {
	for _, c := range n.children {
		if s.matches(c) {
			return c
		}
		if found := c.find(s); found != nil {
			return found
		}
	}
	return nil
}

// Value implements fieldwatch.Element.
func (n *Node) Value(_ context.Context) (string, error) {
	n.t.mu.RLock()
	defer n.t.mu.RUnlock()
	return n.value, nil
}

// Listen implements fieldwatch.Element.
func (n *Node) Listen(_ context.Context, events []string, fn func()) (func(), error) {
	l := &listener{fn: fn}
	n.t.mu.Lock()
	for _, ev := range events {
		n.listeners[ev] = append(n.listeners[ev], l)
	}
	n.t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.t.mu.Lock()
			defer n.t.mu.Unlock()
			for _, ev := range events {
				ls := n.listeners[ev]
				for i, cur := range ls {
					if cur == l {
						n.listeners[ev] = append(ls[:i], ls[i+1:]...)
						break
					}
				}
			}
		})
	}, nil
}

// selector is a compound simple selector: tag, #id and .classes, plus an
// optional [attr="value"] filter.
type selector struct {
	tag     string
	id      string
	classes []string
	attr    string
	attrVal string
}

func parseSelector(s string) selector {
	var sel selector
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '['); i >= 0 && strings.HasSuffix(s, "]") {
		inner := s[i+1 : len(s)-1]
		name, val, _ := strings.Cut(inner, "=")
		sel.attr = strings.TrimSpace(name)
		sel.attrVal = strings.Trim(strings.TrimSpace(val), `"'`)
		s = s[:i]
	}
	token := func(rest string) (string, string) {
		end := strings.IndexAny(rest, ".#")
		if end < 0 {
			return rest, ""
		}
		return rest[:end], rest[end:]
	}
	head, rest := token(s)
	sel.tag = head
	for rest != "" {
		kind := rest[0]
		var name string
		name, rest = token(rest[1:])
		switch kind {
		case '.':
			sel.classes = append(sel.classes, name)
		case '#':
			sel.id = name
		}
	}
	return sel
}

func (s selector) matches(n *Node) bool {
	if s.tag != "" && s.tag != "*" && !strings.EqualFold(s.tag, n.tag) {
		return false
	}
	if s.id != "" && s.id != n.id {
		return false
	}
	for _, c := range s.classes {
		found := false
		for _, nc := range n.classes {
			if nc == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.attr != "" {
		v, ok := n.attrs[s.attr]
		if !ok || (s.attrVal != "" && v != s.attrVal) {
			return false
		}
	}
	return true
}

var _ fieldwatch.Element = (*Node)(nil)
