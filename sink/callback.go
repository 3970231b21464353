package sink

import "context"

// Func receives events in-process.
type Func func(ctx context.Context, ev Event) error

// Callback delivers events via a Go function call with no serialisation.
type Callback struct {
	fn Func
}

// NewCallback creates a Callback sink. A nil fn drops every event.
func NewCallback(fn Func) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, ev Event) error {
	if c.fn != nil {
		return c.fn(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
