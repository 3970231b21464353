// Package sink defines output backends for row events.
package sink

import (
	"context"
	"time"

	"github.com/hazyhaar/releasedeploy/validation"
)

// Kind distinguishes the two event streams of a row.
type Kind string

const (
	// KindURL is emitted for every distinct input value.
	KindURL Kind = "url"
	// KindState is emitted for every validation state change.
	KindState Kind = "state"
)

// Event is one observation of a download file row.
type Event struct {
	Kind Kind   `json:"kind"`
	Row  string `json:"row"`
	URL  string `json:"url"`
	// Visible is false when URL is not an edd-release-deploy:// reference;
	// the status indicator is hidden then.
	Visible bool             `json:"visible"`
	State   validation.State `json:"state"`
	// Action is the remedy link offered next to an error, if any.
	Action *Action   `json:"action,omitempty"`
	At     time.Time `json:"at"`
}

// Action is a labelled link shown beside a failed validation.
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, SQLite history, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}
