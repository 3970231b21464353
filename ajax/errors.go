package ajax

import (
	"errors"
	"fmt"
)

// ErrCanceled is returned when the caller's context is cancelled before the
// backend answered. Errors carrying it also match context.Canceled.
var ErrCanceled = errors.New("ajax: request canceled")

// RemoteError is returned when the backend envelope reports success=false.
// Code is empty when the backend did not send one.
type RemoteError struct {
	Action  string
	Message string
	Code    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ajax: %s failed: %s (%s)", e.Action, e.Message, e.Code)
	}
	return fmt.Sprintf("ajax: %s failed: %s", e.Action, e.Message)
}

// TransportError covers everything between the request and a decoded
// envelope: dial failures, non-2xx statuses and malformed JSON. Status is 0
// when no response was received.
type TransportError struct {
	Action string
	Status int
	// Summary is a short plain-text rendering of the response body.
	Summary string
	Cause   error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Summary != "":
		return fmt.Sprintf("ajax: %s: status %d: %s", e.Action, e.Status, e.Summary)
	case e.Status != 0:
		return fmt.Sprintf("ajax: %s: status %d", e.Action, e.Status)
	case e.Cause != nil:
		return fmt.Sprintf("ajax: %s: %v", e.Action, e.Cause)
	default:
		return fmt.Sprintf("ajax: %s: transport failure", e.Action)
	}
}

func (e *TransportError) Unwrap() error { return e.Cause }

// IsCanceled reports whether err stems from a cancelled request.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}
