package validation

import "fmt"

// Status is the coordinator's display state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusTesting Status = "testing"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Result is a successful validation.
type Result struct {
	Size   int64 `json:"size"`
	Exists bool  `json:"exists"`
}

// HumanSize formats Size with one decimal in B, KB, MB or GB.
func (r Result) HumanSize() string {
	return FormatSize(r.Size)
}

// Error is a failed validation as shown to the user. Code is empty when
// the backend sent none.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// State is a point-in-time view of the coordinator. Exactly one of Result
// and Err is set in the ready and error states; both are nil otherwise.
type State struct {
	Status Status  `json:"status"`
	URL    string  `json:"url,omitempty"`
	Result *Result `json:"result,omitempty"`
	Err    *Error  `json:"error,omitempty"`
	// Attempt numbers validation attempts; 0 before the first one.
	Attempt uint64 `json:"attempt"`
}

// Valid reports whether s satisfies the status/result/error invariant.
func (s State) Valid() bool {
	switch s.Status {
	case StatusIdle, StatusTesting:
		return s.Result == nil && s.Err == nil
	case StatusReady:
		return s.Result != nil && s.Err == nil
	case StatusError:
		return s.Result == nil && s.Err != nil
	}
	return false
}

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize renders bytes with one decimal, stepping by 1024 up to GB.
func FormatSize(bytes int64) string {
	size := float64(bytes)
	unit := 0
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s", size, sizeUnits[unit])
}
