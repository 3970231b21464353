package validation

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// Fixed user-facing messages.
const (
	MsgReleaseNotFound    = "Release not found"
	MsgRepositoryNotFound = "Repository not found"
	MsgFileNotFound       = "File not found"
	MsgNetworkError       = "Network error"
)

var strictPolicy = bluemonday.StrictPolicy()

// NormalizeMessage collapses known backend phrasings into fixed messages.
// Messages carrying encoded quotes or ampersands are stripped of markup,
// decoded once, and matched again.
func NormalizeMessage(msg string) string {
	if simplified, ok := simplify(msg); ok {
		return simplified
	}
	if !strings.Contains(msg, "&quot;") && !strings.Contains(msg, "&amp;") {
		return msg
	}
	decoded := html.UnescapeString(strictPolicy.Sanitize(msg))
	if simplified, ok := simplify(decoded); ok {
		return simplified
	}
	return decoded
}

func simplify(msg string) (string, bool) {
	switch {
	case strings.Contains(msg, "not found in repository"):
		return MsgReleaseNotFound, true
	case strings.Contains(msg, "Repository not found"):
		return MsgRepositoryNotFound, true
	case strings.Contains(msg, "Asset not found"):
		return MsgFileNotFound, true
	}
	return "", false
}
