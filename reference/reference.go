// Package reference parses and builds edd-release-deploy:// file references.
//
// A reference names one asset attached to a tagged release:
//
//	edd-release-deploy://{owner}/{repo}/{release}/{filename}
//
// The scheme string and segment order are the stored wire format of download
// file fields and must not change.
package reference

import "strings"

// Scheme is the fixed prefix identifying a release asset reference.
const Scheme = "edd-release-deploy://"

// Latest is the release token resolving to the most recent release.
const Latest = "latest"

// Ref identifies a single release asset. The zero value is not a valid
// reference.
type Ref struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	Release  string `json:"release"`
	Filename string `json:"filename"`
}

// HasScheme reports whether s starts with Scheme. The match is case-sensitive.
func HasScheme(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// Parse extracts a Ref from s. It reports false when s lacks the scheme
// prefix or when any of the first four path segments is missing or empty.
// Segments beyond the fourth are ignored.
func Parse(s string) (Ref, bool) {
	rest, ok := strings.CutPrefix(s, Scheme)
	if !ok {
		return Ref{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 4 {
		return Ref{}, false
	}
	for _, p := range parts[:4] {
		if p == "" {
			return Ref{}, false
		}
	}
	return Ref{
		Owner:    parts[0],
		Repo:     parts[1],
		Release:  parts[2],
		Filename: parts[3],
	}, true
}

// Build joins repoPath ("owner/repo"), release and filename under Scheme.
// Inputs are not validated.
func Build(repoPath, release, filename string) string {
	return Scheme + repoPath + "/" + release + "/" + filename
}

// RepoPath returns "owner/repo".
func (r Ref) RepoPath() string {
	return r.Owner + "/" + r.Repo
}

// IsLatest reports whether the reference tracks the latest release.
func (r Ref) IsLatest() bool {
	return r.Release == Latest
}

// String renders the reference in its stored form.
func (r Ref) String() string {
	return Build(r.RepoPath(), r.Release, r.Filename)
}
