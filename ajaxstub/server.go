// CLAUDE:SUMMARY Fixture-backed admin-ajax stand-in served with chi: nonce checks, release-deploy actions, optional latency, and a demo download edit page.
// Package ajaxstub serves a fixture-backed imitation of the WordPress
// admin-ajax endpoint for local development and tests. It never talks to
// GitHub.
package ajaxstub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/releasedeploy/ajax"
	"github.com/hazyhaar/releasedeploy/reference"
)

// Paths served by the stub.
const (
	AjaxPath = "/wp-admin/admin-ajax.php"
	EditPath = "/wp-admin/post.php"
)

// Options tunes the stub.
type Options struct {
	// Latency delays every AJAX answer. Cancelled requests return early.
	Latency time.Duration
	Actions ajax.Actions
	Logger  *slog.Logger
}

// Server is the stub backend.
type Server struct {
	fx      *Fixtures
	opts    Options
	actions map[string]http.HandlerFunc
	router  chi.Router

	mu    sync.Mutex
	calls map[string]int
}

// New creates a Server over fx.
func New(fx *Fixtures, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	a := opts.Actions.WithDefaults()
	s := &Server{fx: fx, opts: opts, calls: make(map[string]int)}
	s.actions = map[string]http.HandlerFunc{
		a.TestFile:       s.handleTestFile,
		a.TestConnection: s.handleTestConnection,
		a.GetRateLimit:   s.handleRateLimit,
		a.GetRepos:       s.handleRepos,
		a.GetReleases:    s.handleReleases,
		a.ClearCache:     s.handleClearCache,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(maxFormBody(MaxFormBody))
	r.Post(AjaxPath, s.handleAjax)
	r.Get(EditPath, s.handleEditPage)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Calls returns how many requests reached action with a valid nonce.
func (s *Server) Calls(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[action]
}

// handleAjax dispatches on the action field the way admin-ajax.php does:
// "0" for unknown actions, "-1" with 403 for a bad nonce.
func (s *Server) handleAjax(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "0", http.StatusBadRequest)
		return
	}
	action := r.PostForm.Get("action")
	h, ok := s.actions[action]
	if !ok {
		http.Error(w, "0", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("nonce") != s.fx.Nonce {
		s.opts.Logger.Warn("ajaxstub: bad nonce", "action", action,
			"request_id", middleware.GetReqID(r.Context()))
		http.Error(w, "-1", http.StatusForbidden)
		return
	}

	s.mu.Lock()
	s.calls[action]++
	s.mu.Unlock()

	if s.opts.Latency > 0 {
		t := time.NewTimer(s.opts.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-r.Context().Done():
			return
		}
	}
	s.opts.Logger.Debug("ajaxstub: request", "action", action,
		"request_id", middleware.GetReqID(r.Context()))
	h(w, r)
}

func (s *Server) handleTestFile(w http.ResponseWriter, r *http.Request) {
	fileURL := r.PostForm.Get("file_url")
	ref, ok := reference.Parse(fileURL)
	if !ok {
		sendError(w, "Invalid file URL format", "invalid_url")
		return
	}
	repo := s.fx.repo(ref.Owner, ref.Repo)
	if repo == nil {
		sendError(w, "Repository not found or not accessible", "repo_not_found")
		return
	}

	var rel *ReleaseFixture
	if ref.IsLatest() {
		if !s.fx.LatestRelease {
			sendError(w, "Using the latest release requires Release Deploy Pro", "pro_feature")
			return
		}
		if len(repo.Releases) > 0 {
			rel = &repo.Releases[0]
		}
	} else {
		rel = repo.release(ref.Release)
	}
	if rel == nil {
		sendError(w, fmt.Sprintf("Release %s not found in repository %s", ref.Release, ref.RepoPath()), "release_not_found")
		return
	}
	asset := rel.asset(ref.Filename)
	if asset == nil {
		sendError(w, fmt.Sprintf("Asset not found: %s", ref.Filename), "asset_not_found")
		return
	}
	sendSuccess(w, ajax.FileInfo{Size: asset.Size, Exists: true})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if s.fx.Token == "" || r.PostForm.Get("token") != s.fx.Token {
		sendError(w, "Invalid token", "invalid_token")
		return
	}
	sendSuccess(w, map[string]string{"message": "Connection successful"})
}

func (s *Server) handleRateLimit(w http.ResponseWriter, _ *http.Request) {
	sendSuccess(w, map[string]ajax.RateLimit{"rate_limit": s.fx.RateLimit})
}

func (s *Server) handleRepos(w http.ResponseWriter, _ *http.Request) {
	out := make([]ajax.Repo, 0, len(s.fx.Repos))
	for _, rf := range s.fx.Repos {
		repo := ajax.Repo{ID: rf.ID, Name: rf.Name, FullName: rf.Owner + "/" + rf.Name, Private: rf.Private}
		repo.Owner.Login = rf.Owner
		out = append(out, repo)
	}
	sendSuccess(w, out)
}

func (s *Server) handleReleases(w http.ResponseWriter, r *http.Request) {
	owner, name, _ := strings.Cut(r.PostForm.Get("repo"), "/")
	repo := s.fx.repo(owner, name)
	if repo == nil {
		sendError(w, "Repository not found or not accessible", "repo_not_found")
		return
	}
	out := make([]ajax.Release, 0, len(repo.Releases))
	for _, rel := range repo.Releases {
		ar := ajax.Release{ID: rel.ID, TagName: rel.Tag, Name: rel.Name, PublishedAt: rel.PublishedAt}
		for _, a := range rel.Assets {
			ar.Assets = append(ar.Assets, ajax.Asset{ID: a.ID, Name: a.Name, Size: a.Size, ContentType: a.ContentType})
		}
		out = append(out, ar)
	}
	sendSuccess(w, out)
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	sendSuccess(w, map[string]string{"message": "Cache cleared"})
}

// sendSuccess and sendError write the wp_send_json_success/error envelope.
func sendSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, map[string]any{"success": true, "data": data})
}

func sendError(w http.ResponseWriter, message, code string) {
	writeJSON(w, map[string]any{
		"success": false,
		"data":    map[string]string{"message": message, "code": code},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	json.NewEncoder(w).Encode(v)
}
