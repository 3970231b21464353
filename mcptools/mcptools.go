// CLAUDE:SUMMARY MCP tools exposing reference parsing/building and backend file tests.
// Package mcptools registers the release reference operations as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/releasedeploy/ajax"
	"github.com/hazyhaar/releasedeploy/kit"
	"github.com/hazyhaar/releasedeploy/reference"
	"github.com/hazyhaar/releasedeploy/validation"
)

// Backend is the subset of *ajax.Client the tools call.
type Backend interface {
	TestFile(ctx context.Context, fileURL string) (ajax.FileInfo, error)
	RateLimit(ctx context.Context) *ajax.RateLimit
	Releases(ctx context.Context, repoPath string) ([]ajax.Release, error)
}

// Config configures the tool set. Backend may be nil, in which case only
// the offline tools (parse, build) are registered.
type Config struct {
	Backend         Backend
	FallbackMessage string
	Logger          *slog.Logger
}

// Tools is a set of MCP tools bound to one backend.
type Tools struct {
	backend  Backend
	fallback string
	logger   *slog.Logger
}

func New(cfg Config) *Tools {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = validation.MsgNetworkError
	}
	return &Tools{backend: cfg.Backend, fallback: cfg.FallbackMessage, logger: cfg.Logger}
}

// Register adds the tools to srv.
func (t *Tools) Register(srv *mcp.Server) {
	t.registerParse(srv)
	t.registerBuild(srv)
	if t.backend == nil {
		return
	}
	t.registerTestFile(srv)
	t.registerRateLimit(srv)
	t.registerReleases(srv)
}

func (t *Tools) wrap(op string, e kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(t.logger, op))(e)
}

func decodeInto[T any]() func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r T
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}
}

// --- parse ---

type parseReq struct {
	Value string `json:"value"`
}

// ParseResp is the release_deploy_parse answer. Ref is nil when Valid is
// false.
type ParseResp struct {
	Valid     bool           `json:"valid"`
	HasScheme bool           `json:"has_scheme"`
	Ref       *reference.Ref `json:"ref,omitempty"`
	Latest    bool           `json:"latest,omitempty"`
}

func (t *Tools) registerParse(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "release_deploy_parse",
		Description: "Parse an edd-release-deploy:// file reference into owner, repo, release and filename.",
		InputSchema: kit.InputSchema(map[string]any{
			"value": map[string]any{"type": "string", "description": "File field value"},
		}, []string{"value"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*parseReq)
		resp := ParseResp{HasScheme: reference.HasScheme(r.Value)}
		if ref, ok := reference.Parse(r.Value); ok {
			resp.Valid = true
			resp.Ref = &ref
			resp.Latest = ref.IsLatest()
		}
		return resp, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(tool.Name, endpoint), decodeInto[parseReq]())
}

// --- build ---

type buildReq struct {
	Repo     string `json:"repo"`
	Release  string `json:"release"`
	Filename string `json:"filename"`
}

func (t *Tools) registerBuild(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "release_deploy_build",
		Description: "Build an edd-release-deploy:// file reference from owner/repo, release tag and asset name.",
		InputSchema: kit.InputSchema(map[string]any{
			"repo":     map[string]any{"type": "string", "description": "Repository as owner/repo"},
			"release":  map[string]any{"type": "string", "description": "Release tag, or \"latest\""},
			"filename": map[string]any{"type": "string", "description": "Asset file name"},
		}, []string{"repo", "release", "filename"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*buildReq)
		if r.Repo == "" || r.Release == "" || r.Filename == "" {
			return nil, errors.New("repo, release and filename are required")
		}
		return map[string]string{"url": reference.Build(r.Repo, r.Release, r.Filename)}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(tool.Name, endpoint), decodeInto[buildReq]())
}

// --- test_file ---

type testFileReq struct {
	URL string `json:"url"`
}

// TestFileResp mirrors a terminal validation state.
type TestFileResp struct {
	URL       string `json:"url"`
	Status    string `json:"status"`
	Size      int64  `json:"size,omitempty"`
	HumanSize string `json:"human_size,omitempty"`
	Exists    bool   `json:"exists,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
}

func (t *Tools) registerTestFile(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "release_deploy_test_file",
		Description: "Ask the backend whether a referenced release asset exists and how large it is.",
		InputSchema: kit.InputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "edd-release-deploy:// reference"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*testFileReq)
		if !reference.HasScheme(r.URL) {
			return nil, errors.New("url is not an edd-release-deploy:// reference")
		}
		info, err := t.backend.TestFile(ctx, r.URL)
		if err != nil {
			if ajax.IsCanceled(err) {
				return nil, err
			}
			e := validation.Describe(err, t.fallback)
			return TestFileResp{URL: r.URL, Status: string(validation.StatusError), Message: e.Message, Code: e.Code}, nil
		}
		return TestFileResp{
			URL:       r.URL,
			Status:    string(validation.StatusReady),
			Size:      info.Size,
			HumanSize: validation.FormatSize(info.Size),
			Exists:    info.Exists,
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(tool.Name, endpoint), decodeInto[testFileReq]())
}

// --- rate_limit ---

func (t *Tools) registerRateLimit(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "release_deploy_rate_limit",
		Description: "Report the GitHub API quota seen by the backend.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		rl := t.backend.RateLimit(ctx)
		if rl == nil {
			return map[string]any{"available": false}, nil
		}
		return map[string]any{
			"available":  true,
			"rate_limit": rl,
			"reset_at":   rl.ResetAt().UTC(),
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(tool.Name, endpoint), decodeInto[struct{}]())
}

// --- releases ---

type releasesReq struct {
	Repo string `json:"repo"`
}

func (t *Tools) registerReleases(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "release_deploy_releases",
		Description: "List the releases and assets of a repository, with ready-made references.",
		InputSchema: kit.InputSchema(map[string]any{
			"repo": map[string]any{"type": "string", "description": "Repository as owner/repo"},
		}, []string{"repo"}),
	}

	type asset struct {
		Name string `json:"name"`
		Size string `json:"size"`
		URL  string `json:"url"`
	}
	type release struct {
		Tag    string  `json:"tag"`
		Name   string  `json:"name,omitempty"`
		Assets []asset `json:"assets"`
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*releasesReq)
		rels, err := t.backend.Releases(ctx, r.Repo)
		if err != nil {
			return nil, err
		}
		out := make([]release, 0, len(rels))
		for _, rel := range rels {
			item := release{Tag: rel.TagName, Name: rel.Name, Assets: []asset{}}
			for _, a := range rel.Assets {
				item.Assets = append(item.Assets, asset{
					Name: a.Name,
					Size: validation.FormatSize(a.Size),
					URL:  reference.Build(r.Repo, rel.TagName, a.Name),
				})
			}
			out = append(out, item)
		}
		return map[string]any{"repo": r.Repo, "releases": out}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(tool.Name, endpoint), decodeInto[releasesReq]())
}
