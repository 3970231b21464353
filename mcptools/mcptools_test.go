package mcptools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/releasedeploy/ajax"
	"github.com/hazyhaar/releasedeploy/ajaxstub"
)

var testMCPImpl = &mcp.Implementation{Name: "releasedeploy-test", Version: "0.1.0"}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func stubBackend(t *testing.T) *ajax.Client {
	t.Helper()
	fx := ajaxstub.DefaultFixtures()
	srv := httptest.NewServer(ajaxstub.New(fx, ajaxstub.Options{Logger: quiet()}).Handler())
	t.Cleanup(srv.Close)
	c, err := ajax.New(ajax.Config{Endpoint: srv.URL + ajaxstub.AjaxPath, Nonce: fx.Nonce, Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func mcpSession(t *testing.T, cfg Config) *mcp.ClientSession {
	t.Helper()
	cfg.Logger = quiet()
	srv := mcp.NewServer(testMCPImpl, nil)
	New(cfg).Register(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

// callFails reports whether the call was rejected, either by argument
// validation or by the tool itself.
func callFails(t *testing.T, session *mcp.ClientSession, name string, args any) bool {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	return err != nil || result.IsError
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result := callTool(t, session, name, args)
	if result.IsError {
		t.Fatalf("CallTool(%s) tool error: %v", name, result.Content)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_OfflineToolsOnly(t *testing.T) {
	session := mcpSession(t, Config{})

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	if !names["release_deploy_parse"] || !names["release_deploy_build"] {
		t.Errorf("offline tools missing: %v", names)
	}
	if names["release_deploy_test_file"] {
		t.Error("test_file registered without a backend")
	}
}

func TestMCP_Parse(t *testing.T) {
	session := mcpSession(t, Config{})

	var resp ParseResp
	text := callText(t, session, "release_deploy_parse", map[string]any{"value": "edd-release-deploy://acme/plugin/latest/plugin.zip"})
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Valid || !resp.Latest || resp.Ref == nil || resp.Ref.Repo != "plugin" {
		t.Errorf("resp = %+v", resp)
	}

	resp = ParseResp{}
	text = callText(t, session, "release_deploy_parse", map[string]any{"value": "edd-release-deploy://acme//v1/plugin.zip"})
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Valid || !resp.HasScheme || resp.Ref != nil {
		t.Errorf("malformed reference: %+v", resp)
	}
}

func TestMCP_Build(t *testing.T) {
	session := mcpSession(t, Config{})

	text := callText(t, session, "release_deploy_build", map[string]any{"repo": "acme/plugin", "release": "v1.0.0", "filename": "plugin.zip"})
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.URL != "edd-release-deploy://acme/plugin/v1.0.0/plugin.zip" {
		t.Errorf("url = %q", resp.URL)
	}

	if !callFails(t, session, "release_deploy_build", map[string]any{"repo": "acme/plugin"}) {
		t.Error("missing fields accepted")
	}
}

func TestMCP_TestFile(t *testing.T) {
	session := mcpSession(t, Config{Backend: stubBackend(t)})

	cases := []struct {
		url    string
		status string
		size   string
		msg    string
		code   string
	}{
		{"edd-release-deploy://acme/plugin/v1.2.0/plugin.zip", "ready", "1.5 MB", "", ""},
		{"edd-release-deploy://acme/plugin/v9.9.9/plugin.zip", "error", "", "Release not found", "release_not_found"},
		{"edd-release-deploy://acme/missing/v1.2.0/plugin.zip", "error", "", "Repository not found", "repo_not_found"},
	}
	for _, tc := range cases {
		text := callText(t, session, "release_deploy_test_file", map[string]any{"url": tc.url})
		var resp TestFileResp
		if err := json.Unmarshal([]byte(text), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Status != tc.status || resp.HumanSize != tc.size || resp.Message != tc.msg || resp.Code != tc.code {
			t.Errorf("%s: got %+v", tc.url, resp)
		}
	}

	if !callFails(t, session, "release_deploy_test_file", map[string]any{"url": "https://cdn.example.com/a.zip"}) {
		t.Error("non-reference url accepted")
	}
}

func TestMCP_TestFileTransportFailure(t *testing.T) {
	srv := httptest.NewServer(nil)
	endpoint := srv.URL + ajaxstub.AjaxPath
	srv.Close()
	c, err := ajax.New(ajax.Config{Endpoint: endpoint, Nonce: "n", Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	session := mcpSession(t, Config{Backend: c, FallbackMessage: "Backend unreachable"})

	text := callText(t, session, "release_deploy_test_file", map[string]any{"url": "edd-release-deploy://acme/plugin/v1.2.0/plugin.zip"})
	var resp TestFileResp
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "error" || resp.Message != "Backend unreachable" || resp.Code != "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestMCP_RateLimit(t *testing.T) {
	session := mcpSession(t, Config{Backend: stubBackend(t)})

	text := callText(t, session, "release_deploy_rate_limit", map[string]any{})
	var resp struct {
		Available bool           `json:"available"`
		RateLimit ajax.RateLimit `json:"rate_limit"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Available || resp.RateLimit.Remaining != 4988 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestMCP_Releases(t *testing.T) {
	session := mcpSession(t, Config{Backend: stubBackend(t)})

	text := callText(t, session, "release_deploy_releases", map[string]any{"repo": "acme/plugin"})
	if !strings.Contains(text, `"url":"edd-release-deploy://acme/plugin/v1.1.0/plugin.zip"`) {
		t.Errorf("missing v1.1.0 reference: %s", text)
	}
	if !strings.Contains(text, `"size":"1.0 MB"`) {
		t.Errorf("missing human size: %s", text)
	}

	if !callFails(t, session, "release_deploy_releases", map[string]any{"repo": "nobody/nothing"}) {
		t.Error("unknown repo did not fail")
	}
}
