// Package ajax is the client for the plugin's admin-ajax dispatch endpoint.
//
// Every call is one form-encoded POST carrying an action name and the page
// nonce. The backend answers with a {"success": bool, "data": ...} envelope.
package ajax

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"

	"github.com/hazyhaar/releasedeploy/horosafe"
	"github.com/hazyhaar/releasedeploy/reference"
)

// maxResponseBody caps the amount of response data read from the backend
// (10 MiB).
const maxResponseBody int64 = 10 << 20

// maxSummaryLen bounds TransportError.Summary.
const maxSummaryLen = 200

// Config configures a Client. Endpoint and Nonce come from the page's
// injected configuration.
type Config struct {
	// Endpoint is the admin-ajax URL.
	Endpoint string
	// Nonce is the opaque token sent with every request.
	Nonce string
	// Timeout bounds each request. Default: 30s. Ignored when HTTPClient is set.
	Timeout time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
	// Actions overrides backend action names.
	Actions Actions
	Logger  *slog.Logger
}

// Client talks to the admin-ajax endpoint. It is safe for concurrent use.
type Client struct {
	endpoint string
	nonce    string
	http     *http.Client
	actions  Actions
	logger   *slog.Logger
	md       *converter.Converter
}

// FileInfo is the test_file answer for an existing asset.
type FileInfo struct {
	Size   int64 `json:"size"`
	Exists bool  `json:"exists"`
}

// RateLimit is the GitHub API quota reported by the backend.
type RateLimit struct {
	Limit     int64 `json:"limit"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// ResetAt returns the quota reset time.
func (r RateLimit) ResetAt() time.Time {
	return time.Unix(r.Reset, 0)
}

// Repo is a repository visible to the configured token.
type Repo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
	Private bool `json:"private"`
}

// Release is a tagged release and its assets.
type Release struct {
	ID          int64   `json:"id"`
	TagName     string  `json:"tag_name"`
	Name        string  `json:"name"`
	PublishedAt string  `json:"published_at"`
	Assets      []Asset `json:"assets"`
}

// Asset is one downloadable file of a release.
type Asset struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type failure struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if err := horosafe.ValidateEndpoint(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("ajax: endpoint: %w", err)
	}
	if cfg.Nonce == "" {
		return nil, errors.New("ajax: nonce is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint: cfg.Endpoint,
		nonce:    cfg.Nonce,
		http:     hc,
		actions:  cfg.Actions.WithDefaults(),
		logger:   cfg.Logger,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}, nil
}

// Endpoint returns the configured admin-ajax URL.
func (c *Client) Endpoint() string { return c.endpoint }

// TestFile asks the backend whether the referenced asset exists and how
// large it is.
func (c *Client) TestFile(ctx context.Context, fileURL string) (FileInfo, error) {
	env, err := c.post(ctx, c.actions.TestFile, url.Values{"file_url": {fileURL}})
	if err != nil {
		return FileInfo{}, err
	}
	if !env.Success {
		return FileInfo{}, remoteError(c.actions.TestFile, env.Data, "Test failed")
	}
	var info FileInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		return FileInfo{}, &TransportError{Action: c.actions.TestFile, Cause: fmt.Errorf("decode data: %w", err)}
	}
	return info, nil
}

// TestRef is TestFile for an already parsed reference.
func (c *Client) TestRef(ctx context.Context, ref reference.Ref) (FileInfo, error) {
	return c.TestFile(ctx, ref.String())
}

// TestConnection checks a candidate GitHub token. A backend-reported failure
// is false with a nil error; only transport failures return an error.
func (c *Client) TestConnection(ctx context.Context, token string) (bool, error) {
	env, err := c.post(ctx, c.actions.TestConnection, url.Values{"token": {token}})
	if err != nil {
		return false, err
	}
	return env.Success, nil
}

// RateLimit returns the current API quota, or nil on any failure. Quota
// display is best-effort and never surfaces an error.
func (c *Client) RateLimit(ctx context.Context) *RateLimit {
	env, err := c.post(ctx, c.actions.GetRateLimit, nil)
	if err != nil {
		c.logger.Debug("ajax: rate limit unavailable", "error", err)
		return nil
	}
	if !env.Success {
		return nil
	}
	var data struct {
		RateLimit *RateLimit `json:"rate_limit"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil
	}
	return data.RateLimit
}

// Repos lists repositories visible to the configured token.
func (c *Client) Repos(ctx context.Context) ([]Repo, error) {
	var repos []Repo
	if err := c.call(ctx, c.actions.GetRepos, nil, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// Releases lists the releases of repoPath ("owner/repo").
func (c *Client) Releases(ctx context.Context, repoPath string) ([]Release, error) {
	owner, repo, ok := strings.Cut(repoPath, "/")
	if !ok {
		return nil, fmt.Errorf("ajax: releases: repo must be owner/repo, got %q", repoPath)
	}
	for _, seg := range []string{owner, repo} {
		if err := horosafe.ValidateIdentifier(seg); err != nil {
			return nil, fmt.Errorf("ajax: releases: %w", err)
		}
	}
	var releases []Release
	if err := c.call(ctx, c.actions.GetReleases, url.Values{"repo": {repoPath}}, &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// ClearCache drops the backend's cached GitHub responses.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.call(ctx, c.actions.ClearCache, nil, nil)
}

// call posts action and decodes a successful envelope's data into out.
func (c *Client) call(ctx context.Context, action string, fields url.Values, out any) error {
	env, err := c.post(ctx, action, fields)
	if err != nil {
		return err
	}
	if !env.Success {
		return remoteError(action, env.Data, "Request failed")
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &TransportError{Action: action, Cause: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// post performs the single round trip shared by every call: action + nonce +
// fields, form-encoded.
func (c *Client) post(ctx context.Context, action string, fields url.Values) (*envelope, error) {
	form := url.Values{}
	form.Set("action", action)
	form.Set("nonce", c.nonce)
	for k, vs := range fields {
		for _, v := range vs {
			form.Add(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{Action: action, Cause: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, context.Canceled)
		}
		return nil, &TransportError{Action: action, Cause: err}
	}
	defer resp.Body.Close()

	body, err := horosafe.LimitedReadAll(resp.Body, maxResponseBody)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, context.Canceled)
		}
		return nil, &TransportError{Action: action, Status: resp.StatusCode, Cause: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Action:  action,
			Status:  resp.StatusCode,
			Summary: c.summarize(body, resp.Header.Get("Content-Type")),
		}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.logger.Warn("ajax: malformed response",
			"action", action, "status", resp.StatusCode,
			"body", c.summarize(body, resp.Header.Get("Content-Type")))
		return nil, &TransportError{
			Action:  action,
			Status:  resp.StatusCode,
			Summary: c.summarize(body, resp.Header.Get("Content-Type")),
			Cause:   fmt.Errorf("decode envelope: %w", err),
		}
	}
	return &env, nil
}

// summarize renders a response body as short plain text. WordPress error
// pages are HTML; they are converted to markdown before truncation.
func (c *Client) summarize(body []byte, contentType string) string {
	text := strings.TrimSpace(string(body))
	if strings.Contains(contentType, "html") || strings.HasPrefix(text, "<") {
		if md, err := c.md.ConvertString(text); err == nil && strings.TrimSpace(md) != "" {
			text = strings.TrimSpace(md)
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxSummaryLen {
		text = text[:maxSummaryLen] + "..."
	}
	return text
}

// remoteError builds a RemoteError from a failure envelope's data, which is
// either {"message", "code"} or a bare string.
func remoteError(action string, data json.RawMessage, fallback string) *RemoteError {
	e := &RemoteError{Action: action, Message: fallback}
	if len(data) == 0 {
		return e
	}
	var f failure
	if err := json.Unmarshal(data, &f); err == nil {
		if f.Message != "" {
			e.Message = f.Message
		}
		e.Code = f.Code
		return e
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s != "" {
		e.Message = s
	}
	return e
}
