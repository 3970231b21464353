package ajaxstub

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/releasedeploy/ajax"
)

// Fixtures is the canned state served by the stub.
type Fixtures struct {
	Nonce string `yaml:"nonce"`
	// Token is the only token test_connection accepts.
	Token string `yaml:"token"`
	// LatestRelease enables the "latest" release keyword; without it such
	// references fail with code pro_feature.
	LatestRelease bool           `yaml:"latest_release"`
	RateLimit     ajax.RateLimit `yaml:"rate_limit"`
	Repos         []RepoFixture  `yaml:"repos"`
	// Rows are the initial file values of the demo edit page.
	Rows []string `yaml:"rows"`
}

// RepoFixture is one repository and its releases, newest first.
type RepoFixture struct {
	ID       int64            `yaml:"id"`
	Owner    string           `yaml:"owner"`
	Name     string           `yaml:"name"`
	Private  bool             `yaml:"private"`
	Releases []ReleaseFixture `yaml:"releases"`
}

// ReleaseFixture is one release.
type ReleaseFixture struct {
	ID          int64          `yaml:"id"`
	Tag         string         `yaml:"tag"`
	Name        string         `yaml:"name"`
	PublishedAt string         `yaml:"published_at"`
	Assets      []AssetFixture `yaml:"assets"`
}

// AssetFixture is one release asset.
type AssetFixture struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	Size        int64  `yaml:"size"`
	ContentType string `yaml:"content_type"`
}

// LoadFixtures reads fixtures from a YAML file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ajaxstub: read fixtures: %w", err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ajaxstub: parse fixtures: %w", err)
	}
	if f.Nonce == "" {
		return nil, fmt.Errorf("ajaxstub: fixtures need a nonce")
	}
	return &f, nil
}

// DefaultFixtures returns a small data set: one public repository with two
// releases, and a demo page with a reference row and a plain URL row.
func DefaultFixtures() *Fixtures {
	return &Fixtures{
		Nonce:         "stub-nonce",
		Token:         "ghp_stubtoken",
		LatestRelease: true,
		RateLimit:     ajax.RateLimit{Limit: 5000, Used: 12, Remaining: 4988, Reset: 1767225600},
		Repos: []RepoFixture{{
			ID: 1, Owner: "acme", Name: "plugin",
			Releases: []ReleaseFixture{
				{ID: 12, Tag: "v1.2.0", Name: "1.2.0", PublishedAt: "2026-09-01T10:00:00Z",
					Assets: []AssetFixture{{ID: 120, Name: "plugin.zip", Size: 1572864, ContentType: "application/zip"}}},
				{ID: 11, Tag: "v1.1.0", Name: "1.1.0", PublishedAt: "2026-06-01T10:00:00Z",
					Assets: []AssetFixture{{ID: 110, Name: "plugin.zip", Size: 1048576, ContentType: "application/zip"}}},
			},
		}},
		Rows: []string{
			"edd-release-deploy://acme/plugin/v1.2.0/plugin.zip",
			"https://cdn.example.com/manual.pdf",
		},
	}
}

func (f *Fixtures) repo(owner, name string) *RepoFixture {
	for i := range f.Repos {
		if f.Repos[i].Owner == owner && f.Repos[i].Name == name {
			return &f.Repos[i]
		}
	}
	return nil
}

func (r *RepoFixture) release(tag string) *ReleaseFixture {
	for i := range r.Releases {
		if r.Releases[i].Tag == tag {
			return &r.Releases[i]
		}
	}
	return nil
}

func (r *ReleaseFixture) asset(name string) *AssetFixture {
	for i := range r.Assets {
		if r.Assets[i].Name == name {
			return &r.Assets[i]
		}
	}
	return nil
}
