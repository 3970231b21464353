package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/hazyhaar/releasedeploy/ajax"
	"github.com/hazyhaar/releasedeploy/config"
	"github.com/hazyhaar/releasedeploy/reference"
	"github.com/hazyhaar/releasedeploy/validation"
)

func runParse(args []string) error {
	if len(args) != 1 {
		return errors.New("parse: expected one value")
	}
	ref, ok := reference.Parse(args[0])
	if !ok {
		return fmt.Errorf("parse: %q is not a valid reference", args[0])
	}
	return printJSON(ref)
}

func runBuild(args []string) error {
	if len(args) != 3 {
		return errors.New("build: expected <owner/repo> <release> <file>")
	}
	url := reference.Build(args[0], args[1], args[2])
	if _, ok := reference.Parse(url); !ok {
		return fmt.Errorf("build: %q is not a valid reference", url)
	}
	fmt.Println(url)
	return nil
}

func newClient(cfg *config.Config, logger *slog.Logger) (*ajax.Client, error) {
	if err := cfg.RequireBackend(); err != nil {
		return nil, err
	}
	ac := cfg.AjaxConfig()
	ac.Logger = logger
	return ajax.New(ac)
}

func runBackend(ctx context.Context, logger *slog.Logger, cfg *config.Config, cmd string, args []string) error {
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	switch cmd {
	case "test":
		if len(args) != 1 || !reference.HasScheme(args[0]) {
			return errors.New("test: expected one edd-release-deploy:// reference")
		}
		return runTest(ctx, logger, client, cfg, args[0])

	case "token":
		if len(args) != 1 {
			return errors.New("token: expected one token")
		}
		ok, err := client.TestConnection(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]bool{"valid": ok})

	case "quota":
		rl := client.RateLimit(ctx)
		if rl == nil {
			return errors.New("quota: rate limit unavailable")
		}
		return printJSON(map[string]any{"rate_limit": rl, "reset_at": rl.ResetAt().UTC()})

	case "repos":
		repos, err := client.Repos(ctx)
		if err != nil {
			return err
		}
		if len(args) > 0 {
			repos = matchRepos(repos, args[0])
		}
		return printJSON(repos)

	case "releases":
		if len(args) != 1 {
			return errors.New("releases: expected <owner/repo>")
		}
		rels, err := client.Releases(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(rels)

	case "clear-cache":
		return client.ClearCache(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// matchRepos keeps the repositories whose full name fuzzily matches query,
// closest first.
func matchRepos(repos []ajax.Repo, query string) []ajax.Repo {
	names := make([]string, len(repos))
	for i, r := range repos {
		names[i] = r.FullName
	}
	ranks := fuzzy.RankFindFold(query, names)
	sort.SliceStable(ranks, func(i, j int) bool {
		if ranks[i].Distance != ranks[j].Distance {
			return ranks[i].Distance < ranks[j].Distance
		}
		return ranks[i].OriginalIndex < ranks[j].OriginalIndex
	})
	out := make([]ajax.Repo, 0, len(ranks))
	for _, rk := range ranks {
		out = append(out, repos[rk.OriginalIndex])
	}
	return out
}

// runTest validates one reference through a coordinator and prints its
// terminal state.
func runTest(ctx context.Context, logger *slog.Logger, client *ajax.Client, cfg *config.Config, url string) error {
	coord := validation.New(client,
		validation.WithLogger(logger),
		validation.WithFallbackMessage(cfg.FallbackMessage),
	)
	defer coord.Close()

	select {
	case <-coord.Test(url):
	case <-ctx.Done():
		return ctx.Err()
	}
	st := coord.State()
	if err := printJSON(st); err != nil {
		return err
	}
	if st.Status == validation.StatusError {
		return fmt.Errorf("test: %s", st.Err.Message)
	}
	return nil
}
