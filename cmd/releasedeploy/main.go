// CLAUDE:SUMMARY CLI entry point for releasedeploy: reference tools, backend queries, live metabox watch, fixture stub and MCP server.
// Command releasedeploy works with edd-release-deploy:// file references.
//
// Usage:
//
//	releasedeploy parse edd-release-deploy://acme/plugin/v1.2.0/plugin.zip
//	releasedeploy build acme/plugin v1.2.0 plugin.zip
//	releasedeploy -config rd.yaml test edd-release-deploy://acme/plugin/latest/plugin.zip
//	releasedeploy -config rd.yaml quota | repos | releases acme/plugin | token ghp_x | clear-cache
//	releasedeploy -config rd.yaml watch [-url https://shop/wp-admin/post.php?post=42&action=edit]
//	releasedeploy -config rd.yaml history [-url ref] [-limit 20]
//	releasedeploy -config rd.yaml stub
//	releasedeploy -config rd.yaml mcp
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/releasedeploy/config"
)

const usage = `usage: releasedeploy [-config file] [-log-level level] <command> [args]

commands:
  parse <value>                       parse a file reference
  build <owner/repo> <release> <file> build a file reference
  test <reference>                    validate a reference against the backend
  token <token>                       check a GitHub token
  quota                               show the GitHub API quota
  repos [query]                       list repositories, fuzzy-filtered
  releases <owner/repo>               list releases with references
  clear-cache                         drop the backend cache
  watch [-url page]                   watch the file rows of a download edit page
  history [-url ref] [-limit n]       show recorded validations
  stub                                serve the fixture backend
  mcp                                 serve MCP tools on stdio
`

func main() {
	configPath := flag.String("config", "", "path to releasedeploy.yaml")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("releasedeploy: fatal", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, cmd string, args []string) error {
	switch cmd {
	case "parse":
		return runParse(args)
	case "build":
		return runBuild(args)
	case "test", "token", "quota", "repos", "releases", "clear-cache":
		return runBackend(ctx, logger, cfg, cmd, args)
	case "watch":
		return runWatch(ctx, logger, cfg, args)
	case "history":
		return runHistory(ctx, logger, cfg, args)
	case "stub":
		return runStub(ctx, logger, cfg)
	case "mcp":
		return runMCP(ctx, logger, cfg)
	}
	flag.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
