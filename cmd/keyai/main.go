package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/keyai/internal/config"
	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/logging"
	"github.com/hpungsan/keyai/internal/mcp"
	"github.com/hpungsan/keyai/internal/pipeline"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"run": true, "search": true, "suggest": true,
	"status": true, "stats": true, "health": true, "metrics": true,
	"config": true, "optimize": true, "clear": true,
	"export": true, "import": true, "backup": true, "replay": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// dataDir resolves the per-user data directory.
func dataDir() (string, error) {
	if v := os.Getenv("KEYAI_DATA_DIR"); v != "" {
		return v, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".keyai"), nil
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   _                     _
  | |_____ _  _ __ _(_)
  | / / -_) || / _' | |
  |_\_\___|\_, \__,_|_|
           |__/

  Private keystroke memory with redaction and hybrid search

  Usage: keyai <command> [options]
         keyai --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before opening the store
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	baseDir, err := dataDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(5)
	}

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(keyerrors.ExitCode(err))
	}
	logging.Init(cfg.LogLevel, ulid.Make().String())

	p, err := pipeline.New(baseDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open pipeline: %v\n", err)
		os.Exit(keyerrors.ExitCode(err))
	}
	closePipeline := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := p.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "error: shutdown: %v\n", err)
		}
	}

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(p)
		err := app.Run(os.Args)
		closePipeline()
		if err != nil {
			os.Exit(exitCodeFor(err))
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		closePipeline()
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'keyai --help' for usage.\n")
		os.Exit(2)
	}

	// MCP server mode (default)
	err = mcp.Run(p, Version)
	closePipeline()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(5)
	}
}
