package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/keyai/internal/config"
	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/ops"
	"github.com/hpungsan/keyai/internal/pipeline"
	"github.com/hpungsan/keyai/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(p *pipeline.Pipeline) *cli.App {
	app := &cli.App{
		Name:    "keyai",
		Usage:   "Private keystroke memory with redaction and hybrid search",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(p),
			searchCmd(p),
			suggestCmd(p),
			statusCmd(p),
			statsCmd(p),
			healthCmd(p),
			metricsCmd(p),
			configCmd(p),
			optimizeCmd(p),
			clearCmd(p),
			exportCmd(p),
			importCmd(p),
			backupCmd(p),
			replayCmd(p),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// runCmd starts capture and blocks until interrupted.
func runCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Capture keystrokes until interrupted; serves the status page while running",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-web", Usage: "Do not start the status server"},
		},
		Action: func(c *cli.Context) error {
			if _, err := ops.StartCapture(c.Context, p); err != nil {
				return outputError(err)
			}

			addr := p.Config().WebAddr
			if addr != "" && !c.Bool("no-web") {
				// web.Run blocks until SIGINT/SIGTERM.
				if err := web.Run(web.NewServer(p, Version, addr)); err != nil {
					return outputError(keyerrors.NewInternal(err))
				}
			} else {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh
			}

			out, err := ops.StopCapture(c.Context, p, ops.StopCaptureInput{})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// searchCmd runs a one-shot query against the store.
func searchCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search captured events",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "text", Usage: "Search mode: text|semantic|hybrid"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum results"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Results to skip (text mode only)"},
			&cli.Int64Flag{Name: "from", Usage: "Only events with ts >= from (epoch ms)"},
			&cli.Int64Flag{Name: "to", Usage: "Only events with ts <= to (epoch ms)"},
			&cli.StringSliceFlag{Name: "app", Usage: "Only events from this application (repeatable)"},
			&cli.StringSliceFlag{Name: "exclude-app", Usage: "Drop events from this application (repeatable)"},
			&cli.StringFlag{Name: "kind", Usage: "Restrict to event kind: text|key"},
			&cli.Float64Flag{Name: "threshold", Usage: "Minimum similarity (semantic mode)"},
			&cli.Float64Flag{Name: "text-weight", Usage: "Lexical weight (hybrid mode)"},
			&cli.Float64Flag{Name: "semantic-weight", Usage: "Semantic weight (hybrid mode)"},
		},
		Action: func(c *cli.Context) error {
			query := c.Args().First()
			filter := ops.FilterInput{
				Applications:        c.StringSlice("app"),
				ExcludeApplications: c.StringSlice("exclude-app"),
				Kind:                c.String("kind"),
			}
			if c.IsSet("from") {
				v := c.Int64("from")
				filter.From = &v
			}
			if c.IsSet("to") {
				v := c.Int64("to")
				filter.To = &v
			}

			var out any
			var err error
			switch mode := c.String("mode"); mode {
			case "text":
				out, err = ops.SearchText(c.Context, p, ops.SearchTextInput{
					Query:       query,
					Limit:       c.Int("limit"),
					Offset:      c.Int("offset"),
					FilterInput: filter,
				})
			case "semantic":
				input := ops.SearchSemanticInput{
					Query:       query,
					Limit:       c.Int("limit"),
					FilterInput: filter,
				}
				if c.IsSet("threshold") {
					v := c.Float64("threshold")
					input.Threshold = &v
				}
				out, err = ops.SearchSemantic(c.Context, p, input)
			case "hybrid":
				input := ops.SearchHybridInput{
					Query:       query,
					Limit:       c.Int("limit"),
					FilterInput: filter,
				}
				if c.IsSet("text-weight") {
					v := c.Float64("text-weight")
					input.TextWeight = &v
				}
				if c.IsSet("semantic-weight") {
					v := c.Float64("semantic-weight")
					input.SemanticWeight = &v
				}
				out, err = ops.SearchHybrid(c.Context, p, input)
			default:
				return outputError(keyerrors.NewInvalidQuery("unknown search mode: " + mode))
			}
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// suggestCmd lists remembered queries.
func suggestCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:      "suggest",
		Usage:     "List remembered queries matching a prefix",
		ArgsUsage: "[prefix]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum suggestions"},
		},
		Action: func(c *cli.Context) error {
			return outputJSON(ops.Suggestions(p, ops.SuggestionsInput{
				Prefix: c.Args().First(),
				Limit:  c.Int("limit"),
			}))
		},
	}
}

// statusCmd reports the capture state.
func statusCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Report the capture state and counters",
		Action: func(c *cli.Context) error {
			return outputJSON(ops.CaptureStatus(p))
		},
	}
}

// statsCmd reports store statistics.
func statsCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Report database size, row counts, and backlog state",
		Action: func(c *cli.Context) error {
			out, err := ops.Stats(c.Context, p)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// healthCmd reports aggregate health; exits nonzero when unhealthy.
func healthCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Report aggregate health with per-check detail",
		Action: func(c *cli.Context) error {
			h := ops.Health(c.Context, p)
			if err := outputJSON(h); err != nil {
				return err
			}
			if h.Status == pipeline.StatusUnhealthy {
				return cli.Exit("", 5)
			}
			return nil
		},
	}
}

// metricsCmd dumps the counter snapshot.
func metricsCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "metrics",
		Usage: "Dump pipeline counters and redaction pattern status",
		Action: func(c *cli.Context) error {
			return outputJSON(ops.GetMetrics(p))
		},
	}
}

// configCmd shows or updates the active configuration.
func configCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show or update the configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the active configuration (key redacted)",
				Action: func(c *cli.Context) error {
					return outputJSON(ops.GetConfig(p))
				},
			},
			{
				Name:  "set",
				Usage: "Overlay a JSON config fragment read from stdin",
				Action: func(c *cli.Context) error {
					if !stdinHasData() {
						return outputError(keyerrors.NewInvalidQuery("config fragment must be piped via stdin"))
					}
					data, err := readStdin()
					if err != nil {
						return outputError(keyerrors.NewInternal(err))
					}
					var overlay config.Patch
					if err := json.Unmarshal(data, &overlay); err != nil {
						return outputError(keyerrors.NewConfigInvalid("stdin", err.Error()))
					}
					out, err := ops.UpdateConfig(p, ops.UpdateConfigInput{Config: overlay})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
		},
	}
}

// optimizeCmd consolidates the indices.
func optimizeCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "optimize",
		Usage: "Consolidate the search index, compact the database, backfill embeddings",
		Action: func(c *cli.Context) error {
			out, err := ops.Optimize(c.Context, p)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// clearCmd wipes the store.
func clearCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Delete every captured event (requires --confirm)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "confirm", Usage: "Acknowledge that all captured data will be deleted"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.Clear(c.Context, p, ops.ClearInput{Confirm: c.Bool("confirm")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// exportCmd writes events to a JSONL file.
func exportCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export events to a JSONL file in the exports directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Destination .jsonl or .jsonl.gz (default: timestamped)"},
			&cli.Int64Flag{Name: "from", Usage: "Only events with ts >= from (epoch ms)"},
			&cli.Int64Flag{Name: "to", Usage: "Only events with ts <= to (epoch ms)"},
			&cli.BoolFlag{Name: "embeddings", Usage: "Include each event's embedding"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ExportInput{
				Path:              c.String("path"),
				IncludeEmbeddings: c.Bool("embeddings"),
			}
			if c.IsSet("from") {
				v := c.Int64("from")
				input.From = &v
			}
			if c.IsSet("to") {
				v := c.Int64("to")
				input.To = &v
			}
			out, err := ops.Export(c.Context, p, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// importCmd loads an export file.
func importCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import events from an export file (ids preserved, content re-masked)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Source .jsonl or .jsonl.gz"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.Import(c.Context, p, ops.ImportInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// backupCmd writes an encrypted database copy.
func backupCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Write a compacted, encrypted copy of the database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Destination .db (default: timestamped, must not exist)"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.Backup(c.Context, p, ops.BackupInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// replayCmd pushes dead-lettered batches back through the store.
func replayCmd(p *pipeline.Pipeline) *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Replay dead-lettered batches into the store, oldest first",
		Action: func(c *cli.Context) error {
			out, err := ops.ReplayDeadLetter(c.Context, p)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI with the documented exit codes.
func outputError(err error) error {
	if keyErr, ok := err.(*keyerrors.KeyError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", keyErr.Code, keyErr.Message), keyerrors.ExitCode(err))
	}
	return cli.Exit(err.Error(), keyerrors.ExitCode(err))
}

// exitCodeFor extracts the exit code from an error returned by app.Run.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var coder cli.ExitCoder
	if stderrors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 5
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() ([]byte, error) {
	return io.ReadAll(os.Stdin)
}
