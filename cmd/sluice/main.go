// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/poiesic/sluice"
	"github.com/poiesic/sluice/config"
	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/ingestion"
	"github.com/poiesic/sluice/orchestrator"
	"github.com/poiesic/sluice/splitter"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sluice",
		Usage: "Resumable, memory-bounded ingestion of text files into a vector store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file (defaults apply when missing)",
				Value:   "sluice.yaml",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Discover, enqueue and process pending files up to the iteration cap",
				Action: runCommand,
				Flags: append(pipelineFlags(),
					&cli.IntFlag{
						Name:    "iteration-cap",
						Aliases: []string{"n"},
						Usage:   "Maximum number of files to process in this run",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Process until no file is pending",
					},
				),
			},
			{
				Name:   "enqueue",
				Usage:  "Discover eligible files and add new ones to the queue",
				Action: enqueueCommand,
				Flags:  pipelineFlags(),
			},
			{
				Name:   "status",
				Usage:  "Show queue counts, failed paths and the collection size",
				Action: statusCommand,
				Flags:  pipelineFlags(),
			},
			{
				Name:      "retry-failed",
				Usage:     "Move failed paths back to pending (all of them when none are given)",
				ArgsUsage: "[path...]",
				Action:    retryFailedCommand,
				Flags:     pipelineFlags(),
			},
			{
				Name:      "verify",
				Usage:     "Check that every chunk of every completed path is in the store",
				ArgsUsage: "[path...]",
				Action:    verifyCommand,
				Flags: append(pipelineFlags(),
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of paths checked in parallel",
					},
				),
			},
			{
				Name:      "forget",
				Usage:     "Delete the stored chunks of a path and return it to pending",
				ArgsUsage: "<path>",
				Action:    forgetCommand,
				Flags:     pipelineFlags(),
			},
			{
				Name:      "split",
				Usage:     "Split a file into segment files on natural boundaries",
				ArgsUsage: "<file>",
				Action:    splitCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Aliases:  []string{"o"},
						Usage:    "Directory to write segments to",
						Required: true,
					},
					&cli.Int64Flag{
						Name:  "target",
						Usage: "Target segment size in bytes (default: half the file, at least --min)",
					},
					&cli.Int64Flag{
						Name:  "min",
						Usage: "Minimum target segment size in bytes",
						Value: config.Default().Ingest.MinSegmentBytes,
					},
				},
			},
		},
	}
}

// pipelineFlags override the configuration file for commands that open the pipeline.
func pipelineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "root",
			Usage: "Discovery root directory",
		},
		&cli.StringFlag{
			Name:  "state-dir",
			Usage: "Directory holding the queue and checkpoint files",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Vector store backend (qdrant, pgvector, badger)",
		},
		&cli.StringFlag{
			Name:  "collection",
			Usage: "Vector store collection",
		},
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
		},
	}
}

// loadConfig reads the configuration file and applies command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("root") {
		cfg.Ingest.Root = c.String("root")
	}
	if c.IsSet("state-dir") {
		cfg.Queue.StateDir = c.String("state-dir")
	}
	if c.IsSet("backend") {
		cfg.Store.Backend = c.String("backend")
	}
	if c.IsSet("collection") {
		cfg.Store.Collection = c.String("collection")
	}
	if c.IsSet("embedding-host") {
		cfg.Embedding.BaseURL = c.String("embedding-host")
	}
	if c.IsSet("embedding-model") {
		cfg.Embedding.Model = c.String("embedding-model")
	}
	if c.IsSet("iteration-cap") {
		cfg.Run.IterationCap = c.Int("iteration-cap")
	}
	if c.Bool("all") {
		cfg.Run.IterationCap = 0
	}
	if c.IsSet("workers") {
		cfg.Run.VerifyWorkers = c.Int("workers")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPipeline(c *cli.Context) (*sluice.Pipeline, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	p, err := sluice.Open(c.Context, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pipeline: %w", err)
	}
	return p, nil
}

func runCommand(c *cli.Context) error {
	p, err := openPipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()

	cfg := p.Config()
	fmt.Fprintf(os.Stderr, "Root: %s\n", cfg.Ingest.Root)
	fmt.Fprintf(os.Stderr, "Store: %s (collection %s)\n", cfg.Store.Backend, cfg.Store.Collection)
	fmt.Fprintf(os.Stderr, "Embedding: %s at %s\n", cfg.Embedding.Model, cfg.Embedding.BaseURL)
	fmt.Fprintln(os.Stderr)

	summary, err := p.Run(c.Context)
	if summary != nil {
		summary.Write(c.App.Writer)
	}
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}

func enqueueCommand(c *cli.Context) error {
	p, err := openPipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()

	discovered, added, err := p.Enqueue(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Discovered %d files, enqueued %d new\n", discovered, added)
	return nil
}

func statusCommand(c *cli.Context) error {
	p, err := openPipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()

	st, err := p.Status(c.Context)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Queue: %d paths, %.1f%% completed\n", st.Total, st.Percent())
	for _, state := range core.QueueStates {
		fmt.Fprintf(w, "  %-10s %d\n", state, st.Counts[state])
	}
	if st.CountErr != nil {
		fmt.Fprintf(w, "Collection %s: unavailable (%v)\n", st.Collection, st.CountErr)
	} else {
		fmt.Fprintf(w, "Collection %s: %d chunks\n", st.Collection, st.StoredCount)
	}
	if len(st.Processing) > 0 {
		fmt.Fprintln(w, "Processing (interrupted runs are recovered on next open):")
		for _, path := range st.Processing {
			fmt.Fprintf(w, "  %s\n", path)
		}
	}
	if len(st.Failed) > 0 {
		fmt.Fprintln(w, "Failed:")
		for _, f := range st.Failed {
			fmt.Fprintf(w, "  %s: %s\n", f.Path, f.Reason)
		}
	}
	return nil
}

func retryFailedCommand(c *cli.Context) error {
	p, err := openPipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()

	moved, err := p.RetryFailed(c.Args().Slice()...)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Moved %d failed paths to pending\n", moved)
	return nil
}

func verifyCommand(c *cli.Context) error {
	p, err := openPipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.Verify(c.Context, os.Stderr, c.Args().Slice()...)
	if report != nil {
		w := c.App.Writer
		fmt.Fprintf(w, "Checked %d paths: %d complete, %d incomplete, %d unchecked\n",
			report.Checked, report.Complete, len(report.Incomplete), len(report.Errored))
		for _, r := range report.Incomplete {
			fmt.Fprintf(w, "  %s: %d of %d chunks missing\n", r.Path, len(r.Missing), r.Expected)
		}
		for _, r := range report.Errored {
			fmt.Fprintf(w, "  %s: %v\n", r.Path, r.Err)
		}
	}
	if errors.Is(err, orchestrator.ErrIncomplete) {
		return cli.Exit(err.Error(), 2)
	}
	return err
}

func forgetCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("forget takes exactly one path")
	}
	p, err := openPipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()

	path := filepath.ToSlash(c.Args().First())
	deleted, err := p.Forget(c.Context, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted %d chunks of %s; it is pending again\n", deleted, path)
	return nil
}

func splitCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("split takes exactly one file")
	}
	file := c.Args().First()
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	text := string(data)
	if err := core.ValidateText(text); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	target := c.Int64("target")
	if target <= 0 {
		target = splitter.TargetSize(int64(len(data)), c.Int64("min"))
	}
	segments := splitter.Split(text, int(target))
	files, err := ingestion.WriteSegments(c.String("out"), filepath.Base(file), segments)
	if err != nil {
		return err
	}

	slog.Info("split complete", "file", file, "size_bytes", len(data), "target", target, "segments", len(files))
	for _, f := range files {
		fmt.Fprintln(c.App.Writer, f)
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
