// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/covpipe/covpipe/cmd/covpipe/cli"
	"github.com/covpipe/covpipe/lib/config"
	"github.com/covpipe/covpipe/lib/coverage"
	"github.com/covpipe/covpipe/lib/git"
	"github.com/covpipe/covpipe/lib/pipeline"
	"github.com/covpipe/covpipe/lib/provision"
	"github.com/covpipe/covpipe/lib/publish"
	"github.com/covpipe/covpipe/lib/toolfetch"
	"github.com/covpipe/covpipe/lib/trigger"
)

// runOptions carries the parsed run command flags.
type runOptions struct {
	configPath  string
	event       string
	branch      string
	ref         string
	resultLog   string
	keepWorkdir bool
	logJSON     bool
}

func runCommand() *cli.Command {
	options := &runOptions{}

	return &cli.Command{
		Name:    "run",
		Summary: "Execute the coverage pipeline once",
		Description: `Execute the coverage pipeline: provision a source checkout and
toolchain, fetch the pinned grcov release, build and test with
instrumentation, and extract an LCOV report.

Without --event the run is a manual dispatch and always executes. With
--event push or --event pull-request the configured branch filters
decide; a filtered-out event exits 0 without running.

Stage failures map to distinct exit codes (provision 10, tool fetch 11,
build 12, test 13, extract 14, publish 15); an interrupted run exits
130.`,
		Usage: "covpipe run [flags]",
		Examples: []cli.Example{
			{Description: "manual run against the default branch", Command: "covpipe run --config covpipe.yaml"},
			{Description: "simulate a push event", Command: "covpipe run --event push --branch main --ref 3f2a91c"},
			{Description: "keep the work directory for debugging", Command: "covpipe run --keep-workdir"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.StringVar(&options.configPath, "config", "", "config file path (default: $COVPIPE_CONFIG)")
			flagSet.StringVar(&options.event, "event", "manual", "event type: push, pull-request, or manual")
			flagSet.StringVar(&options.branch, "branch", "", "branch the event concerns (push/pull-request)")
			flagSet.StringVar(&options.ref, "ref", "", "commit to check out (default: the configured default ref)")
			flagSet.StringVar(&options.resultLog, "result-log", "", "write a JSONL step-by-step result log to this path")
			flagSet.BoolVar(&options.keepWorkdir, "keep-workdir", false, "keep the run's work directory instead of deleting it")
			flagSet.BoolVar(&options.logJSON, "log-json", false, "emit JSON log lines instead of text")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("run takes no positional arguments, got %v", args)
			}
			return executeRun(options)
		},
	}
}

func executeRun(options *runOptions) error {
	logger := newLogger(options.logJSON)

	configuration, err := loadConfig(options.configPath)
	if err != nil {
		return err
	}

	eventType := trigger.EventType(options.event)
	if !eventType.Valid() {
		return fmt.Errorf("unknown event type %q (want push, pull-request, or manual)", options.event)
	}
	event := trigger.Event{Type: eventType, Branch: options.branch, Ref: options.ref}

	policy := trigger.Policy{
		Push:        configuration.Triggers.Push,
		PullRequest: configuration.Triggers.PullRequest,
	}
	decision := policy.Decide(event)
	logger.Info("trigger decision", "event", event.Type, "run", decision.Run, "reason", decision.Reason)
	if !decision.Run {
		// A filtered-out event is a successful no-op, not a failure.
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executePipeline(ctx, logger, configuration, event, options)
}

// executePipeline provisions a work directory and drives the run
// through its ordered steps.
func executePipeline(ctx context.Context, logger *slog.Logger, configuration *config.Config, event trigger.Event, options *runOptions) error {
	if err := os.MkdirAll(configuration.Paths.WorkRoot, 0o755); err != nil {
		return fmt.Errorf("creating work root: %w", err)
	}
	workDir, err := os.MkdirTemp(configuration.Paths.WorkRoot, "run-")
	if err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	if !options.keepWorkdir {
		defer os.RemoveAll(workDir)
	}

	binDir := filepath.Join(workDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating bin directory: %w", err)
	}

	// The report must outlive the work directory, so its path is
	// resolved against the invoking directory before any step runs.
	outputPath, err := filepath.Abs(configuration.Coverage.Output)
	if err != nil {
		return fmt.Errorf("resolving coverage output path: %w", err)
	}

	var resultLog *pipeline.ResultLog
	if options.resultLog != "" {
		resultLog, err = pipeline.NewResultLog(options.resultLog, logger)
		if err != nil {
			return err
		}
		defer resultLog.Close()
	}

	ref := event.Ref
	if ref == "" {
		ref = configuration.Repository.DefaultRef
	}

	gitClient := git.New()
	if configuration.Binaries.Git != "" {
		gitClient = git.NewWithBinary(configuration.Binaries.Git)
	}
	provisioner := provision.New(gitClient, configuration.Binaries.Rustup, logger)
	fetcher := toolfetch.New(logger)
	runner := coverage.New(logger)

	// Step outputs flow forward through these; each is set by the step
	// that produces it and read only by later steps.
	var workspace *provision.Workspace
	var grcovPath string
	var reportPath string

	coverageParams := func() coverage.Params {
		return coverage.Params{
			SourceDir:      workspace.SourceDir,
			Toolchain:      workspace.Toolchain,
			CargoPath:      configuration.Binaries.Cargo,
			GrcovPath:      grcovPath,
			BinDir:         binDir,
			OutputPath:     outputPath,
			BranchCoverage: configuration.Coverage.Branch,
			Ignore:         configuration.Coverage.Ignore,
			ExtraEnv:       configuration.Coverage.Env,
		}
	}

	steps := []pipeline.Step{
		{
			Name:  "provision environment",
			Stage: pipeline.StageProvision,
			Run: func(ctx context.Context) error {
				provisioned, err := provisioner.Provision(ctx,
					provision.Params{
						RepositoryURL: configuration.Repository.URL,
						Ref:           ref,
						WorkDir:       workDir,
					},
					provision.ToolchainSpec{
						Channel:    configuration.Toolchain.Channel,
						Components: configuration.Toolchain.Components,
					})
				if err != nil {
					return err
				}
				workspace = provisioned
				return nil
			},
		},
		{
			Name:  "fetch " + configuration.Tool.Name,
			Stage: pipeline.StageToolFetch,
			Run: func(ctx context.Context) error {
				installed, err := fetcher.Fetch(ctx, toolfetch.Descriptor{
					Name:     configuration.Tool.Name,
					Version:  configuration.Tool.Version,
					URL:      configuration.Tool.URL,
					Format:   configuration.Tool.Format,
					Target:   configuration.Tool.Target,
					Checksum: configuration.Tool.Checksum,
					CacheDir: configuration.Tool.CacheDir,
				}, binDir)
				if err != nil {
					return err
				}
				grcovPath = installed
				return nil
			},
		},
		{
			Name:  "build instrumented",
			Stage: pipeline.StageBuild,
			Run: func(ctx context.Context) error {
				return runner.Build(ctx, coverageParams())
			},
		},
		{
			Name:  "run tests",
			Stage: pipeline.StageTest,
			Run: func(ctx context.Context) error {
				return runner.Test(ctx, coverageParams())
			},
		},
		{
			Name:  "extract coverage",
			Stage: pipeline.StageExtract,
			Run: func(ctx context.Context) error {
				extracted, err := runner.Extract(ctx, coverageParams())
				if err != nil {
					return err
				}
				reportPath = extracted
				return nil
			},
		},
	}

	// The publisher is always a step, defaulting to the no-op sink.
	// Re-enabling uploads is a pure configuration change.
	var publisher publish.Publisher = publish.Noop{Logger: logger}
	if configuration.Publish.Enabled {
		publisher = &publish.HTTP{
			Endpoint: configuration.Publish.Endpoint,
			Token:    os.Getenv(configuration.Publish.TokenEnv),
			Logger:   logger,
		}
	}
	steps = append(steps, pipeline.Step{
		Name:  "publish report",
		Stage: pipeline.StagePublish,
		Run: func(ctx context.Context) error {
			report := publish.Report{
				Path:   reportPath,
				Commit: workspace.Commit,
				Branch: event.Branch,
				Flag:   configuration.Publish.Flag,
				Name:   configuration.Publish.Name,
			}
			publishErr := publisher.Publish(ctx, report)
			if publishErr != nil && !configuration.Publish.FailOnError {
				logger.Warn("publishing failed, run outcome unaffected", "error", publishErr)
				return nil
			}
			return publishErr
		},
	})

	runName := configuration.Publish.Name
	if runName == "" {
		runName = configuration.Repository.URL
	}
	run := pipeline.NewRun(runName, ref, logger, resultLog)

	if err := run.Execute(ctx, steps); err != nil {
		var stageError *pipeline.StageError
		if errors.As(err, &stageError) {
			return &cli.ExitError{Code: stageError.Stage.ExitCode()}
		}
		if errors.Is(err, context.Canceled) {
			return &cli.ExitError{Code: pipeline.CancelledExitCode}
		}
		return err
	}

	logger.Info("coverage report ready", "path", reportPath)
	return nil
}

// loadConfig loads and validates the config from the --config flag
// path, falling back to the COVPIPE_CONFIG environment variable.
func loadConfig(path string) (*config.Config, error) {
	var configuration *config.Config
	var err error
	if path != "" {
		configuration, err = config.LoadFile(path)
	} else {
		configuration, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := configuration.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return configuration, nil
}

func newLogger(json bool) *slog.Logger {
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}
