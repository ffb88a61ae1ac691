// Command lazyslide-setup prepares a machine for the lazyslide tutorials.
//
// With no arguments it fetches the tutorial dataset into the Hugging Face
// cache and into <repo root>/tutorials, then caches the Prism model weights,
// and prints "Environment setup complete.".
//
// Configuration is read from the standard Hub environment variables:
//   - HF_ENDPOINT: Hub base URL (default https://huggingface.co)
//   - HF_HUB_CACHE / HF_HOME: cache location
//   - HF_TOKEN: access token for gated models
//   - HF_HUB_OFFLINE: resolve from the cache only
//
// The "hub" subcommand inspects and manages the cache.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	hub "github.com/rendeirolab/lazyslide-tutorials"
	"github.com/rendeirolab/lazyslide-tutorials/internal/logging"
	"github.com/rendeirolab/lazyslide-tutorials/setup"
)

// CLI exit codes for standardized error reporting.
const (
	// ExitSuccess indicates the operation completed successfully.
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitInvalidArgs indicates invalid command line arguments.
	ExitInvalidArgs = 2

	// ExitNotFound indicates a repository, revision or file does not exist.
	ExitNotFound = 3

	// ExitAuthError indicates missing or rejected credentials, or a gated
	// repository whose conditions were not accepted.
	ExitAuthError = 4

	// ExitNetworkError indicates a network or connection failure.
	ExitNetworkError = 5

	// ExitHashMismatch indicates hash verification failed.
	ExitHashMismatch = 6

	// ExitStorageError indicates a filesystem operation failed.
	ExitStorageError = 7
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := hub.DefaultConfig()
	if err != nil {
		printError(os.Stderr, errors.Wrap(err, "reading Hub configuration"))
		os.Exit(ExitGeneralError)
	}

	cmd := newRootCommand(cfg, buildSteps)
	if err := cmd.ExecuteContext(ctx); err != nil {
		printError(cmd.ErrOrStderr(), err)
		stop()
		os.Exit(exitCodeFromError(err))
	}
}

// options holds the root command's flags.
type options struct {
	tutorialsDir string
	cacheDir     string
	dataset      string
	model        string
	revision     string
	concurrency  int
	skipData     bool
	skipModels   bool
	quiet        bool
	verbose      bool
	debug        bool
}

func (o *options) logLevel() string {
	switch {
	case o.debug:
		return logging.LevelDebug
	case o.verbose:
		return logging.LevelInfo
	default:
		return logging.LevelWarn
	}
}

// stepBuilder turns the parsed flags into the setup steps to run.
type stepBuilder func(cfg hub.Config, opts *options, stderr io.Writer, log *logrus.Logger) ([]setup.Step, error)

// usageError marks errors caused by the command line rather than the run.
type usageError struct {
	error
}

func (e usageError) Unwrap() error { return e.error }

func newRootCommand(cfg hub.Config, build stepBuilder) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "lazyslide-setup",
		Short: "Prepare the environment for the lazyslide tutorials",
		Long: "Fetch the lazyslide tutorial dataset into the Hugging Face cache and the " +
			"repository's tutorials directory, then cache the model weights the tutorials use.",
		Args:          cobra.NoArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(cmd.ErrOrStderr(), opts.logLevel())

			c := cfg
			if opts.cacheDir != "" {
				c.CacheDir = opts.cacheDir
			}
			steps, err := build(c, opts, cmd.ErrOrStderr(), log)
			if err != nil {
				return err
			}

			runner := setup.NewRunner(cmd.OutOrStdout(), steps...)
			runner.SetLogger(log)
			return runner.Run(cmd.Context())
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	f := cmd.Flags()
	f.StringVar(&opts.tutorialsDir, "tutorials-dir", "", "Second dataset destination (default <repo root>/tutorials)")
	f.StringVar(&opts.cacheDir, "cache-dir", "", "Hub cache directory (default $HF_HUB_CACHE or ~/.cache/huggingface/hub)")
	f.StringVar(&opts.dataset, "dataset", setup.DefaultDataset.ID, "Dataset repository to fetch")
	f.StringVar(&opts.model, "model", setup.DefaultModelName, modelUsage())
	f.StringVar(&opts.revision, "revision", hub.DefaultRevision, "Dataset branch, tag or commit")
	f.IntVar(&opts.concurrency, "concurrency", hub.DefaultConcurrency, "Number of concurrent file downloads")
	f.BoolVar(&opts.skipData, "skip-data", false, "Do not fetch the dataset")
	f.BoolVar(&opts.skipModels, "skip-models", false, "Do not cache model weights")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Do not draw progress bars")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log each step")
	f.BoolVar(&opts.debug, "debug", false, "Log every request and cache decision")

	cmd.AddCommand(newHubCommand(cfg))
	return cmd
}

// newHubCommand returns the hub subtree. Its logger is pointed at the
// command's stderr, at the level --verbose selects, before the manager is
// built.
func newHubCommand(cfg hub.Config) *cobra.Command {
	log := logging.New(io.Discard, logging.LevelWarn)
	hubCmd := hub.NewCommand(cfg, hub.WithLogger(logging.NewLogger(log)), hub.WithUserAgent(userAgent()))

	preRun := hubCmd.PersistentPreRunE
	hubCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		log.SetOutput(cmd.ErrOrStderr())
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			log.SetLevel(logrus.InfoLevel)
		}
		return preRun(cmd, args)
	}
	return hubCmd
}

// modelUsage lists the catalog in the --model help.
func modelUsage() string {
	var b strings.Builder
	b.WriteString("Model to cache:")
	for _, name := range setup.ModelNames() {
		m, _ := setup.LookupModel(name)
		fmt.Fprintf(&b, "\n  %s: %s", name, m.Description)
	}
	return b.String()
}

func userAgent() string {
	return "lazyslide-setup/" + version
}

// buildSteps wires the data fetcher and model warmer to a Hub manager.
func buildSteps(cfg hub.Config, opts *options, stderr io.Writer, log *logrus.Logger) ([]setup.Step, error) {
	dataset, err := hub.ParseRepoRef(opts.dataset, hub.RepoTypeDataset)
	if err != nil {
		return nil, usageError{errors.Wrapf(err, "--dataset %q", opts.dataset)}
	}
	model, err := setup.LookupModel(opts.model)
	if err != nil {
		return nil, usageError{errors.Wrap(err, "--model")}
	}

	tutorialsDir := opts.tutorialsDir
	if tutorialsDir == "" && !opts.skipData {
		if tutorialsDir, err = setup.DefaultTutorialsDir(); err != nil {
			return nil, err
		}
	}

	mgr, err := hub.NewManager(cfg, hub.WithLogger(logging.NewLogger(log)), hub.WithUserAgent(userAgent()))
	if err != nil {
		return nil, errors.Wrap(err, "initializing Hub client")
	}
	if cfg.Offline {
		warn(stderr, "HF_HUB_OFFLINE is set: using cached files only")
	}

	common := []setup.Option{
		setup.WithLogger(log),
		setup.WithDownloadOptions(hub.WithConcurrency(opts.concurrency)),
	}
	if !opts.quiet {
		if fn := hub.TerminalProgress(stderr); fn != nil {
			common = append(common, setup.WithProgress(fn))
		}
	}

	var steps []setup.Step
	if !opts.skipData {
		dataOpts := append([]setup.Option{setup.WithDownloadOptions(hub.WithRevision(opts.revision))}, common...)
		steps = append(steps, setup.NewDataFetcher(mgr, dataset, tutorialsDir, dataOpts...))
	}
	if !opts.skipModels {
		steps = append(steps, setup.NewModelWarmer(mgr, model, common...))
	}
	if len(steps) == 0 {
		warn(stderr, "both --skip-data and --skip-models given: nothing to do")
	}
	return steps, nil
}

func warn(w io.Writer, msg string) {
	color.New(color.FgYellow).Fprintf(w, "Warning: %s\n", msg)
}

func printError(w io.Writer, err error) {
	color.New(color.FgRed).Fprintf(w, "Error: %v\n", err)
	switch {
	case errors.Is(err, hub.ErrGatedRepo), errors.Is(err, hub.ErrUnauthorized):
		fmt.Fprintln(w, "Accept the model's conditions on the Hub and set HF_TOKEN to a token with access.")
	case errors.Is(err, hub.ErrOffline):
		fmt.Fprintln(w, "Unset HF_HUB_OFFLINE or run once with network access.")
	}
}

// exitCodeFromError maps error types to exit codes.
func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var ue usageError
	switch {
	case errors.As(err, &ue):
		return ExitInvalidArgs
	case errors.Is(err, hub.ErrInvalidRef):
		return ExitInvalidArgs
	case errors.Is(err, hub.ErrRepoNotFound),
		errors.Is(err, hub.ErrRevisionNotFound),
		errors.Is(err, hub.ErrEntryNotFound),
		errors.Is(err, hub.ErrNotCached):
		return ExitNotFound
	case errors.Is(err, hub.ErrUnauthorized), errors.Is(err, hub.ErrGatedRepo):
		return ExitAuthError
	case errors.Is(err, hub.ErrNetworkError), errors.Is(err, hub.ErrOffline):
		return ExitNetworkError
	case errors.Is(err, hub.ErrHashMismatch):
		return ExitHashMismatch
	case errors.Is(err, hub.ErrStorageError):
		return ExitStorageError
	default:
		return ExitGeneralError
	}
}
