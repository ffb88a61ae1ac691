// Package setup prepares the local environment for the lazyslide tutorials:
// it fetches the tutorial dataset into the shared Hub cache and into the
// repository's tutorials directory, then warms the weight cache of the
// foundation models the tutorials use.
//
// Steps run strictly in order and the first failure aborts the run:
//
//	fetcher := setup.NewDataFetcher(mgr, setup.DefaultDataset, tutorialsDir)
//	warmer := setup.NewModelWarmer(mgr, setup.DefaultModel())
//	err := setup.NewRunner(os.Stdout, fetcher, warmer).Run(ctx)
package setup

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	hub "github.com/rendeirolab/lazyslide-tutorials"
)

// CompletionMessage is printed once every step has succeeded.
const CompletionMessage = "Environment setup complete."

//go:generate mockgen -source=setup.go -destination=mocks/mocks.go -package=mocks

// Step is one unit of environment preparation.
type Step interface {
	// Name identifies the step in logs and errors.
	Name() string

	// Run blocks until the step has finished.
	Run(ctx context.Context) error
}

// Downloader makes Hub repository snapshots present in a cache.
// hub.Manager satisfies it.
type Downloader interface {
	SnapshotDownload(ctx context.Context, ref hub.RepoRef, opts ...hub.DownloadOption) (string, error)
}

// Option configures a DataFetcher or ModelWarmer.
type Option func(*options)

type options struct {
	log          logrus.FieldLogger
	downloadOpts []hub.DownloadOption
	progress     func(hub.DownloadProgress)
}

func newOptions(opts []Option) options {
	o := options{log: discardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger for step progress.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithDownloadOptions adds options to every snapshot download of the step.
func WithDownloadOptions(opts ...hub.DownloadOption) Option {
	return func(o *options) {
		o.downloadOpts = append(o.downloadOpts, opts...)
	}
}

// WithProgress receives the progress of every snapshot download of the step.
func WithProgress(fn func(hub.DownloadProgress)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// downloadOptions returns the step's download options followed by extra,
// with a progress callback that forwards to the WithProgress function and
// then to observe.
func (o options) downloadOptions(observe func(hub.DownloadProgress), extra ...hub.DownloadOption) []hub.DownloadOption {
	opts := append([]hub.DownloadOption(nil), o.downloadOpts...)
	opts = append(opts, extra...)
	return append(opts, hub.WithProgress(func(p hub.DownloadProgress) {
		if o.progress != nil {
			o.progress(p)
		}
		if observe != nil {
			observe(p)
		}
	}))
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Runner executes steps sequentially.
type Runner struct {
	out   io.Writer
	steps []Step
	log   logrus.FieldLogger
}

// NewRunner returns a Runner that prints the completion line to out.
func NewRunner(out io.Writer, steps ...Step) *Runner {
	return &Runner{out: out, steps: steps, log: discardLogger()}
}

// SetLogger sets the logger used for step timings.
func (r *Runner) SetLogger(log logrus.FieldLogger) {
	if log != nil {
		r.log = log
	}
}

// Run executes every step in order and prints CompletionMessage on success.
// A failing step stops the run; the steps after it never start.
func (r *Runner) Run(ctx context.Context) error {
	for _, s := range r.steps {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "before %s", s.Name())
		}
		start := time.Now()
		r.log.WithField("step", s.Name()).Info("starting")
		if err := s.Run(ctx); err != nil {
			return errors.Wrap(err, s.Name())
		}
		r.log.WithFields(logrus.Fields{
			"step":    s.Name(),
			"elapsed": time.Since(start).Round(time.Millisecond),
		}).Info("finished")
	}
	_, err := fmt.Fprintln(r.out, CompletionMessage)
	return err
}
