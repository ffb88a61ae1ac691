package setup

import (
	"context"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	hub "github.com/rendeirolab/lazyslide-tutorials"
)

// DefaultDataset is the dataset the tutorials read.
var DefaultDataset = hub.NewDatasetRef("rendeirolab/lazyslide-data")

// DataFetcher fetches a dataset snapshot into the default cache and then
// into the tutorials directory. Both fetches are complete and independent,
// so the tutorials directory is usable on its own.
type DataFetcher struct {
	downloader   Downloader
	dataset      hub.RepoRef
	tutorialsDir string
	opts         options
}

// NewDataFetcher returns a step fetching dataset into the default cache and
// into tutorialsDir.
func NewDataFetcher(d Downloader, dataset hub.RepoRef, tutorialsDir string, opts ...Option) *DataFetcher {
	return &DataFetcher{
		downloader:   d,
		dataset:      dataset,
		tutorialsDir: tutorialsDir,
		opts:         newOptions(opts),
	}
}

// Name implements Step.
func (f *DataFetcher) Name() string { return "setup_data" }

// Destinations returns the cache directories the dataset is fetched into,
// in order. The empty string is the downloader's default cache.
func (f *DataFetcher) Destinations() []string {
	return []string{"", f.tutorialsDir}
}

// Run implements Step.
func (f *DataFetcher) Run(ctx context.Context) error {
	if err := f.dataset.Validate(); err != nil {
		return errors.Wrapf(err, "dataset %q", f.dataset.ID)
	}
	if f.tutorialsDir == "" {
		return errors.New("tutorials directory is required")
	}
	for _, dest := range f.Destinations() {
		if _, err := f.Fetch(ctx, dest); err != nil {
			return err
		}
	}
	return nil
}

// Fetch downloads the dataset snapshot into cacheDir, or into the default
// cache when cacheDir is empty, and returns the snapshot directory.
func (f *DataFetcher) Fetch(ctx context.Context, cacheDir string) (string, error) {
	log := f.opts.log.WithFields(logrus.Fields{"dataset": f.dataset.String(), "cache": displayCache(cacheDir)})

	var total int64
	opts := f.opts.downloadOptions(func(p hub.DownloadProgress) {
		if p.Phase == "done" {
			total = p.BytesTotal
		}
	}, hub.WithCacheDir(cacheDir))

	log.Info("fetching dataset")
	dir, err := f.downloader.SnapshotDownload(ctx, f.dataset, opts...)
	if err != nil {
		return "", errors.Wrapf(err, "fetching %s into %s", f.dataset, displayCache(cacheDir))
	}
	log.WithFields(logrus.Fields{"path": dir, "size": units.HumanSize(float64(total))}).Info("dataset ready")
	return dir, nil
}

func displayCache(dir string) string {
	if dir == "" {
		return "default cache"
	}
	return dir
}
