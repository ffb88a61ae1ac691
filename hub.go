package hub

import (
	"context"
	"errors"
)

// Manager provides programmatic access to the Hub and the local cache.
// All methods are safe for concurrent use, also across processes sharing a
// cache directory.
// For CLI integration, use NewCommand instead.
type Manager interface {
	// RepoInfo resolves a revision and lists the repository files at it.
	RepoInfo(ctx context.Context, ref RepoRef, revision string) (RepoInfo, error)

	// SnapshotDownload makes a complete snapshot of the repository present in
	// the cache and returns the snapshot directory. Files already cached are
	// not downloaded again.
	SnapshotDownload(ctx context.Context, ref RepoRef, opts ...DownloadOption) (string, error)

	// FileDownload makes one repository file present in the cache and returns
	// its path inside the snapshot directory.
	FileDownload(ctx context.Context, ref RepoRef, filename string, opts ...DownloadOption) (string, error)

	// ListCached returns every repository in the cache directory.
	ListCached(ctx context.Context) ([]CachedRepo, error)

	// CachedPath returns the snapshot directory a cached revision resolves to.
	// Returns ErrNotCached if the revision has no complete snapshot.
	CachedPath(ctx context.Context, ref RepoRef, revision string) (string, error)

	// Remove deletes a repository from the cache.
	// Returns ErrNotCached if it is not cached.
	Remove(ctx context.Context, ref RepoRef) error

	// PruneIncomplete removes partial downloads left by interrupted runs and
	// returns how many files and bytes were freed.
	PruneIncomplete(ctx context.Context) (files int, bytes int64, err error)

	// CacheDir returns the default cache directory.
	CacheDir() string
}

// Ensure manager implements Manager interface.
var _ Manager = (*manager)(nil)

// NewManager creates a new Manager with the given configuration.
// Returns an error if the configuration is invalid (empty Endpoint or CacheDir).
func NewManager(cfg Config, opts ...ManagerOption) (Manager, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("hub: Endpoint is required")
	}
	if cfg.CacheDir == "" {
		return nil, errors.New("hub: CacheDir is required")
	}

	mcfg := newManagerConfig()
	for _, opt := range opts {
		opt(mcfg)
	}
	if mcfg.logger == nil {
		mcfg.logger = nopLogger{}
	}

	st, err := newStorage(cfg.CacheDir)
	if err != nil {
		return nil, err
	}

	return &manager{
		cfg:     cfg,
		logger:  mcfg.logger,
		storage: st,
		hub:     newHubClient(cfg.Endpoint, cfg.Token, mcfg.userAgent, mcfg.httpClient, mcfg.logger),
	}, nil
}
