package hub

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// manager is the concrete implementation of the Manager interface.
type manager struct {
	// cfg holds the client configuration.
	cfg Config

	// logger receives diagnostic messages.
	logger Logger

	// storage is the default cache directory.
	storage *storage

	// hub handles remote Hub communication.
	hub *hubClient
}

// CacheDir returns the default cache directory.
func (m *manager) CacheDir() string {
	return m.storage.root
}

// storageFor returns the storage for a per-call cache directory override.
func (m *manager) storageFor(dir string) (*storage, error) {
	if dir == "" {
		return m.storage, nil
	}
	return newStorage(dir)
}

// RepoInfo resolves a revision and lists the repository files at it.
func (m *manager) RepoInfo(ctx context.Context, ref RepoRef, revision string) (RepoInfo, error) {
	if err := ref.Validate(); err != nil {
		return RepoInfo{}, err
	}
	if m.cfg.Offline {
		return RepoInfo{}, fmt.Errorf("repo info for %s: %w", ref, ErrOffline)
	}
	if revision == "" {
		revision = DefaultRevision
	}
	return m.hub.fetchRepoInfo(ctx, ref, revision)
}

// SnapshotDownload makes a complete snapshot of the repository present in
// the cache and returns the snapshot directory.
func (m *manager) SnapshotDownload(ctx context.Context, ref RepoRef, opts ...DownloadOption) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	cfg := newDownloadConfig(opts...)
	st, err := m.storageFor(cfg.cacheDir)
	if err != nil {
		return "", err
	}

	if m.cfg.Offline {
		dir, _, err := m.offlineSnapshot(st, ref, cfg.revision)
		return dir, err
	}

	cfg.report(DownloadProgress{Phase: "metadata", Repo: ref})
	info, err := m.hub.fetchRepoInfo(ctx, ref, cfg.revision)
	if err != nil {
		return "", err
	}

	var files []FileInfo
	var bytesTotal int64
	for _, f := range info.Files {
		if cfg.wants(f.Path) {
			files = append(files, f)
			bytesTotal += f.Size
		}
	}

	dir := st.snapshotDir(ref, info.Commit)
	if err := m.materialize(ctx, st, info, files, cfg); err != nil {
		return "", err
	}

	cfg.report(DownloadProgress{
		Phase:          "done",
		Repo:           ref,
		FilesTotal:     len(files),
		FilesCompleted: len(files),
		BytesTotal:     bytesTotal,
		BytesCompleted: bytesTotal,
	})
	m.logger.Info("snapshot ready", "repo", ref.String(), "commit", info.Commit, "files", len(files), "path", dir)
	return dir, nil
}

// FileDownload makes one repository file present in the cache and returns
// its path inside the snapshot directory.
func (m *manager) FileDownload(ctx context.Context, ref RepoRef, filename string, opts ...DownloadOption) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	cfg := newDownloadConfig(opts...)
	st, err := m.storageFor(cfg.cacheDir)
	if err != nil {
		return "", err
	}

	if m.cfg.Offline {
		dir, commit, err := m.offlineSnapshot(st, ref, cfg.revision)
		if err != nil {
			return "", err
		}
		if !st.hasSnapshotFile(ref, commit, filename) {
			return "", fmt.Errorf("%s in %s: %w", filename, dir, ErrOffline)
		}
		return st.snapshotFile(ref, commit, filename)
	}

	cfg.report(DownloadProgress{Phase: "metadata", Repo: ref})
	info, err := m.hub.fetchRepoInfo(ctx, ref, cfg.revision)
	if err != nil {
		return "", err
	}

	var file *FileInfo
	for i := range info.Files {
		if info.Files[i].Path == filename {
			file = &info.Files[i]
			break
		}
	}
	if file == nil {
		return "", fmt.Errorf("%s in %s@%s: %w", filename, ref, cfg.revision, ErrEntryNotFound)
	}

	if err := m.materialize(ctx, st, info, []FileInfo{*file}, cfg); err != nil {
		return "", err
	}
	cfg.report(DownloadProgress{
		Phase:          "done",
		Repo:           ref,
		FilesTotal:     1,
		FilesCompleted: 1,
		BytesTotal:     file.Size,
		BytesCompleted: file.Size,
		CurrentFile:    file.Path,
	})
	return st.snapshotFile(ref, info.Commit, file.Path)
}

// materialize downloads and links the files of a resolved revision, then
// marks the snapshot complete and records the revision's ref. Both are
// written last, so neither ever names a snapshot with missing files.
func (m *manager) materialize(ctx context.Context, st *storage, info RepoInfo, files []FileInfo, cfg *downloadConfig) error {
	ref := info.Ref
	if err := st.ensureDir(st.snapshotDir(ref, info.Commit)); err != nil {
		return err
	}

	var missing []FileInfo
	for _, f := range files {
		if cfg.force || !st.hasBlob(ref, f.Etag) || !st.hasSnapshotFile(ref, info.Commit, f.Path) {
			missing = append(missing, f)
		}
	}

	if len(missing) == 0 {
		m.logger.Debug("snapshot already cached", "repo", ref.String(), "commit", info.Commit)
	} else {
		m.logger.Info("downloading files", "repo", ref.String(), "commit", info.Commit, "files", len(missing), "cache", st.root)
		engine := newDownloadEngine(m.hub, st, m.logger)
		if err := engine.downloadFiles(ctx, ref, info.Commit, missing, cfg); err != nil {
			return fmt.Errorf("downloading %s: %w", ref, err)
		}
	}

	if err := st.markComplete(ref, info.Commit); err != nil {
		return fmt.Errorf("recording snapshot %s: %w", info.Commit, err)
	}
	if err := st.writeRef(ref, info.Revision, info.Commit); err != nil {
		return fmt.Errorf("recording ref %s: %w", info.Revision, err)
	}
	return nil
}

// offlineSnapshot resolves a revision from the cache alone and returns the
// snapshot directory and its commit.
func (m *manager) offlineSnapshot(st *storage, ref RepoRef, revision string) (string, string, error) {
	commit, err := st.readRef(ref, revision)
	if err != nil {
		return "", "", fmt.Errorf("%s@%s: %w", ref, revision, ErrOffline)
	}
	dir := st.snapshotDir(ref, commit)
	if _, err := os.Stat(dir); err != nil {
		return "", "", fmt.Errorf("%s@%s: %w", ref, revision, ErrOffline)
	}
	m.logger.Debug("offline snapshot", "repo", ref.String(), "commit", commit)
	return dir, commit, nil
}

// ListCached returns every repository in the cache directory.
func (m *manager) ListCached(ctx context.Context) ([]CachedRepo, error) {
	return m.storage.scanCache()
}

// CachedPath returns the snapshot directory a cached revision resolves to.
func (m *manager) CachedPath(ctx context.Context, ref RepoRef, revision string) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	if revision == "" {
		revision = DefaultRevision
	}
	commit, err := m.storage.readRef(ref, revision)
	if err != nil {
		return "", err
	}
	dir := m.storage.snapshotDir(ref, commit)
	if _, err := os.Stat(dir); err != nil {
		return "", ErrNotCached
	}
	return dir, nil
}

// Remove deletes a repository from the cache.
func (m *manager) Remove(ctx context.Context, ref RepoRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	err := m.storage.removeRepo(ref)
	if err != nil && !errors.Is(err, ErrNotCached) {
		return fmt.Errorf("removing %s: %w", ref, err)
	}
	return err
}

// PruneIncomplete removes partial downloads left by interrupted runs.
func (m *manager) PruneIncomplete(ctx context.Context) (int, int64, error) {
	return m.storage.removeIncomplete()
}
