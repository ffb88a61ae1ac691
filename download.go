package hub

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// newBlobHasher returns the hash whose hex digest equals a file's etag:
// sha256 of the content for LFS files, the git blob sha1 otherwise.
func newBlobHasher(f FileInfo) hash.Hash {
	if f.LFS || len(f.Etag) == 64 {
		return sha256.New()
	}
	h := sha1.New()
	h.Write([]byte("blob " + strconv.FormatInt(f.Size, 10) + "\x00"))
	return h
}

// verifyBlob hashes the file at path and compares it to f.Etag.
// Returns ErrHashMismatch if verification fails.
func verifyBlob(path string, f FileInfo) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	defer file.Close()

	h := newBlobHasher(f)
	if _, err := io.Copy(h, file); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	if !strings.EqualFold(hex.EncodeToString(h.Sum(nil)), f.Etag) {
		return ErrHashMismatch
	}
	return nil
}

// downloadEngine fetches the blobs of one snapshot with a bounded number of
// concurrent transfers and links them into the snapshot directory.
type downloadEngine struct {
	hub     *hubClient
	storage *storage
	logger  Logger

	// bytesDownloaded counts network bytes across all workers.
	bytesDownloaded atomic.Int64

	// progressMu serializes progress callbacks and guards the counters below.
	progressMu     sync.Mutex
	filesCompleted int
	bytesCompleted int64
}

// newDownloadEngine creates a download engine for one cache directory.
func newDownloadEngine(hub *hubClient, st *storage, logger Logger) *downloadEngine {
	return &downloadEngine{hub: hub, storage: st, logger: logger}
}

// downloadFiles makes every file in files present in the snapshot of commit.
// The first failure cancels the remaining transfers and is returned.
func (d *downloadEngine) downloadFiles(ctx context.Context, ref RepoRef, commit string, files []FileInfo, cfg *downloadConfig) error {
	var bytesTotal int64
	for _, f := range files {
		bytesTotal += f.Size
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)

	for _, f := range files {
		g.Go(func() error {
			if err := d.fetchBlob(ctx, ref, commit, f, cfg); err != nil {
				return err
			}
			if err := d.storage.linkSnapshotFile(ref, commit, f.Path, f.Etag); err != nil {
				return err
			}

			d.progressMu.Lock()
			defer d.progressMu.Unlock()
			d.filesCompleted++
			d.bytesCompleted += f.Size
			cfg.report(DownloadProgress{
				Phase:           "files",
				Repo:            ref,
				FilesTotal:      len(files),
				FilesCompleted:  d.filesCompleted,
				BytesTotal:      bytesTotal,
				BytesCompleted:  d.bytesCompleted,
				BytesDownloaded: d.bytesDownloaded.Load(),
				CurrentFile:     f.Path,
			})
			return nil
		})
	}

	return g.Wait()
}

// fetchBlob downloads the blob of f unless it is already cached.
// The blob is written to "<etag>.incomplete", verified, then renamed, so a
// blob under its final name is always complete.
func (d *downloadEngine) fetchBlob(ctx context.Context, ref RepoRef, commit string, f FileInfo, cfg *downloadConfig) error {
	final, err := d.storage.blobPath(ref, f.Etag)
	if err != nil {
		return err
	}

	lock, err := newFileLock(d.storage.lockPath(ref, f.Etag), d.storage.lockTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	if err := lock.Lock(ctx); err != nil {
		lock.Unlock()
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	defer lock.Unlock()

	if !cfg.force && d.storage.hasBlob(ref, f.Etag) {
		d.logger.Debug("blob cache hit", "file", f.Path, "etag", shortEtag(f.Etag))
		return nil
	}
	if err := d.storage.ensureDir(filepath.Dir(final)); err != nil {
		return err
	}

	partial := final + incompleteSuffix
	if cfg.force {
		os.Remove(partial)
	}
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	defer out.Close()

	offset, err := out.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	if offset > f.Size {
		offset = 0
	}
	if offset > 0 && offset == f.Size {
		if err := verifyBlob(partial, f); err == nil {
			if err := out.Close(); err != nil {
				return fmt.Errorf("%w: %v", ErrStorageError, err)
			}
			if err := os.Rename(partial, final); err != nil {
				return fmt.Errorf("%w: %v", ErrStorageError, err)
			}
			d.logger.Debug("partial blob already complete", "file", f.Path, "etag", shortEtag(f.Etag))
			return nil
		}
		offset = 0
	}

	body, resumed, err := d.hub.openFile(ctx, ref, commit, f.Path, offset)
	if err != nil {
		return err
	}
	defer body.Close()

	if !resumed {
		if err := out.Truncate(0); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		if _, err := out.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		offset = 0
	} else {
		d.logger.Info("resuming download", "file", f.Path, "offset", offset)
	}

	reader := &progressReader{reader: body, onProgress: func(delta int64) {
		d.bytesDownloaded.Add(delta)
	}}
	n, err := io.Copy(out, reader)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return fmt.Errorf("%w: writing %s: %v", ErrStorageError, f.Path, err)
		}
		return fmt.Errorf("downloading %s: %w: %v", f.Path, ErrNetworkError, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	if err := verifyBlob(partial, f); err != nil {
		os.Remove(partial)
		return fmt.Errorf("%s: %w", f.Path, err)
	}
	if err := os.Rename(partial, final); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	d.logger.Debug("blob downloaded", "file", f.Path, "etag", shortEtag(f.Etag), "bytes", offset+n)
	return nil
}

// shortEtag shortens an etag for log output.
func shortEtag(etag string) string {
	if len(etag) > 8 {
		return etag[:8]
	}
	return etag
}
