package hub

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultLockTimeout is the default timeout for acquiring blob locks.
const DefaultLockTimeout = 10 * time.Minute

// incompleteSuffix marks a blob that is still being downloaded.
const incompleteSuffix = ".incomplete"

// DefaultCacheDir returns the cache directory shared with other Hub tooling.
//
// Priority: $HF_HUB_CACHE > $HF_HOME/hub > $XDG_CACHE_HOME/huggingface/hub >
// ~/.cache/huggingface/hub
func DefaultCacheDir() (string, error) {
	if dir := os.Getenv("HF_HUB_CACHE"); dir != "" {
		return dir, nil
	}
	home, err := hfHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "hub"), nil
}

// hfHome returns $HF_HOME or its default.
func hfHome() (string, error) {
	if dir := os.Getenv("HF_HOME"); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "huggingface"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".cache", "huggingface"), nil
}

// storage handles one cache directory laid out as
//
//	<root>/<type>s--<org>--<name>/{blobs,refs,snapshots}
//	<root>/.locks/<type>s--<org>--<name>/<etag>.lock
type storage struct {
	// root is the cache directory.
	root string

	// lockTimeout is the maximum duration to wait for a blob lock.
	lockTimeout time.Duration
}

// newStorage opens the cache directory at root, creating it if needed.
func newStorage(root string) (*storage, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty cache directory", ErrStorageError)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	s := &storage{root: abs, lockTimeout: DefaultLockTimeout}
	if err := s.ensureDir(abs); err != nil {
		return nil, err
	}
	return s, nil
}

// repoDir returns the repository folder.
func (s *storage) repoDir(ref RepoRef) string {
	return filepath.Join(s.root, ref.folderName())
}

// isHex reports whether v is a lowercase or uppercase hex string of length n.
func isHex(v string, n int) bool {
	if len(v) != n {
		return false
	}
	for _, c := range v {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// validEtag reports whether an etag is a git sha1 or a sha256.
func validEtag(etag string) bool {
	return isHex(etag, 40) || isHex(etag, 64)
}

// validCommit reports whether v looks like a git commit hash.
func validCommit(v string) bool {
	return isHex(v, 40)
}

// blobPath returns the final path of a blob.
func (s *storage) blobPath(ref RepoRef, etag string) (string, error) {
	if !validEtag(etag) {
		return "", fmt.Errorf("%w: unsafe etag %q", ErrHubError, etag)
	}
	return filepath.Join(s.repoDir(ref), "blobs", etag), nil
}

// lockPath returns the lock file guarding a blob.
func (s *storage) lockPath(ref RepoRef, etag string) string {
	return filepath.Join(s.root, ".locks", ref.folderName(), etag+".lock")
}

// snapshotDir returns the directory of a snapshot.
func (s *storage) snapshotDir(ref RepoRef, commit string) string {
	return filepath.Join(s.repoDir(ref), "snapshots", commit)
}

// snapshotFile returns the path of a repository file inside a snapshot.
// Paths escaping the snapshot directory are rejected.
func (s *storage) snapshotFile(ref RepoRef, commit, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: unsafe file path %q", ErrHubError, name)
	}
	dir := s.snapshotDir(ref, commit)
	p := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal in %q", ErrHubError, name)
	}
	return p, nil
}

// refPath returns the file recording which commit a revision resolved to.
func (s *storage) refPath(ref RepoRef, revision string) string {
	return filepath.Join(s.repoDir(ref), "refs", filepath.FromSlash(revision))
}

// completePath returns the marker recording that a snapshot finished.
func (s *storage) completePath(ref RepoRef, commit string) string {
	return filepath.Join(s.repoDir(ref), ".complete", commit)
}

// markComplete records that every requested file of a snapshot is present.
// It is written before any ref pointing at the snapshot.
func (s *storage) markComplete(ref RepoRef, commit string) error {
	return s.atomicWrite(s.completePath(ref, commit), []byte(time.Now().UTC().Format(time.RFC3339)))
}

// isComplete reports whether a snapshot finished downloading. Snapshots
// written by other Hub tooling carry no marker but are complete once a ref
// names them.
func (s *storage) isComplete(ref RepoRef, commit string) bool {
	if _, err := os.Stat(s.completePath(ref, commit)); err == nil {
		return true
	}
	found := false
	refsDir := filepath.Join(s.repoDir(ref), "refs")
	filepath.WalkDir(refsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || found {
			return nil
		}
		if data, err := os.ReadFile(p); err == nil && strings.TrimSpace(string(data)) == commit {
			found = true
		}
		return nil
	})
	return found
}

// readRef returns the commit recorded for a revision.
// A revision that is itself a commit hash resolves to itself once its
// snapshot is complete.
func (s *storage) readRef(ref RepoRef, revision string) (string, error) {
	if validCommit(revision) {
		if !s.isComplete(ref, revision) {
			return "", ErrNotCached
		}
		return revision, nil
	}
	data, err := os.ReadFile(s.refPath(ref, revision))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotCached
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	commit := strings.TrimSpace(string(data))
	if !validCommit(commit) {
		return "", fmt.Errorf("%w: corrupt ref %s", ErrStorageError, revision)
	}
	return commit, nil
}

// writeRef records the commit a revision resolved to.
// Commit-hash revisions need no ref.
func (s *storage) writeRef(ref RepoRef, revision, commit string) error {
	if revision == commit {
		return nil
	}
	return s.atomicWrite(s.refPath(ref, revision), []byte(commit))
}

// hasBlob reports whether a complete blob is present.
func (s *storage) hasBlob(ref RepoRef, etag string) bool {
	p, err := s.blobPath(ref, etag)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// hasSnapshotFile reports whether a snapshot entry resolves to a regular file.
func (s *storage) hasSnapshotFile(ref RepoRef, commit, name string) bool {
	p, err := s.snapshotFile(ref, commit, name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// linkSnapshotFile makes a snapshot entry point at its blob.
func (s *storage) linkSnapshotFile(ref RepoRef, commit, name, etag string) error {
	blob, err := s.blobPath(ref, etag)
	if err != nil {
		return err
	}
	dst, err := s.snapshotFile(ref, commit, name)
	if err != nil {
		return err
	}
	if err := s.ensureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := linkBlob(blob, dst); err != nil {
		return fmt.Errorf("%w: linking %s: %v", ErrStorageError, name, err)
	}
	return nil
}

// ensureDir creates a directory and all parent directories if they don't exist.
func (s *storage) ensureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory %s: %v", ErrStorageError, path, err)
	}
	return nil
}

// atomicWrite writes data to a file using write-then-rename for atomicity.
func (s *storage) atomicWrite(path string, data []byte) error {
	if err := s.ensureDir(filepath.Dir(path)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrStorageError, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: failed to write temp file: %v", ErrStorageError, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: failed to close temp file: %v", ErrStorageError, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: failed to rename temp file: %v", ErrStorageError, err)
	}
	return nil
}

// removeRepo deletes a repository folder and its locks.
func (s *storage) removeRepo(ref RepoRef) error {
	dir := s.repoDir(ref)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return ErrNotCached
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: failed to remove %s: %v", ErrStorageError, dir, err)
	}
	os.RemoveAll(filepath.Join(s.root, ".locks", ref.folderName()))
	return nil
}

// removeIncomplete deletes partial downloads across all repositories.
// It returns the number of files and bytes removed.
func (s *storage) removeIncomplete() (int, int64, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*", "blobs", "*"+incompleteSuffix))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	var (
		count int
		freed int64
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if err := os.Remove(m); err != nil {
			return count, freed, fmt.Errorf("%w: failed to remove %s: %v", ErrStorageError, m, err)
		}
		count++
		freed += info.Size()
	}
	return count, freed, nil
}

// parseFolderName is the inverse of RepoRef.folderName.
func parseFolderName(name string) (RepoRef, bool) {
	parts := strings.Split(name, "--")
	if len(parts) < 2 {
		return RepoRef{}, false
	}
	t, err := ParseRepoType(parts[0])
	if err != nil || !strings.HasSuffix(parts[0], "s") {
		return RepoRef{}, false
	}
	return RepoRef{ID: strings.Join(parts[1:], "/"), Type: t}, true
}

// scanCache lists every repository in the cache directory.
func (s *storage) scanCache() ([]CachedRepo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	var repos []CachedRepo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ref, ok := parseFolderName(e.Name())
		if !ok {
			continue
		}
		repo, err := s.scanRepo(ref)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Ref.String() < repos[j].Ref.String() })
	return repos, nil
}

// scanRepo summarizes one cached repository.
func (s *storage) scanRepo(ref RepoRef) (CachedRepo, error) {
	repo := CachedRepo{Ref: ref, Path: s.repoDir(ref)}

	blobSizes := make(map[string]int64)
	blobs, _ := os.ReadDir(filepath.Join(repo.Path, "blobs"))
	for _, b := range blobs {
		if b.IsDir() || strings.HasSuffix(b.Name(), incompleteSuffix) {
			continue
		}
		info, err := b.Info()
		if err != nil {
			continue
		}
		blobSizes[b.Name()] = info.Size()
		repo.Size += info.Size()
		repo.Blobs++
		if info.ModTime().After(repo.LastModified) {
			repo.LastModified = info.ModTime()
		}
	}

	refsByCommit := make(map[string][]string)
	refsDir := filepath.Join(repo.Path, "refs")
	filepath.WalkDir(refsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(refsDir, p)
		commit := strings.TrimSpace(string(data))
		refsByCommit[commit] = append(refsByCommit[commit], filepath.ToSlash(rel))
		return nil
	})

	snaps, _ := os.ReadDir(filepath.Join(repo.Path, "snapshots"))
	for _, sn := range snaps {
		if !sn.IsDir() {
			continue
		}
		rev := CachedRevision{
			Commit: sn.Name(),
			Refs:   refsByCommit[sn.Name()],
			Path:   s.snapshotDir(ref, sn.Name()),
		}
		sort.Strings(rev.Refs)
		seen := make(map[string]bool)
		filepath.WalkDir(rev.Path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			rev.Files++
			if target, err := os.Readlink(p); err == nil {
				etag := filepath.Base(target)
				if !seen[etag] {
					seen[etag] = true
					rev.Size += blobSizes[etag]
				}
				return nil
			}
			if info, err := d.Info(); err == nil {
				rev.Size += info.Size()
			}
			return nil
		})
		repo.Revisions = append(repo.Revisions, rev)
	}
	return repo, nil
}
