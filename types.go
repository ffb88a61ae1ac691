package hub

import (
	"strings"
	"time"
)

// DefaultEndpoint is the public Hugging Face Hub.
const DefaultEndpoint = "https://huggingface.co"

// DefaultRevision is the revision resolved when none is given.
const DefaultRevision = "main"

// Config configures the hub client.
type Config struct {
	// Endpoint is the base URL of the Hub.
	// Example: "https://huggingface.co"
	Endpoint string

	// CacheDir is the default cache directory for downloads.
	// If empty, the platform default is used (see DefaultCacheDir).
	CacheDir string

	// Token is sent as a bearer token when non-empty.
	Token string

	// Offline disables all network access. Downloads resolve against the
	// cache only and fail with ErrOffline when nothing is cached.
	Offline bool
}

// RepoType is the kind of Hub repository.
type RepoType string

const (
	// RepoTypeModel is a model repository. It is the Hub default.
	RepoTypeModel RepoType = "model"

	// RepoTypeDataset is a dataset repository.
	RepoTypeDataset RepoType = "dataset"

	// RepoTypeSpace is a Space repository.
	RepoTypeSpace RepoType = "space"
)

// ParseRepoType parses "model", "dataset" or "space" (plural forms accepted).
// An empty string yields RepoTypeModel.
func ParseRepoType(s string) (RepoType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "model", "models":
		return RepoTypeModel, nil
	case "dataset", "datasets":
		return RepoTypeDataset, nil
	case "space", "spaces":
		return RepoTypeSpace, nil
	default:
		return "", ErrInvalidRef
	}
}

// plural returns the plural form used in API paths and cache folder names.
func (t RepoType) plural() string {
	switch t {
	case RepoTypeDataset:
		return "datasets"
	case RepoTypeSpace:
		return "spaces"
	default:
		return "models"
	}
}

// urlPrefix is the path prefix of "resolve" URLs. Models have none.
func (t RepoType) urlPrefix() string {
	switch t {
	case RepoTypeDataset, RepoTypeSpace:
		return t.plural() + "/"
	default:
		return ""
	}
}

// RepoRef identifies a Hub repository.
type RepoRef struct {
	// ID is "namespace/name", or a bare "name" for legacy repositories.
	ID string

	// Type is the repository type. Empty means RepoTypeModel.
	Type RepoType
}

// NewDatasetRef returns a RepoRef for a dataset repository.
func NewDatasetRef(id string) RepoRef {
	return RepoRef{ID: id, Type: RepoTypeDataset}
}

// NewModelRef returns a RepoRef for a model repository.
func NewModelRef(id string) RepoRef {
	return RepoRef{ID: id, Type: RepoTypeModel}
}

// repoType returns the effective repository type.
func (r RepoRef) repoType() RepoType {
	if r.Type == "" {
		return RepoTypeModel
	}
	return r.Type
}

// String returns "type:id", e.g. "dataset:rendeirolab/lazyslide-data".
func (r RepoRef) String() string {
	return string(r.repoType()) + ":" + r.ID
}

// Validate reports ErrInvalidRef for IDs the Hub would reject.
func (r RepoRef) Validate() error {
	if r.ID == "" {
		return ErrInvalidRef
	}
	if _, err := ParseRepoType(string(r.Type)); err != nil {
		return err
	}
	parts := strings.Split(r.ID, "/")
	if len(parts) > 2 {
		return ErrInvalidRef
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, " \\:") || strings.Contains(p, "--") {
			return ErrInvalidRef
		}
	}
	return nil
}

// folderName is the cache folder of the repository,
// e.g. "datasets--rendeirolab--lazyslide-data".
func (r RepoRef) folderName() string {
	return r.repoType().plural() + "--" + strings.ReplaceAll(r.ID, "/", "--")
}

// ParseRepoRef parses a repository reference.
//
// Accepted forms:
//   - "org/name" (type taken from defaultType)
//   - "dataset:org/name", "model:org/name", "space:org/name"
//   - "datasets/org/name", "spaces/org/name", "models/org/name"
func ParseRepoRef(s string, defaultType RepoType) (RepoRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RepoRef{}, ErrInvalidRef
	}

	ref := RepoRef{ID: s, Type: defaultType}
	if typ, id, ok := strings.Cut(s, ":"); ok {
		t, err := ParseRepoType(typ)
		if err != nil {
			return RepoRef{}, err
		}
		ref = RepoRef{ID: id, Type: t}
	} else if parts := strings.Split(s, "/"); len(parts) == 3 {
		t, err := ParseRepoType(parts[0])
		if err != nil || !strings.HasSuffix(parts[0], "s") {
			return RepoRef{}, ErrInvalidRef
		}
		ref = RepoRef{ID: parts[1] + "/" + parts[2], Type: t}
	}

	if ref.Type == "" {
		ref.Type = RepoTypeModel
	}
	if err := ref.Validate(); err != nil {
		return RepoRef{}, err
	}
	return ref, nil
}

// FileInfo describes a file in a repository revision.
type FileInfo struct {
	// Path is the path relative to the repository root.
	Path string `json:"path"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// Etag names the blob in the cache: the sha256 for LFS files,
	// the git blob sha1 otherwise.
	Etag string `json:"etag"`

	// LFS reports whether the file is stored with Git LFS.
	LFS bool `json:"lfs"`
}

// RepoInfo is the resolved state of a repository at a revision.
type RepoInfo struct {
	// Ref identifies the repository.
	Ref RepoRef `json:"ref"`

	// Revision is the requested revision (branch, tag or commit).
	Revision string `json:"revision"`

	// Commit is the commit hash the revision resolved to.
	Commit string `json:"commit"`

	// Gated reports whether access requires accepting conditions on the Hub.
	Gated bool `json:"gated"`

	// Files lists every file at the commit.
	Files []FileInfo `json:"files"`
}

// TotalSize returns the summed size of all files.
func (i RepoInfo) TotalSize() int64 {
	var n int64
	for _, f := range i.Files {
		n += f.Size
	}
	return n
}

// CachedRevision is one snapshot of a cached repository.
type CachedRevision struct {
	// Commit is the snapshot's commit hash.
	Commit string `json:"commit"`

	// Refs lists the revisions pointing at this commit, e.g. ["main"].
	Refs []string `json:"refs"`

	// Path is the snapshot directory.
	Path string `json:"path"`

	// Files is the number of files in the snapshot.
	Files int `json:"files"`

	// Size is the summed size of the blobs the snapshot links to.
	Size int64 `json:"size"`
}

// CachedRepo describes a repository present in a cache directory.
type CachedRepo struct {
	// Ref identifies the repository.
	Ref RepoRef `json:"ref"`

	// Path is the repository folder in the cache.
	Path string `json:"path"`

	// Size is the on-disk size of all complete blobs.
	Size int64 `json:"size"`

	// Blobs is the number of complete blobs.
	Blobs int `json:"blobs"`

	// Revisions lists the cached snapshots.
	Revisions []CachedRevision `json:"revisions"`

	// LastModified is the most recent blob modification time.
	LastModified time.Time `json:"last_modified"`
}

// DownloadProgress reports progress of a snapshot or file download.
type DownloadProgress struct {
	// Phase is "metadata", "files" or "done".
	Phase string

	// Repo is the repository being downloaded.
	Repo RepoRef

	// FilesTotal is the number of files selected for the snapshot.
	FilesTotal int

	// FilesCompleted is the number of files present in the snapshot so far.
	FilesCompleted int

	// BytesTotal is the summed size of the selected files.
	BytesTotal int64

	// BytesCompleted counts bytes of completed files, cached or downloaded.
	BytesCompleted int64

	// BytesDownloaded counts bytes fetched from the network this session,
	// including files still in flight.
	BytesDownloaded int64

	// CurrentFile is the file that triggered this update, if any.
	CurrentFile string
}
