package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// repoInfoResponse is the JSON returned by /api/{type}s/{id}/revision/{rev}.
type repoInfoResponse struct {
	// ID is the canonical repository id.
	ID string `json:"id"`

	// SHA is the commit the revision resolved to.
	SHA string `json:"sha"`

	// Gated is false, or "auto"/"manual" for gated repositories.
	Gated any `json:"gated"`

	// Siblings lists the files at the commit.
	Siblings []siblingEntry `json:"siblings"`
}

// siblingEntry is a file entry of repoInfoResponse. Sizes and blob ids are
// present only when the request carries blobs=true.
type siblingEntry struct {
	// RFilename is the path relative to the repository root.
	RFilename string `json:"rfilename"`

	// BlobID is the git blob sha1.
	BlobID string `json:"blobId"`

	// Size is the file size in bytes (pointer size for LFS files).
	Size int64 `json:"size"`

	// LFS is set for files stored with Git LFS.
	LFS *lfsEntry `json:"lfs,omitempty"`
}

// lfsEntry describes the LFS object behind a file.
type lfsEntry struct {
	// SHA256 is the content hash of the object.
	SHA256 string `json:"sha256"`

	// Size is the object size in bytes.
	Size int64 `json:"size"`
}

// hubClient handles HTTP communication with the Hub.
type hubClient struct {
	// endpoint is the base URL of the Hub (e.g., "https://huggingface.co").
	endpoint string

	// token is sent as a bearer token when non-empty.
	token string

	// userAgent is sent with every request.
	userAgent string

	// httpClient is used for HTTP requests.
	httpClient HTTPClient

	// logger receives diagnostic messages.
	logger Logger
}

// newHubClient creates a new Hub client.
// The endpoint is normalized by removing any trailing slashes.
func newHubClient(endpoint, token, userAgent string, client HTTPClient, logger Logger) *hubClient {
	return &hubClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		userAgent:  userAgent,
		httpClient: client,
		logger:     logger,
	}
}

// newRequest builds a GET request with auth and user agent headers.
func (c *hubClient) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// escapePath escapes each segment of a repository file path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// repoInfoURL returns the metadata URL of a repository revision.
func (c *hubClient) repoInfoURL(ref RepoRef, revision string) string {
	return fmt.Sprintf("%s/api/%s/%s/revision/%s?blobs=true",
		c.endpoint, ref.repoType().plural(), escapePath(ref.ID), url.PathEscape(revision))
}

// resolveURL returns the download URL of a file at a commit.
func (c *hubClient) resolveURL(ref RepoRef, commit, filename string) string {
	return fmt.Sprintf("%s/%s%s/resolve/%s/%s",
		c.endpoint, ref.repoType().urlPrefix(), escapePath(ref.ID), url.PathEscape(commit), escapePath(filename))
}

// fetchRepoInfo resolves a revision and lists the files at its commit.
func (c *hubClient) fetchRepoInfo(ctx context.Context, ref RepoRef, revision string) (RepoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, c.repoInfoURL(ref, revision))
	if err != nil {
		return RepoInfo{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RepoInfo{}, fmt.Errorf("fetching info for %s: %w: %v", ref, ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, ref); err != nil {
		return RepoInfo{}, fmt.Errorf("fetching info for %s@%s: %w", ref, revision, err)
	}

	var body repoInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return RepoInfo{}, fmt.Errorf("parsing info for %s: %w", ref, ErrHubError)
	}
	if body.SHA == "" {
		return RepoInfo{}, fmt.Errorf("info for %s has no commit: %w", ref, ErrHubError)
	}

	info := RepoInfo{
		Ref:      ref,
		Revision: revision,
		Commit:   body.SHA,
		Files:    make([]FileInfo, 0, len(body.Siblings)),
	}
	switch g := body.Gated.(type) {
	case bool:
		info.Gated = g
	case string:
		info.Gated = g != "" && g != "false"
	}
	for _, s := range body.Siblings {
		f := FileInfo{Path: s.RFilename, Size: s.Size, Etag: s.BlobID}
		if s.LFS != nil {
			f.LFS = true
			f.Size = s.LFS.Size
			f.Etag = s.LFS.SHA256
		}
		if f.Etag == "" {
			return RepoInfo{}, fmt.Errorf("file %s of %s has no blob id: %w", s.RFilename, ref, ErrHubError)
		}
		info.Files = append(info.Files, f)
	}

	c.logger.Debug("resolved revision", "repo", ref.String(), "revision", revision, "commit", info.Commit, "files", len(info.Files))
	return info, nil
}

// openFile starts the download of a file at a commit. A positive offset asks
// the Hub to resume with a Range request; resumed reports whether it did.
// The caller must close the returned body.
func (c *hubClient) openFile(ctx context.Context, ref RepoRef, commit, filename string, offset int64) (body io.ReadCloser, resumed bool, err error) {
	req, err := c.newRequest(ctx, c.resolveURL(ref, commit, filename))
	if err != nil {
		return nil, false, err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetching %s: %w: %v", filename, ErrNetworkError, err)
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		return resp.Body, true, nil
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// The partial file is already complete or larger than the blob.
		resp.Body.Close()
		return c.openFile(ctx, ref, commit, filename, 0)
	}

	if err := checkResponse(resp, ref); err != nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound && !hasErrorCode(resp) {
			err = ErrEntryNotFound
		}
		return nil, false, fmt.Errorf("fetching %s: %w", filename, err)
	}
	return resp.Body, false, nil
}

// hasErrorCode reports whether the Hub classified the error in a header.
func hasErrorCode(resp *http.Response) bool {
	return resp.Header.Get("X-Error-Code") != ""
}

// checkResponse maps a non-2xx Hub response to a sentinel error.
func checkResponse(resp *http.Response, ref RepoRef) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := resp.Header.Get("X-Error-Message")
	if msg == "" {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg = strings.TrimSpace(string(snippet))
	}

	var sentinel error
	switch resp.Header.Get("X-Error-Code") {
	case "RepoNotFound":
		sentinel = ErrRepoNotFound
	case "RevisionNotFound":
		sentinel = ErrRevisionNotFound
	case "EntryNotFound":
		sentinel = ErrEntryNotFound
	case "GatedRepo":
		sentinel = ErrGatedRepo
	default:
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			sentinel = ErrUnauthorized
		case http.StatusNotFound:
			sentinel = ErrRepoNotFound
		default:
			sentinel = ErrHubError
		}
	}

	if msg == "" {
		return fmt.Errorf("%s: status %d: %w", ref, resp.StatusCode, sentinel)
	}
	return fmt.Errorf("%s: status %d: %s: %w", ref, resp.StatusCode, msg, sentinel)
}

// progressReader wraps an io.Reader and reports progress as bytes are read.
type progressReader struct {
	reader     io.Reader
	onProgress func(delta int64)
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 && pr.onProgress != nil {
		pr.onProgress(int64(n))
	}
	return
}
