package hub

import "errors"

// Sentinel errors for hub operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrRepoNotFound indicates the repository does not exist, or is private
	// and the request was not authenticated.
	ErrRepoNotFound = errors.New("hub: repository not found")

	// ErrRevisionNotFound indicates the branch, tag or commit does not exist.
	ErrRevisionNotFound = errors.New("hub: revision not found")

	// ErrEntryNotFound indicates the file does not exist at the revision.
	ErrEntryNotFound = errors.New("hub: file not found in repository")

	// ErrUnauthorized indicates the Hub rejected the credentials.
	ErrUnauthorized = errors.New("hub: unauthorized")

	// ErrGatedRepo indicates the repository requires accepting access
	// conditions on the Hub before downloading.
	ErrGatedRepo = errors.New("hub: gated repository")

	// ErrHashMismatch indicates downloaded data failed etag verification.
	ErrHashMismatch = errors.New("hub: hash verification failed")

	// ErrNetworkError indicates a network or connection failure.
	ErrNetworkError = errors.New("hub: network error")

	// ErrStorageError indicates a filesystem operation failed.
	ErrStorageError = errors.New("hub: storage error")

	// ErrInvalidRef indicates an invalid repository reference.
	ErrInvalidRef = errors.New("hub: invalid repository reference")

	// ErrHubError indicates the Hub returned an unexpected or unparseable response.
	ErrHubError = errors.New("hub: invalid hub response")

	// ErrOffline indicates offline mode is on and the cache cannot satisfy
	// the request.
	ErrOffline = errors.New("hub: offline mode and no cached snapshot")

	// ErrNotCached indicates the repository or revision is not in the cache.
	ErrNotCached = errors.New("hub: not cached")
)
