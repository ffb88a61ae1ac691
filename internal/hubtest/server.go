// Package hubtest provides an in-memory Hub server for tests.
package hubtest

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// File is a file served by the fake Hub.
type File struct {
	Content []byte
	LFS     bool
}

// Repo is a repository served by the fake Hub at a single commit.
type Repo struct {
	// Type is "model", "dataset" or "space".
	Type string

	// ID is "org/name".
	ID string

	// Commit is the 40-character commit hash every revision resolves to.
	Commit string

	// Files maps repository paths to content.
	Files map[string]File

	// Gated marks the repository as gated in its metadata.
	Gated bool
}

// Server is a fake Hub. Create one with NewServer.
type Server struct {
	*httptest.Server

	// Token, when set, is required as a bearer token on every request.
	Token string

	mu        sync.Mutex
	repos     map[string]*Repo
	downloads map[string]int
	ranges    []string
	infoCalls int
	failing   map[string]int
	corrupt   map[string]bool
}

// NewServer starts a fake Hub serving repos. It is closed with the test.
func NewServer(t testing.TB, repos ...*Repo) *Server {
	t.Helper()
	s := &Server{
		repos:     make(map[string]*Repo),
		downloads: make(map[string]int),
		failing:   make(map[string]int),
		corrupt:   make(map[string]bool),
	}
	for _, r := range repos {
		s.AddRepo(r)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// AddRepo registers or replaces a repository.
func (s *Server) AddRepo(r *Repo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[plural(r.Type)+"/"+r.ID] = r
}

// FailFile makes the next download of path fail with status.
func (s *Server) FailFile(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[path] = status
}

// CorruptFile makes every download of path serve content that does not
// match its etag.
func (s *Server) CorruptFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt[path] = true
}

// Downloads returns how many times path was served with a 2xx status.
func (s *Server) Downloads(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads[path]
}

// TotalDownloads returns the number of file bodies served.
func (s *Server) TotalDownloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.downloads {
		n += c
	}
	return n
}

// InfoCalls returns the number of metadata requests served.
func (s *Server) InfoCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoCalls
}

// Ranges returns the Range headers received, in order.
func (s *Server) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

// Etag returns the etag the Hub reports for a file.
func Etag(f File) string {
	if f.LFS {
		h := sha256.Sum256(f.Content)
		return hex.EncodeToString(h[:])
	}
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(f.Content))
	h.Write(f.Content)
	return hex.EncodeToString(h.Sum(nil))
}

func plural(t string) string {
	switch t {
	case "dataset":
		return "datasets"
	case "space":
		return "spaces"
	default:
		return "models"
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
		w.Header().Set("X-Error-Code", "RepoNotFound")
		http.Error(w, "Repository not found", http.StatusUnauthorized)
		return
	}

	p := strings.TrimPrefix(r.URL.Path, "/")
	if strings.HasPrefix(p, "api/") {
		s.handleInfo(w, strings.TrimPrefix(p, "api/"))
		return
	}
	s.handleResolve(w, r, p)
}

// handleInfo serves "{type}s/{id}/revision/{rev}".
func (s *Server) handleInfo(w http.ResponseWriter, p string) {
	key, rev, ok := strings.Cut(p, "/revision/")
	if !ok {
		http.NotFound(w, nil)
		return
	}

	s.mu.Lock()
	s.infoCalls++
	repo := s.repos[key]
	s.mu.Unlock()

	if repo == nil {
		w.Header().Set("X-Error-Code", "RepoNotFound")
		http.Error(w, "Repository not found", http.StatusNotFound)
		return
	}
	if rev != "main" && rev != repo.Commit {
		w.Header().Set("X-Error-Code", "RevisionNotFound")
		http.Error(w, "Invalid rev id: "+rev, http.StatusNotFound)
		return
	}

	type lfs struct {
		SHA256 string `json:"sha256"`
		Size   int    `json:"size"`
	}
	type sibling struct {
		RFilename string `json:"rfilename"`
		BlobID    string `json:"blobId"`
		Size      int    `json:"size"`
		LFS       *lfs   `json:"lfs,omitempty"`
	}

	names := make([]string, 0, len(repo.Files))
	for name := range repo.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	siblings := make([]sibling, 0, len(names))
	for _, name := range names {
		f := repo.Files[name]
		sb := sibling{RFilename: name, Size: len(f.Content)}
		if f.LFS {
			sb.BlobID = strings.Repeat("0", 40)
			sb.Size = 134
			sb.LFS = &lfs{SHA256: Etag(f), Size: len(f.Content)}
		} else {
			sb.BlobID = Etag(f)
		}
		siblings = append(siblings, sb)
	}

	var gated any = false
	if repo.Gated {
		gated = "manual"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":       repo.ID,
		"sha":      repo.Commit,
		"gated":    gated,
		"siblings": siblings,
	})
}

// handleResolve serves "[{type}s/]{id}/resolve/{commit}/{path}".
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, p string) {
	repoPath, rest, ok := strings.Cut(p, "/resolve/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !strings.HasPrefix(repoPath, "datasets/") && !strings.HasPrefix(repoPath, "spaces/") {
		repoPath = "models/" + repoPath
	}
	commit, name, _ := strings.Cut(rest, "/")

	s.mu.Lock()
	repo := s.repos[repoPath]
	status := s.failing[name]
	delete(s.failing, name)
	corrupt := s.corrupt[name]
	if rg := r.Header.Get("Range"); rg != "" {
		s.ranges = append(s.ranges, rg)
	}
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, "injected failure", status)
		return
	}
	if repo == nil {
		w.Header().Set("X-Error-Code", "RepoNotFound")
		http.Error(w, "Repository not found", http.StatusNotFound)
		return
	}
	f, ok := repo.Files[name]
	if !ok || commit != repo.Commit {
		w.Header().Set("X-Error-Code", "EntryNotFound")
		http.Error(w, "Entry not found", http.StatusNotFound)
		return
	}

	body := f.Content
	if corrupt {
		body = append([]byte("corrupted:"), body...)
	}
	code := http.StatusOK
	if rg := r.Header.Get("Range"); strings.HasPrefix(rg, "bytes=") {
		start, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rg, "bytes="), "-"))
		if err != nil || start >= len(body) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(body)-1, len(body)))
		body = body[start:]
		code = http.StatusPartialContent
	}

	s.mu.Lock()
	s.downloads[name]++
	s.mu.Unlock()

	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	w.Write(body)
}
