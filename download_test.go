package hub

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func gitBlobSHA1(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func TestVerifyBlob(t *testing.T) {
	content := []byte("tile 0,0 of a whole slide image")
	sum := sha256.Sum256(content)
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		file    FileInfo
		wantErr error
	}{
		{
			name: "lfs sha256",
			file: FileInfo{Size: int64(len(content)), Etag: hex.EncodeToString(sum[:]), LFS: true},
		},
		{
			name: "git blob sha1",
			file: FileInfo{Size: int64(len(content)), Etag: gitBlobSHA1(content)},
		},
		{
			name: "uppercase etag",
			file: FileInfo{Size: int64(len(content)), Etag: fmt.Sprintf("%X", sum[:])},
		},
		{
			name:    "wrong sha256",
			file:    FileInfo{Size: int64(len(content)), Etag: fmt.Sprintf("%064d", 0), LFS: true},
			wantErr: ErrHashMismatch,
		},
		{
			name:    "wrong size in git header",
			file:    FileInfo{Size: int64(len(content)) + 1, Etag: gitBlobSHA1(content)},
			wantErr: ErrHashMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyBlob(path, tt.file)
			if tt.wantErr == nil && err != nil {
				t.Errorf("verifyBlob() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("verifyBlob() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyBlobMissingFile(t *testing.T) {
	err := verifyBlob(filepath.Join(t.TempDir(), "missing"), FileInfo{Etag: fmt.Sprintf("%040d", 0)})
	if !errors.Is(err, ErrStorageError) {
		t.Errorf("verifyBlob() error = %v, want ErrStorageError", err)
	}
}

func TestShortEtag(t *testing.T) {
	if got := shortEtag("0123456789"); got != "01234567" {
		t.Errorf("shortEtag() = %q", got)
	}
	if got := shortEtag("abc"); got != "abc" {
		t.Errorf("shortEtag() = %q", got)
	}
}
