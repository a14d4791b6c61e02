package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// FileMetadata describes a stored attachment binary.
type FileMetadata struct {
	OriginalName string
	ContentType  string
	Size         int64
	StoragePath  string
	URL          string
	StoredAt     time.Time
}

// StorageService abstracts where attachment binaries live.
type StorageService interface {
	Store(ctx context.Context, storagePath string, src io.Reader, meta FileMetadata) (*FileMetadata, error)
	Retrieve(ctx context.Context, storagePath string) (io.ReadCloser, error)
	Delete(ctx context.Context, storagePath string) error
	Exists(ctx context.Context, storagePath string) (bool, error)
}

// FilesystemStorageService stores attachment binaries under a base directory
// and serves them from a base URL.
type FilesystemStorageService struct {
	basePath string
	baseURL  string
}

// NewFilesystemStorageService roots the storage backend at basePath.
func NewFilesystemStorageService(basePath, baseURL string) *FilesystemStorageService {
	return &FilesystemStorageService{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Store writes the binary and returns its final metadata, including the URL
// callers embed in note bodies.
func (s *FilesystemStorageService) Store(ctx context.Context, storagePath string, src io.Reader, meta FileMetadata) (*FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := s.cleanPath(storagePath)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(s.basePath, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	dst, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("create storage file: %w", err)
	}
	defer dst.Close()
	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(full)
		return nil, fmt.Errorf("write storage file: %w", err)
	}
	stored := meta
	stored.Size = size
	stored.StoragePath = clean
	stored.URL = s.baseURL + "/" + clean
	stored.StoredAt = time.Now().UTC()
	return &stored, nil
}

// Retrieve opens a stored binary for reading.
func (s *FilesystemStorageService) Retrieve(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := s.cleanPath(storagePath)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.basePath, filepath.FromSlash(clean)))
}

// Delete removes a stored binary.
func (s *FilesystemStorageService) Delete(ctx context.Context, storagePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := s.cleanPath(storagePath)
	if err != nil {
		return err
	}
	return os.Remove(filepath.Join(s.basePath, filepath.FromSlash(clean)))
}

// Exists reports whether a binary is present.
func (s *FilesystemStorageService) Exists(ctx context.Context, storagePath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	clean, err := s.cleanPath(storagePath)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(filepath.Join(s.basePath, filepath.FromSlash(clean)))
	if statErr == nil {
		return true, nil
	}
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return false, statErr
}

func (s *FilesystemStorageService) cleanPath(storagePath string) (string, error) {
	slashed := strings.ReplaceAll(storagePath, "\\", "/")
	// Reject traversal components outright instead of normalizing them away.
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid storage path %q", storagePath)
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid storage path %q", storagePath)
	}
	return clean, nil
}

// AttachmentStoragePath derives the canonical storage location for a reply
// attachment. Paths are keyed on the reply key rather than the note id so
// binaries can be stored before the note row exists.
func AttachmentStoragePath(replyKey, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "" || base == "." {
		base = "attachment.bin"
	}
	return fmt.Sprintf("replies/%s/%s", replyKey, base)
}
