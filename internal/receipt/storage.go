package receipt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathExists is returned when saving to a path that is already taken.
var ErrPathExists = errors.New("storage path already exists")

// Storage defines the interface for file storage operations. Paths are
// relative, slash-separated, and may contain one level of nesting
// ("{tripID}/{filename}"). Saving to an existing path is rejected.
type Storage interface {
	// Save stores a file and returns the path it was stored under
	Save(path string, data []byte) (string, error)

	// Get retrieves a file by path
	Get(path string) ([]byte, error)

	// Delete removes a file
	Delete(path string) error
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save stores a file to local storage. Existing paths are rejected so a
// stored image is never silently replaced.
func (l *LocalStorage) Save(path string, data []byte) (string, error) {
	fullPath := filepath.Join(l.basePath, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("creating storage directory: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrPathExists, path)
		}
		return "", fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return path, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(path string) ([]byte, error) {
	fullPath := filepath.Join(l.basePath, filepath.FromSlash(path))
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(path string) error {
	fullPath := filepath.Join(l.basePath, filepath.FromSlash(path))
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// storageURLMarker is the bucket segment found in signed storage URLs.
const storageURLMarker = "/receipt-images/"

// ExtractStoragePath turns a signed storage URL into the bare object path.
// A non-URL input is assumed to already be a storage path and is returned
// unchanged.
func ExtractStoragePath(imageURL string) string {
	if !strings.HasPrefix(imageURL, "http") {
		return imageURL
	}

	idx := strings.Index(imageURL, storageURLMarker)
	if idx == -1 {
		return imageURL
	}

	path := imageURL[idx+len(storageURLMarker):]
	if q := strings.Index(path, "?"); q != -1 {
		path = path[:q]
	}
	return path
}
