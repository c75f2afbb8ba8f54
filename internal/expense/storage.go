package expense

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage defines the interface for receipt image storage. Records own a
// reference to the stored image, never the bytes.
type Storage interface {
	// Save saves an image and returns its reference
	Save(name string, data []byte) (string, error)

	// Get retrieves an image by reference
	Get(ref string) ([]byte, error)

	// Delete removes an image
	Delete(ref string) error
}

// LocalStorage implements the Storage interface on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save writes an image to local storage and returns its reference
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	if err := os.WriteFile(filepath.Join(l.basePath, name), data, 0644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return name, nil
}

// Get reads an image back by reference
func (l *LocalStorage) Get(ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, ref))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}

// Delete removes an image from local storage
func (l *LocalStorage) Delete(ref string) error {
	if err := os.Remove(filepath.Join(l.basePath, ref)); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}
