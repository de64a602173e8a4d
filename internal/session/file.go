package session

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is a document chosen for upload. Open may be called more than once, so a
// failed upload can be retried with the same draft.
type File interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type localFile struct {
	path string
	size int64
}

// OpenLocalFile returns a File for the regular file at path.
func OpenLocalFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &localFile{path: path, size: info.Size()}, nil
}

func (f *localFile) Name() string                 { return filepath.Base(f.path) }
func (f *localFile) Size() int64                  { return f.size }
func (f *localFile) Open() (io.ReadCloser, error) { return os.Open(f.path) }

type memoryFile struct {
	name string
	data []byte
}

// NewMemoryFile returns a File holding data in memory.
func NewMemoryFile(name string, data []byte) File {
	return &memoryFile{name: name, data: data}
}

func (f *memoryFile) Name() string { return f.name }
func (f *memoryFile) Size() int64  { return int64(len(f.data)) }
func (f *memoryFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
