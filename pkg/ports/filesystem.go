package ports

import "io"

// FileSystem abstracts file system operations.
type FileSystem interface {
	// ReadFile reads the entire contents of a file.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to a file, creating it if necessary.
	WriteFile(path string, data []byte) error

	// Create creates or truncates a file for streaming writes.
	Create(path string) (io.WriteCloser, error)

	// Open opens a file for random-access reads.
	Open(path string) (ReadSeekCloser, error)

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string) error

	// Exists checks if a file or directory exists.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory.
	Remove(path string) error
}

// ReadSeekCloser is a seekable input such as an opened media file.
type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}
