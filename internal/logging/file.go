package logging

import (
	"fmt"
	"os"
	"sync"
)

// FileWriter is a log sink backed by an append-only file. It supports
// reopening its path in place, which is how the daemon cooperates with
// external logrotate: rotate the file, then signal the daemon to reopen.
type FileWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileWriter opens path for appending, creating it if necessary.
func NewFileWriter(path string) (*FileWriter, error) {
	fw := &FileWriter{path: path}
	if err := fw.open(); err != nil {
		return nil, err
	}
	return fw, nil
}

func (fw *FileWriter) open() error {
	f, err := os.OpenFile(fw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("cannot open log file: %s: %w", fw.path, err)
	}
	fw.file = f
	return nil
}

// Write implements io.Writer.
func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.file == nil {
		return len(p), nil
	}
	return fw.file.Write(p)
}

// Reopen closes and reopens the underlying file. Called after external
// rotation has moved the original file aside.
func (fw *FileWriter) Reopen() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.file != nil {
		fw.file.Close()
		fw.file = nil
	}
	return fw.open()
}

// Close closes the underlying file.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.file == nil {
		return nil
	}
	err := fw.file.Close()
	fw.file = nil
	return err
}

// Path returns the configured file path.
func (fw *FileWriter) Path() string { return fw.path }
