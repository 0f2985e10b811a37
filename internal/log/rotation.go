package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile is an io.WriteCloser that appends to a log file and
// rotates it once it exceeds maxSize bytes, keeping maxBackups numbered
// backups (file.1 is the newest).
type RotatingFile struct {
	mu sync.Mutex

	path       string
	maxSize    int64
	maxBackups int

	file *os.File
	size int64
}

// NewRotatingFile opens path for appending, creating parent directories
// as needed. maxSize is in bytes.
func NewRotatingFile(path string, maxSize int64, maxBackups int) (*RotatingFile, error) {
	rf := &RotatingFile{
		path:       path,
		maxSize:    maxSize,
		maxBackups: maxBackups,
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	if err := os.MkdirAll(filepath.Dir(rf.path), 0750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	rf.file = f
	rf.size = info.Size()
	return nil
}

// Write implements io.Writer, rotating first when the write would push
// the file past maxSize.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.size > 0 && rf.size+int64(len(p)) > rf.maxSize {
		if err := rf.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// rotate shifts file.N up by one, drops the oldest, moves the current
// file to file.1 and reopens. Caller holds mu.
func (rf *RotatingFile) rotate() error {
	if rf.file != nil {
		if err := rf.file.Close(); err != nil {
			return err
		}
		rf.file = nil
	}

	oldest := fmt.Sprintf("%s.%d", rf.path, rf.maxBackups)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return fmt.Errorf("remove oldest backup: %w", err)
		}
	}

	for i := rf.maxBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", rf.path, i)
		to := fmt.Sprintf("%s.%d", rf.path, i+1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("shift backup: %w", err)
			}
		}
	}

	if _, err := os.Stat(rf.path); err == nil {
		if err := os.Rename(rf.path, rf.path+".1"); err != nil {
			return fmt.Errorf("archive current log: %w", err)
		}
	}

	return rf.open()
}

// Close implements io.Closer.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}
