package sendlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileLog appends one address per line to a plain text file.
type FileLog struct {
	path string
	mu   sync.Mutex
}

// NewFileLog creates a FileLog at path. The file is created on first Append.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Path returns the backing file path.
func (l *FileLog) Path() string {
	return l.path
}

// Append opens the file in append mode and writes each recipient on its own
// line.
func (l *FileLog) Append(_ context.Context, _ string, recipients []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrStorageWrite, l.path, err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageWrite, l.path, err)
	}

	w := bufio.NewWriter(f)
	for _, r := range recipients {
		w.WriteString(r)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", ErrStorageWrite, l.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStorageWrite, l.path, err)
	}
	return nil
}

// Recent returns the last limit non-blank lines of the file.
func (l *FileLog) Recent(_ context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStorageRead, l.path, err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		entries = append(entries, Entry{Recipient: line})
		if limit > 0 && len(entries) > limit*2 {
			// Keep memory bounded on large logs.
			entries = append(entries[:0], entries[len(entries)-limit:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStorageRead, l.path, err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
