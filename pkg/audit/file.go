package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileLog stores audit events as JSONL, one file per UTC day
// (YYYY-MM-DD.jsonl). Appends go to the current day's file; pruning drops
// whole files older than the cutoff day and filters the boundary file.
type FileLog struct {
	dir       string
	mu        sync.Mutex
	file      *os.File
	currentFn string
}

// NewFileLog creates a file-backed log rooted at dir.
func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &FileLog{dir: dir}, nil
}

// Append writes one event as a JSONL line.
func (l *FileLog) Append(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = newEventID()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fn := filepath.Join(l.dir, time.UnixMilli(event.Timestamp).UTC().Format("2006-01-02")+".jsonl")
	if l.currentFn != fn {
		if l.file != nil {
			_ = l.file.Close()
		}
		f, err := os.OpenFile(fn, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("failed to open audit file: %w", err)
		}
		l.file = f
		l.currentFn = fn
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Query scans all day files and returns matching events newest-first.
func (l *FileLog) Query(ctx context.Context, q Query) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := l.dayFiles()
	if err != nil {
		return nil, err
	}

	var out []Event
	// Newest files first; events within a file are appended in order, so
	// read and reverse per file.
	for i := len(files) - 1; i >= 0; i-- {
		events, err := readEvents(files[i])
		if err != nil {
			return nil, err
		}
		for j := len(events) - 1; j >= 0; j-- {
			if !q.matches(events[j]) {
				continue
			}
			out = append(out, events[j])
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Prune removes events with Timestamp < before.
func (l *FileLog) Prune(ctx context.Context, before int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
		l.currentFn = ""
	}

	files, err := l.dayFiles()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, fn := range files {
		events, err := readEvents(fn)
		if err != nil {
			return removed, err
		}
		var kept []Event
		for _, e := range events {
			if e.Timestamp < before {
				removed++
			} else {
				kept = append(kept, e)
			}
		}
		if len(kept) == len(events) {
			continue
		}
		if len(kept) == 0 {
			if err := os.Remove(fn); err != nil {
				return removed, fmt.Errorf("failed to remove audit file: %w", err)
			}
			continue
		}
		if err := writeEvents(fn, kept); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// dayFiles lists the day files sorted ascending by name (and so by date).
func (l *FileLog) dayFiles() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		out = append(out, filepath.Join(l.dir, entry.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func readEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("corrupt audit line in %s: %w", path, err)
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}

func writeEvents(path string, events []Event) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create audit file: %w", err)
	}
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
