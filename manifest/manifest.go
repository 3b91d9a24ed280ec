// Package manifest keeps a JSONL ledger of every message a conversion run
// wrote, so a later audit can tell which descriptor ids went missing.
package manifest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type Record struct {
	DescriptorID uint64 `json:"descriptor_id"`
	Folder       string `json:"folder"`
	Subject      string `json:"subject,omitempty"`
}

// Recorder receives one record per appended message.
type Recorder interface {
	Record(rec Record) error
}

// Writer appends records to a manifest file through a buffered writer.
type Writer struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	count  int
	mu     sync.Mutex
}

// Create truncates or creates the manifest at path.
func Create(path string) (*Writer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("manifest path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open manifest file: %w", err)
	}

	return &Writer{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
	}, nil
}

func (w *Writer) Record(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode manifest record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return fmt.Errorf("manifest %s is closed", w.path)
	}
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("write manifest record: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes and closes the manifest file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	var firstErr error
	if err := w.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush manifest file: %w", err)
	}
	if err := w.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync manifest file: %w", err)
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close manifest file: %w", err)
	}
	w.file, w.writer = nil, nil

	return firstErr
}

// Load reads every record of the manifest at path.
func Load(path string) ([]Record, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open manifest file: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record Record
		if err := json.Unmarshal(text, &record); err != nil {
			return nil, fmt.Errorf("parse manifest line %d: %w", line, err)
		}
		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest file: %w", err)
	}

	return records, nil
}

// IDs returns the ascending unique descriptor ids of records.
func IDs(records []Record) []uint64 {
	seen := make(map[uint64]struct{}, len(records))
	ids := make([]uint64, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.DescriptorID]; ok {
			continue
		}
		seen[r.DescriptorID] = struct{}{}
		ids = append(ids, r.DescriptorID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Missing returns the ids in want that are absent from have. Both slices
// must be sorted ascending.
func Missing(want, have []uint64) []uint64 {
	var missing []uint64
	j := 0
	for _, id := range want {
		for j < len(have) && have[j] < id {
			j++
		}
		if j < len(have) && have[j] == id {
			continue
		}
		missing = append(missing, id)
	}
	return missing
}
