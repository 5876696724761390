package timing

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

var header = []string{"input_file", "output_file", "start_time", "end_time", "duration"}

// Record is one timing row for an executed run. Skipped runs never produce a
// record, so row counts reflect work actually performed.
type Record struct {
	InputFile  string
	OutputDir  string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// FileName returns the per-range CSV name. Encoding the range keeps
// concurrently-running drivers over disjoint ranges off each other's files.
func FileName(start, end int) string {
	return fmt.Sprintf("timing_results_%d.%d.csv", start, end)
}

// Writer appends timing records to a CSV file, creating it with a header row
// on first append. Records are flushed per append; the file is never rewritten.
type Writer struct {
	path string

	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// NewWriter builds a Writer targeting path. The file is not touched until the
// first Append, so a driver that only skips runs leaves no CSV behind.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Append writes one record, opening the file and emitting the header first if
// the file is new or empty.
func (w *Writer) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return err
	}

	row := []string{
		rec.InputFile,
		rec.OutputDir,
		rec.StartedAt.Format(timestampLayout),
		rec.FinishedAt.Format(timestampLayout),
		strconv.FormatFloat(rec.Duration.Seconds(), 'f', 2, 64),
	}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("write timing row: %w", err)
	}

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flush timing row: %w", err)
	}
	return nil
}

func (w *Writer) open() error {
	if w.file != nil {
		return nil
	}

	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open timing file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat timing file: %w", err)
	}

	w.file = file
	w.csv = csv.NewWriter(file)

	if info.Size() == 0 {
		if err := w.csv.Write(header); err != nil {
			return fmt.Errorf("write timing header: %w", err)
		}
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			return fmt.Errorf("flush timing header: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the underlying file if one was opened.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	flushErr := w.csv.Error()
	closeErr := w.file.Close()
	w.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
