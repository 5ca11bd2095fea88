// Package record writes per-cycle telemetry of a run as zstd-compressed JSON
// lines and reads it back.
package record

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/thruflo/autodrive/internal/sim"
)

// Extension is the conventional suffix of a recording.
const Extension = ".jsonl.zst"

// Record is one line of a recording.
type Record struct {
	Cycle          int                `json:"cycle"`
	Frame          uint64             `json:"frame"`
	ElapsedSeconds float64            `json:"elapsed_seconds"`
	Location       sim.Location       `json:"location"`
	SpeedKmh       float64            `json:"speed_kmh"`
	Destination    *sim.Location      `json:"destination,omitempty"`
	Control        sim.VehicleControl `json:"control"`
	Event          string             `json:"event,omitempty"`
}

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("recorder closed")

// Writer appends records to a zstd stream.
type Writer struct {
	mu     sync.Mutex
	closer io.Closer
	enc    *zstd.Encoder
	w      *bufio.Writer
	count  int
}

// Create creates the file at path, and its parent directory, and returns a
// Writer on it.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter returns a Writer on out. Close does not close out.
func NewWriter(out io.Writer) (*Writer, error) {
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &Writer{
		enc: enc,
		w:   bufio.NewWriterSize(enc, 64*1024),
	}, nil
}

// Write appends r as one line.
func (w *Writer) Write(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return ErrClosed
	}

	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes buffered records and finishes the zstd frame.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}

	var errs []error
	if err := w.w.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := w.enc.Close(); err != nil {
		errs = append(errs, err)
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	w.w = nil
	return errors.Join(errs...)
}

// Reader iterates over the records of a recording.
type Reader struct {
	dec  *zstd.Decoder
	sc   *bufio.Scanner
	line int
	cur  Record
	err  error
}

// NewReader returns a Reader decoding in.
func NewReader(in io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	return &Reader{dec: dec, sc: sc}, nil
}

// Next advances to the next record. It returns false at the end of the
// stream or on error; Err tells them apart.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	for r.sc.Scan() {
		r.line++
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			r.err = fmt.Errorf("line %d: %w", r.line, err)
			return false
		}
		r.cur = rec
		return true
	}
	r.err = r.sc.Err()
	return false
}

// Record returns the record read by the last call to Next.
func (r *Reader) Record() Record {
	return r.cur
}

// Err returns the first error met by Next.
func (r *Reader) Err() error {
	return r.err
}

// Close releases the decoder.
func (r *Reader) Close() {
	r.dec.Close()
}

// ReadFile reads every record of the recording at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	r, err := NewReader(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []Record
	for r.Next() {
		out = append(out, r.Record())
	}
	if err := r.Err(); err != nil {
		return out, fmt.Errorf("failed to read recording: %w", err)
	}
	return out, nil
}
