// Package reader turns a flat input file into a lazy sequence of row chunks.
// It is a pure format-decode boundary: no validation, cleaning, or business
// interpretation happens here. Format is selected by file extension; the two
// supported formats are CSV with a header row and newline-delimited JSON
// (one object per line).
package reader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ingest/pkg/records"
)

// ErrUnsupportedFormat is returned by Open when the file extension is not one
// of the supported set (.csv, .json).
var ErrUnsupportedFormat = errors.New("unsupported file format")

// chunkSource yields one row at a time; io.EOF signals exhaustion.
type chunkSource interface {
	next() (records.Record, error)
}

// Reader produces fixed-size row chunks from a single input file. It is
// lazy, finite, and non-restartable; the final chunk may be smaller than the
// configured size. Not safe for concurrent use.
type Reader struct {
	src       chunkSource
	f         *os.File
	chunkSize int
	done      bool
}

// Open opens path and prepares a chunked reader emitting chunks of at most
// chunkSize rows. It fails with a wrapped fs.ErrNotExist when the file is
// absent and ErrUnsupportedFormat for unknown extensions.
func Open(path string, chunkSize int) (*Reader, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", chunkSize)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv", ".json":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}

	var src chunkSource
	switch ext {
	case ".csv":
		src, err = newCSVSource(f)
		if err != nil {
			f.Close()
			return nil, err
		}
	case ".json":
		src = newJSONSource(f)
	}

	return &Reader{src: src, f: f, chunkSize: chunkSize}, nil
}

// Next returns the next chunk of rows, or io.EOF after the last chunk has
// been handed out. A decode error mid-file is returned as-is and ends the
// sequence.
func (r *Reader) Next() ([]records.Record, error) {
	if r.done {
		return nil, io.EOF
	}

	chunk := make([]records.Record, 0, r.chunkSize)
	for len(chunk) < r.chunkSize {
		rec, err := r.src.next()
		if err == io.EOF {
			r.done = true
			if len(chunk) == 0 {
				return nil, io.EOF
			}
			return chunk, nil
		}
		if err != nil {
			r.done = true
			return nil, err
		}
		chunk = append(chunk, rec)
	}
	return chunk, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}
