package reader

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"ingest/pkg/records"
)

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// csvSource streams a header-first CSV file row by row. Header names are kept
// exactly as they appear in the file (minus surrounding whitespace and a
// leading BOM); renaming to snake_case is the cleaner's job, not ours.
type csvSource struct {
	cr     *csv.Reader
	header []string
	line   int
}

func newCSVSource(r io.Reader) (*csvSource, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1 // tolerant by default; width enforced per row below

	hdr, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	header := make([]string, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		header[i] = h
	}
	return &csvSource{cr: cr, header: header, line: 1}, nil
}

func (s *csvSource) next() (records.Record, error) {
	row, err := s.cr.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	s.line++
	if err != nil {
		return nil, fmt.Errorf("csv line %d: %w", s.line, err)
	}

	rec := make(records.Record, len(s.header))
	for i, col := range s.header {
		if i >= len(row) {
			rec[col] = nil
			continue
		}
		v := row[i]
		if v == "" {
			rec[col] = nil
		} else {
			rec[col] = v
		}
	}
	return rec, nil
}
