package reader

import (
	"encoding/json"
	"fmt"
	"io"

	"ingest/pkg/records"
)

// jsonSource streams newline-delimited JSON: one object per line. A
// json.Decoder over the raw stream handles the interleaved whitespace without
// buffering the whole file, so very large inputs are safe.
type jsonSource struct {
	dec *json.Decoder
	n   int
}

func newJSONSource(r io.Reader) *jsonSource {
	return &jsonSource{dec: json.NewDecoder(r)}
}

func (s *jsonSource) next() (records.Record, error) {
	if !s.dec.More() {
		return nil, io.EOF
	}
	var rec records.Record
	if err := s.dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("json record %d: %w", s.n+1, err)
	}
	s.n++
	return rec, nil
}
