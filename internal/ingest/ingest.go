// internal/ingest/ingest.go
// Package ingest decodes detector samples from CSV files and JSON lines.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ColonelBlimp/fatiguedetector/internal/fatigue"
)

var (
	// ErrMissingField indicates a record without timestamp or amplitude
	ErrMissingField = errors.New("sample requires t and amplitude")
	// ErrColumnCount indicates a CSV row with the wrong number of columns
	ErrColumnCount = errors.New("expected 2 or 3 columns: t,amplitude[,spectral]")
)

// maxLineBytes bounds a single JSON line.
const maxLineBytes = 64 * 1024

// Record is the JSON wire form of a sample.
type Record struct {
	T         *float64 `json:"t"`
	Amplitude *float64 `json:"amplitude"`
	Spectral  *float64 `json:"spectral,omitempty"`
}

// Sample converts the record into a detector sample.
func (r Record) Sample() (fatigue.Sample, error) {
	if r.T == nil || r.Amplitude == nil {
		return fatigue.Sample{}, ErrMissingField
	}
	s := fatigue.NewSample(*r.T, *r.Amplitude)
	if r.Spectral != nil {
		s = s.WithSpectral(*r.Spectral)
	}
	return s, nil
}

// FromSample builds the wire form of a sample.
func FromSample(s fatigue.Sample) Record {
	t, a := s.Timestamp, s.Amplitude
	return Record{T: &t, Amplitude: &a, Spectral: s.Spectral}
}

// Decode parses one JSON sample.
func Decode(line []byte) (fatigue.Sample, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return fatigue.Sample{}, fmt.Errorf("decode sample: %w", err)
	}
	return r.Sample()
}

// Reader iterates JSON-line samples. Blank lines are skipped.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader creates a JSON-lines reader.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &Reader{scanner: sc}
}

// Next returns the next sample, or io.EOF when the input is exhausted.
func (r *Reader) Next() (fatigue.Sample, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s, err := Decode(line)
		if err != nil {
			return fatigue.Sample{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return s, nil
	}
	if err := r.scanner.Err(); err != nil {
		return fatigue.Sample{}, fmt.Errorf("read samples: %w", err)
	}
	return fatigue.Sample{}, io.EOF
}

// ParseCSV reads t,amplitude[,spectral] rows. A header row is detected and
// skipped when its first column is not numeric. An empty spectral cell means
// no spectral value for that row.
func ParseCSV(r io.Reader) ([]fatigue.Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var samples []fatigue.Sample
	for first := true; ; first = false {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if first && isHeader(rec) {
			continue
		}
		s, err := parseRow(rec)
		if err != nil {
			// comment lines are skipped by the reader, so ask it for the file line
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		samples = append(samples, s)
	}
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	return err != nil
}

func parseRow(rec []string) (fatigue.Sample, error) {
	if len(rec) < 2 || len(rec) > 3 {
		return fatigue.Sample{}, ErrColumnCount
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	if err != nil {
		return fatigue.Sample{}, fmt.Errorf("timestamp: %w", err)
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	if err != nil {
		return fatigue.Sample{}, fmt.Errorf("amplitude: %w", err)
	}
	s := fatigue.NewSample(t, a)
	if len(rec) == 3 && strings.TrimSpace(rec[2]) != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return fatigue.Sample{}, fmt.Errorf("spectral: %w", err)
		}
		s = s.WithSpectral(v)
	}
	return s, nil
}
