// Package dataset reads the flat-file patient dataset.
//
// Each patient occupies four consecutive lines:
//
//	<patient id>
//	<diagnosis label>
//	<present symptoms>
//	<absent symptoms>
//
// Symptom lines are separated by commas and/or whitespace. An empty symptom
// line means an empty set.
package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

const linesPerRecord = 4

// Record is one patient read from the dataset.
type Record struct {
	ID        int64
	Diagnosis string
	Present   []string
	Absent    []string
}

// ReadFile parses the dataset at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	records, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Parse reads records from r. Trailing blank lines are ignored.
func Parse(r io.Reader) ([]Record, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	lines = trimTrailingBlank(lines)
	if len(lines)%linesPerRecord != 0 {
		start := len(lines) - len(lines)%linesPerRecord + 1
		return nil, fmt.Errorf("line %d: truncated record, expected %d lines per patient", start, linesPerRecord)
	}

	records := make([]Record, 0, len(lines)/linesPerRecord)
	seen := make(map[int64]int)
	for i := 0; i < len(lines); i += linesPerRecord {
		lineNo := i + 1
		id, err := strconv.ParseInt(strings.TrimSpace(lines[i]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid patient id %q", lineNo, lines[i])
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("line %d: duplicate patient id %d (first seen on line %d)", lineNo, id, prev)
		}
		seen[id] = lineNo

		dx := strings.TrimSpace(lines[i+1])
		if dx == "" {
			return nil, fmt.Errorf("line %d: empty diagnosis for patient %d", lineNo+1, id)
		}

		records = append(records, Record{
			ID:        id,
			Diagnosis: dx,
			Present:   SplitSymptoms(lines[i+2]),
			Absent:    SplitSymptoms(lines[i+3]),
		})
	}
	return records, nil
}

// trimTrailingBlank drops blank lines at the end of the file without eating
// the empty symptom lines of the final record.
func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && isBlank(lines[len(lines)-1]) {
		if len(lines)%linesPerRecord == 0 && !allBlank(lines[len(lines)-linesPerRecord:]) {
			break
		}
		lines = lines[:len(lines)-1]
	}
	return lines
}

func isBlank(line string) bool { return strings.TrimSpace(line) == "" }

func allBlank(lines []string) bool {
	for _, l := range lines {
		if !isBlank(l) {
			return false
		}
	}
	return true
}

// SplitSymptoms splits a symptom line on commas and whitespace, dropping
// empty labels.
func SplitSymptoms(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}
