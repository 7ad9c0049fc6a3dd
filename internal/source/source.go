// Package source turns uploaded customer files into header/value rows.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
	ErrUnsupportedFormat = errors.New("only CSV and XLSX files are supported")
	// ErrEmptyInput is returned when the file has no header row.
	ErrEmptyInput = errors.New("input has no header row")
)

// Row is one data row keyed by its raw, untouched header text.
type Row map[string]string

// Options control how a file is decoded.
type Options struct {
	// Encoding of CSV input: utf-8 (default), gbk, windows-1252 or latin1.
	Encoding string
	// Sheet to read from an XLSX workbook; the first sheet when empty.
	Sheet string
}

// Format identifies the tokenizer used for a file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

// Open reads every row of the file at path.
func Open(path string, opts Options) ([]Row, error) {
	if _, err := DetectFormat(path); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Read(path, file, opts)
}

// Read tokenizes r using the format implied by name's extension.
func Read(name string, r io.Reader, opts Options) ([]Row, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatXLSX:
		return ReadXLSX(r, opts.Sheet)
	default:
		return ReadCSV(r, opts.Encoding)
	}
}

// buildRow pairs headers with values. Missing trailing values become empty
// strings; a repeated header keeps its first non-empty value.
func buildRow(headers, values []string) Row {
	row := make(Row, len(headers))
	for i, header := range headers {
		value := ""
		if i < len(values) {
			value = values[i]
		}
		if existing, ok := row[header]; ok && strings.TrimSpace(existing) != "" {
			continue
		}
		row[header] = value
	}
	return row
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
