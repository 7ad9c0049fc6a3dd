package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrUnknownEncoding is returned for encoding names ReadCSV cannot decode.
var ErrUnknownEncoding = errors.New("unknown encoding")

// LookupEncoding resolves an encoding name. UTF-8 input has its byte order
// mark stripped.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM, nil
	case "gbk", "gb2312":
		return simplifiedchinese.GBK, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEncoding, name)
}

// ReadCSV tokenizes a CSV stream whose first record is the header row.
// Blank lines are skipped; short rows are padded with empty values.
func ReadCSV(r io.Reader, encodingName string) ([]Row, error) {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(transform.NewReader(r, enc.NewDecoder()))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("unable to read header: %w", err)
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("unable to read CSV: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		rows = append(rows, buildRow(headers, record))
	}
	return rows, nil
}
