package source

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestReadCSVPairsHeadersWithValues(t *testing.T) {
	data := "Customer Name,Revenue,Tickets\n" +
		"Acme,1200,3\n" +
		"\n" +
		"\"Beta, Inc\",50\n"

	rows, err := ReadCSV(strings.NewReader(data), "")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, Row{"Customer Name": "Acme", "Revenue": "1200", "Tickets": "3"}, rows[0])
	assert.Equal(t, Row{"Customer Name": "Beta, Inc", "Revenue": "50", "Tickets": ""}, rows[1])
}

func TestReadCSVStripsBOM(t *testing.T) {
	data := "\ufeffname,email\nAcme,a@acme.io\n"

	rows, err := ReadCSV(strings.NewReader(data), "utf-8")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Acme", rows[0]["name"])
}

func TestReadCSVDecodesWindows1252(t *testing.T) {
	encoded, err := charmap.Windows1252.NewEncoder().String("name,company\nJosé,Café Ltd\n")
	require.NoError(t, err)

	rows, err := ReadCSV(bytes.NewReader([]byte(encoded)), "windows-1252")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "José", rows[0]["name"])
	assert.Equal(t, "Café Ltd", rows[0]["company"])
}

func TestReadCSVRepeatedHeaderKeepsFirstValue(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader("name,name\nAcme,Other\n,Second\n"), "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Acme", rows[0]["name"])
	assert.Equal(t, "Second", rows[1]["name"])
}

func TestReadCSVEmptyInput(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestReadCSVUnknownEncoding(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("name\n"), "ebcdic")
	assert.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestOpenRejectsUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "customers.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	_, err := Open(path, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOpenCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "customers.CSV")
	require.NoError(t, os.WriteFile(path, []byte("name\nAcme\nBeta\n"), 0o644))

	rows, err := Open(path, Options{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestReadDispatchesOnName(t *testing.T) {
	rows, err := Read("upload.csv", strings.NewReader("Customer Name,Revenue\nAcme,10\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, []Row{{"Customer Name": "Acme", "Revenue": "10"}}, rows)

	_, err = Read("upload.txt", strings.NewReader("name\n"), Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
