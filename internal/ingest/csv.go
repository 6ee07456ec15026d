package ingest

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/camphq/bunkreq/internal/model"
)

// ReadCSV loads a CSV registration export.
func ReadCSV(path string, opts Options) ([]model.ParseRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open csv")
	}
	defer f.Close()

	header, rows, err := readCSVRows(f)
	if err != nil {
		return nil, err
	}
	return FromRows(header, rows, opts), nil
}

func readCSVRows(r io.Reader) (header []string, rows [][]string, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true

	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return header, rows, nil
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "ingest: read csv row")
		}
		if first {
			header = record
			first = false
			continue
		}
		rows = append(rows, record)
	}
}
