package filterimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyCSV is returned for input without a header row.
var ErrEmptyCSV = errors.New("filterimport: csv has no header row")

// WriteCSV writes the template with column keys as the header row.
func WriteCSV(w io.Writer, tpl *Template) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(tpl.Columns))
	for i, c := range tpl.Columns {
		header[i] = c.Key
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, row := range tpl.Rows {
		for i, key := range header {
			record[i] = row[key]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads rows keyed by the header row. A UTF-8 byte order mark on the
// first header is dropped.
func ReadCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, fmt.Errorf("filterimport: read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	var rows []map[string]string
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("filterimport: read csv row %d: %w", len(rows)+1, err)
		}
		row := make(map[string]string, len(header))
		for i, key := range header {
			if i < len(record) && key != "" {
				row[key] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
