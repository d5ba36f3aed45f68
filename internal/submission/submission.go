// Package submission reads a submission template and writes predictions in
// its schema and row order.
package submission

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	dgerrors "github.com/paveg/damagegrade/internal/errors"
)

// Template is the row order and column naming a submission must follow.
type Template struct {
	IndexColumn string
	Column      string
	IDs         []int64
}

// ReadTemplate parses a template whose first column is the row id and whose
// second and only other column names the prediction. Prediction values in
// the template are ignored.
func ReadTemplate(r io.Reader) (*Template, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, dgerrors.NewInputError("ReadTemplate", "template is empty", nil)
	}
	if err != nil {
		return nil, dgerrors.NewInputError("ReadTemplate", "reading header", err)
	}
	if len(header) != 2 {
		return nil, dgerrors.NewSchemaError("ReadTemplate",
			fmt.Sprintf("template must have an index and one prediction column, got %d columns", len(header)))
	}

	tmpl := &Template{
		IndexColumn: strings.TrimSpace(header[0]),
		Column:      strings.TrimSpace(header[1]),
	}
	seen := make(map[int64]int)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, dgerrors.NewInputError("ReadTemplate", fmt.Sprintf("reading line %d", line), err)
		}
		if len(record) != 2 {
			return nil, dgerrors.NewInputError("ReadTemplate",
				fmt.Sprintf("line %d has %d fields, expected 2", line, len(record)), nil)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
		if err != nil {
			return nil, dgerrors.NewValidationError("ReadTemplate", tmpl.IndexColumn,
				fmt.Sprintf("line %d: %q is not an integer id", line, record[0]))
		}
		if prev, dup := seen[id]; dup {
			return nil, dgerrors.NewValidationError("ReadTemplate", tmpl.IndexColumn,
				fmt.Sprintf("id %d repeated on lines %d and %d", id, prev, line))
		}
		seen[id] = line
		tmpl.IDs = append(tmpl.IDs, id)
	}
	return tmpl, nil
}

// ReadTemplateFile opens path and reads it as a template.
func ReadTemplateFile(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dgerrors.NewInputError("ReadTemplate", fmt.Sprintf("opening %s", path), err)
	}
	defer f.Close()
	return ReadTemplate(f)
}

// Write emits one row per template id, in template order, with the
// template's header. Every id must have a prediction.
func Write(w io.Writer, tmpl *Template, predictions map[int64]int64) error {
	for _, id := range tmpl.IDs {
		if _, ok := predictions[id]; !ok {
			return dgerrors.NewValidationError("WriteSubmission", tmpl.IndexColumn,
				fmt.Sprintf("no prediction for id %d", id))
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{tmpl.IndexColumn, tmpl.Column}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	row := make([]string, 2)
	for _, id := range tmpl.IDs {
		row[0] = strconv.FormatInt(id, 10)
		row[1] = strconv.FormatInt(predictions[id], 10)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing id %d: %w", id, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the submission to path.
func WriteFile(path string, tmpl *Template, predictions map[int64]int64) error {
	f, err := os.Create(path)
	if err != nil {
		return dgerrors.NewInputError("WriteSubmission", fmt.Sprintf("creating %s", path), err)
	}
	if err := Write(f, tmpl, predictions); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Predictions pairs ids with predicted labels.
func Predictions(ids []int64, labels []int) (map[int64]int64, error) {
	if len(ids) != len(labels) {
		return nil, dgerrors.NewSchemaError("Predictions",
			fmt.Sprintf("%d ids but %d predictions", len(ids), len(labels)))
	}
	out := make(map[int64]int64, len(ids))
	for i, id := range ids {
		out[id] = int64(labels[i])
	}
	return out, nil
}
