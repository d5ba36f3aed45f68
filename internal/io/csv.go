package io

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/paveg/damagegrade/internal/dataframe"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/series"
)

const (
	trueStr  = "true"
	falseStr = "false"
)

type columnType int

const (
	stringColumn columnType = iota
	boolColumn
	intColumn
	floatColumn
)

// Read reads CSV data and returns a DataFrame
func (r *CSVReader) Read() (*dataframe.DataFrame, error) {
	csvReader := csv.NewReader(r.reader)
	csvReader.Comma = r.options.Delimiter
	csvReader.ReuseRecord = false

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, dgerrors.NewInputError("ReadCSV", "malformed CSV", err)
	}

	if len(records) == 0 {
		return dataframe.New(), nil
	}

	var headers []string
	var dataRows [][]string

	if r.options.Header {
		headers = records[0]
		dataRows = records[1:]
		if err := checkHeaders(headers); err != nil {
			return nil, err
		}
	} else {
		numCols := len(records[0])
		headers = make([]string, numCols)
		for i := 0; i < numCols; i++ {
			headers[i] = fmt.Sprintf("column_%d", i)
		}
		dataRows = records
	}

	forced := make(map[string]bool, len(r.options.StringColumns))
	for _, name := range r.options.StringColumns {
		forced[name] = true
	}

	// Transpose data to work with columns; csv.Reader already rejected ragged rows
	seriesList := make([]dataframe.ISeries, 0, len(headers))
	column := make([]string, len(dataRows))
	for i, header := range headers {
		for j, row := range dataRows {
			column[j] = row[i]
		}
		s, err := r.createSeriesFromStrings(header, column, forced[header])
		if err != nil {
			for _, done := range seriesList {
				done.Release()
			}
			return nil, err
		}
		seriesList = append(seriesList, s)
	}

	return dataframe.New(seriesList...), nil
}

func checkHeaders(headers []string) error {
	seen := make(map[string]bool, len(headers))
	for i, h := range headers {
		if strings.TrimSpace(h) == "" {
			return dgerrors.NewInputError("ReadCSV", fmt.Sprintf("header %d is empty", i), nil)
		}
		if seen[h] {
			return dgerrors.NewValidationError("ReadCSV", h, "duplicate header")
		}
		seen[h] = true
	}
	return nil
}

// createSeriesFromStrings creates a series from string data, inferring the appropriate type
func (r *CSVReader) createSeriesFromStrings(name string, data []string, forceString bool) (dataframe.ISeries, error) {
	if forceString {
		return series.NewSafe(name, append([]string(nil), data...), r.mem)
	}

	switch inferDataType(data) {
	case boolColumn:
		values := make([]bool, len(data))
		for i, value := range data {
			values[i] = strings.EqualFold(value, trueStr)
		}
		return series.NewSafe(name, values, r.mem)
	case intColumn:
		values := make([]int64, len(data))
		for i, value := range data {
			if value == "" {
				if !r.options.AllowEmpty {
					return nil, emptyCellError(name, i)
				}
				continue
			}
			values[i], _ = strconv.ParseInt(value, 10, 64)
		}
		return series.NewSafe(name, values, r.mem)
	case floatColumn:
		values := make([]float64, len(data))
		for i, value := range data {
			if value == "" {
				if !r.options.AllowEmpty {
					return nil, emptyCellError(name, i)
				}
				continue
			}
			values[i], _ = strconv.ParseFloat(value, 64)
		}
		return series.NewSafe(name, values, r.mem)
	default:
		return series.NewSafe(name, append([]string(nil), data...), r.mem)
	}
}

func emptyCellError(column string, row int) error {
	return dgerrors.NewValidationError("ReadCSV", column, fmt.Sprintf("empty value at row %d", row))
}

// inferDataType determines the most specific type every non-empty value parses as
func inferDataType(data []string) columnType {
	canBeInt := true
	canBeFloat := true
	canBeBool := true
	hasNonEmptyValue := false

	for _, value := range data {
		if value == "" {
			continue
		}
		hasNonEmptyValue = true

		if canBeBool {
			lower := strings.ToLower(value)
			if lower != trueStr && lower != falseStr {
				canBeBool = false
			}
		}
		if canBeInt {
			if _, err := strconv.ParseInt(value, 10, 64); err != nil {
				canBeInt = false
			}
		}
		if canBeFloat {
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				canBeFloat = false
			}
		}
		if !canBeBool && !canBeInt && !canBeFloat {
			return stringColumn
		}
	}

	switch {
	case !hasNonEmptyValue:
		return stringColumn
	case canBeBool:
		return boolColumn
	case canBeInt:
		return intColumn
	case canBeFloat:
		return floatColumn
	default:
		return stringColumn
	}
}

// Write writes the DataFrame to CSV format
func (w *CSVWriter) Write(df *dataframe.DataFrame) error {
	csvWriter := csv.NewWriter(w.writer)
	csvWriter.Comma = w.options.Delimiter

	columns := df.Columns()
	if w.options.Header {
		if err := csvWriter.Write(columns); err != nil {
			return fmt.Errorf("writing headers: %w", err)
		}
	}

	cols := make([]dataframe.ISeries, len(columns))
	for j, name := range columns {
		cols[j], _ = df.Column(name)
	}

	row := make([]string, len(columns))
	for i := 0; i < df.Len(); i++ {
		for j, col := range cols {
			row[j] = col.GetAsString(i)
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}
