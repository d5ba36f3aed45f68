package io

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/damagegrade/internal/dataframe"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
)

// Format identifies a table file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// FormatFor picks a format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	default:
		return "", dgerrors.NewInputError("ReadFile",
			fmt.Sprintf("unsupported file extension for %s", path), nil).
			WithHint("use .csv or .parquet")
	}
}

// ReadFile loads a table from path. CSV options apply to CSV files only.
func ReadFile(path string, options CSVOptions, mem memory.Allocator) (*dataframe.DataFrame, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, dgerrors.NewInputError("ReadFile", fmt.Sprintf("opening %s", path), err)
	}
	defer f.Close()

	var reader DataReader
	switch format {
	case FormatParquet:
		reader = NewParquetReader(f, DefaultParquetOptions(), mem)
	default:
		reader = NewCSVReader(f, options, mem)
	}

	df, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return df, nil
}

// WriteFile stores df at path in the format implied by its extension.
func WriteFile(path string, df *dataframe.DataFrame) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return dgerrors.NewInputError("WriteFile", fmt.Sprintf("creating %s", path), err)
	}

	var writer DataWriter
	switch format {
	case FormatParquet:
		writer = NewParquetWriter(f, DefaultParquetOptions())
	default:
		writer = NewCSVWriter(f, DefaultCSVOptions())
	}

	if err := writer.Write(df); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
