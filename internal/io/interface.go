// Package io loads and stores survey tables as CSV or Parquet.
//
// CSV columns are typed by inspecting every cell. Columns listed in
// CSVOptions.StringColumns stay strings so categorical codes such as "0"
// or "1" are never read as numbers. Parquet round-trips Arrow types
// directly. ReadFile and WriteFile dispatch on the file extension.
//
// Returned DataFrames hold Arrow buffers; callers must Release them.
package io

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/damagegrade/internal/dataframe"
)

// DefaultBatchSize is the Arrow record batch length used for Parquet.
const DefaultBatchSize = 1000

// DataReader produces one table per call.
type DataReader interface {
	Read() (*dataframe.DataFrame, error)
}

// DataWriter stores a whole table.
type DataWriter interface {
	Write(df *dataframe.DataFrame) error
}

// CSVOptions controls CSV parsing and rendering.
type CSVOptions struct {
	Delimiter rune
	// Header is false for files whose first record is data; columns are
	// then named column_0, column_1 and so on.
	Header        bool
	StringColumns []string
	// AllowEmpty reads empty numeric cells as zero. Otherwise an empty
	// cell in a numeric column is an input error.
	AllowEmpty bool
}

// DefaultCSVOptions reads comma-separated files with a header row.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{Delimiter: ',', Header: true}
}

type CSVReader struct {
	reader  io.Reader
	options CSVOptions
	mem     memory.Allocator
}

// NewCSVReader reads from r. A nil allocator means the Go allocator.
func NewCSVReader(r io.Reader, options CSVOptions, mem memory.Allocator) *CSVReader {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &CSVReader{reader: r, options: options, mem: mem}
}

type CSVWriter struct {
	writer  io.Writer
	options CSVOptions
}

func NewCSVWriter(w io.Writer, options CSVOptions) *CSVWriter {
	return &CSVWriter{writer: w, options: options}
}

// ParquetOptions controls the Parquet codec and batch length.
type ParquetOptions struct {
	// Compression is one of snappy, zstd, gzip or uncompressed.
	Compression string
	BatchSize   int
}

func DefaultParquetOptions() ParquetOptions {
	return ParquetOptions{Compression: "snappy", BatchSize: DefaultBatchSize}
}

type ParquetReader struct {
	reader  io.Reader
	options ParquetOptions
	mem     memory.Allocator
}

// NewParquetReader buffers r fully before decoding, since Parquet footers
// need random access. A nil allocator means the Go allocator.
func NewParquetReader(r io.Reader, options ParquetOptions, mem memory.Allocator) *ParquetReader {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &ParquetReader{reader: r, options: options, mem: mem}
}

// ParquetWriter never closes its destination.
type ParquetWriter struct {
	writer  io.Writer
	options ParquetOptions
}

func NewParquetWriter(w io.Writer, options ParquetOptions) *ParquetWriter {
	return &ParquetWriter{writer: w, options: options}
}
