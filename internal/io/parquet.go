package io

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/paveg/damagegrade/internal/dataframe"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/series"
)

// Read reads Parquet data and returns a DataFrame.
// Narrow numeric columns are widened to int64 and float64.
func (r *ParquetReader) Read() (*dataframe.DataFrame, error) {
	data, err := io.ReadAll(r.reader)
	if err != nil {
		return nil, dgerrors.NewInputError("ReadParquet", "reading data", err)
	}

	pqReader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, dgerrors.NewInputError("ReadParquet", "not a parquet file", err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{
		BatchSize: int64(r.options.BatchSize),
	}, r.mem)
	if err != nil {
		return nil, dgerrors.NewInputError("ReadParquet", "creating arrow reader", err)
	}

	table, err := arrowReader.ReadTable(context.Background())
	if err != nil {
		return nil, dgerrors.NewInputError("ReadParquet", "reading table", err)
	}
	defer table.Release()

	return r.arrowTableToDataFrame(table)
}

func (r *ParquetReader) arrowTableToDataFrame(table arrow.Table) (*dataframe.DataFrame, error) {
	schema := table.Schema()
	seriesList := make([]dataframe.ISeries, 0, table.NumCols())

	for i := 0; i < int(table.NumCols()); i++ {
		field := schema.Field(i)
		s, err := r.chunkedToSeries(field.Name, table.Column(i).Data(), field.Type)
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

// chunkedToSeries flattens every chunk of a column into one series.
func (r *ParquetReader) chunkedToSeries(
	name string, chunked *arrow.Chunked, dataType arrow.DataType,
) (dataframe.ISeries, error) {
	//nolint:exhaustive // Only handling supported types
	switch dataType.ID() {
	case arrow.INT64:
		return series.NewSafe(name, collect(chunked, func(a *array.Int64, i int) int64 { return a.Value(i) }), r.mem)
	case arrow.INT32:
		return series.NewSafe(name, collect(chunked, func(a *array.Int32, i int) int64 { return int64(a.Value(i)) }), r.mem)
	case arrow.FLOAT64:
		return series.NewSafe(name, collect(chunked, func(a *array.Float64, i int) float64 { return a.Value(i) }), r.mem)
	case arrow.FLOAT32:
		return series.NewSafe(name, collect(chunked, func(a *array.Float32, i int) float64 { return float64(a.Value(i)) }), r.mem)
	case arrow.STRING:
		return series.NewSafe(name, collect(chunked, func(a *array.String, i int) string { return a.Value(i) }), r.mem)
	case arrow.BOOL:
		return series.NewSafe(name, collect(chunked, func(a *array.Boolean, i int) bool { return a.Value(i) }), r.mem)
	default:
		return nil, dgerrors.NewValidationError("ReadParquet", name, fmt.Sprintf("unsupported Arrow type %s", dataType))
	}
}

func collect[A arrow.Array, T any](chunked *arrow.Chunked, value func(A, int) T) []T {
	out := make([]T, 0, chunked.Len())
	for _, chunk := range chunked.Chunks() {
		typed := chunk.(A)
		for i := 0; i < typed.Len(); i++ {
			out = append(out, value(typed, i))
		}
	}
	return out
}

// Write writes the DataFrame to Parquet format.
func (w *ParquetWriter) Write(df *dataframe.DataFrame) error {
	table := w.dataFrameToArrowTable(df)
	defer table.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(codecFor(w.options.Compression)),
		parquet.WithBatchSize(int64(w.options.BatchSize)),
	)

	// pqarrow closes sinks that implement io.Closer; the caller owns w.writer.
	sink := struct{ io.Writer }{w.writer}
	writer, err := pqarrow.NewFileWriter(table.Schema(), sink, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("creating file writer: %w", err)
	}

	chunkSize := int64(df.Len())
	if chunkSize == 0 {
		chunkSize = 1
	}
	if err := writer.WriteTable(table, chunkSize); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing table: %w", err)
	}
	return writer.Close()
}

func codecFor(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Codecs.Gzip
	case "lz4":
		return compress.Codecs.Lz4Raw
	case "zstd":
		return compress.Codecs.Zstd
	case "uncompressed":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Snappy
	}
}

// dataFrameToArrowTable shares each series' backing array with the table.
func (w *ParquetWriter) dataFrameToArrowTable(df *dataframe.DataFrame) arrow.Table {
	names := df.Columns()
	fields := make([]arrow.Field, 0, len(names))
	columns := make([]arrow.Column, 0, len(names))

	for _, name := range names {
		col, _ := df.Column(name)
		arr := col.Array()
		field := arrow.Field{Name: name, Type: arr.DataType()}
		chunked := arrow.NewChunked(arr.DataType(), []arrow.Array{arr})
		arr.Release()
		column := arrow.NewColumn(field, chunked)
		chunked.Release()
		fields = append(fields, field)
		columns = append(columns, *column)
	}

	return array.NewTable(arrow.NewSchema(fields, nil), columns, int64(df.Len()))
}
