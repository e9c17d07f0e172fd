package transform

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/jsonutil"
)

// CSVOptions controls CSV normalization. FieldTransforms and RowFilter
// are programmatic-only; the rest maps from config.CSVConfig.
type CSVOptions struct {
	// Delimiter defaults to ','.
	Delimiter rune
	// HasHeader treats the first row as column names. Without a header,
	// columns are named by zero-based index.
	HasHeader bool
	// Rename maps source column names to output field names.
	Rename map[string]string
	// Exclude lists source columns dropped from output.
	Exclude []string
	// FieldTransforms rewrites values, keyed by source column name.
	FieldTransforms map[string]func(string) string
	// RowFilter keeps rows for which it returns true. The row map is
	// keyed by source column names, before rename and exclusion. Index
	// is zero-based over data rows.
	RowFilter func(row map[string]string, index int) bool
}

// CSVTransformer turns delimited text into one JSON record per row.
type CSVTransformer struct {
	opts CSVOptions
}

// NewCSVTransformer builds a CSV transformer.
func NewCSVTransformer(opts CSVOptions) *CSVTransformer {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	return &CSVTransformer{opts: opts}
}

// CSVFromConfig builds a CSV transformer from config. Programmatic
// options (filters, value transforms) stay unset.
func CSVFromConfig(cfg config.CSVTransformConfig) *CSVTransformer {
	delim := ','
	if cfg.Delimiter != "" {
		delim = []rune(cfg.Delimiter)[0]
	}
	return NewCSVTransformer(CSVOptions{
		Delimiter: delim,
		HasHeader: cfg.HasHeader,
		Rename:    cfg.RenameColumns,
		Exclude:   cfg.ExcludeColumns,
	})
}

// Transform lazily parses the payload row by row. Malformed rows yield
// item-level errors and iteration continues.
func (t *CSVTransformer) Transform(data []byte, tc Context) (*ResultSet, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = t.opts.Delimiter
	reader.FieldsPerRecord = -1

	excluded := make(map[string]bool, len(t.opts.Exclude))
	for _, col := range t.opts.Exclude {
		excluded[col] = true
	}

	var header []string
	headerRead := !t.opts.HasHeader
	rowIndex := 0
	outIndex := 0

	return NewResultSet(func() (*Result, error) {
		for {
			if !headerRead {
				cols, err := reader.Read()
				if err == io.EOF {
					return nil, io.EOF
				}
				if err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read CSV header")
				}
				header = cols
				headerRead = true
			}

			row, err := reader.Read()
			if err == io.EOF {
				return nil, io.EOF
			}
			index := rowIndex
			rowIndex++
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed CSV row").
					WithDetail("row", index)
			}

			raw := make(map[string]string, len(row))
			for i, value := range row {
				raw[t.columnName(header, i)] = value
			}
			for col, fn := range t.opts.FieldTransforms {
				if v, ok := raw[col]; ok {
					raw[col] = fn(v)
				}
			}
			if t.opts.RowFilter != nil && !t.opts.RowFilter(raw, index) {
				continue
			}

			record := make(map[string]interface{}, len(raw))
			meta := make(map[string]string, len(raw))
			for col, value := range raw {
				if excluded[col] {
					continue
				}
				name := col
				if renamed, ok := t.opts.Rename[col]; ok {
					name = renamed
				}
				record[name] = value
				meta[name] = value
			}

			payload, err := jsonutil.Marshal(record)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode CSV record").
					WithDetail("row", index)
			}
			result := &Result{
				Filename: resultFilename(tc, outIndex),
				Data:     payload,
				Metadata: meta,
			}
			outIndex++
			return result, nil
		}
	}), nil
}

func (t *CSVTransformer) columnName(header []string, i int) string {
	if i < len(header) {
		return header[i]
	}
	return "column_" + strconv.Itoa(i)
}

// EncodeCSV renders rows back into delimited text with a header row,
// quoting per RFC 4180. Missing cells render empty.
func EncodeCSV(headers []string, rows []map[string]string, delimiter rune) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if delimiter != 0 {
		writer.Comma = delimiter
	}
	if err := writer.Write(headers); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to write CSV header")
	}
	record := make([]string, len(headers))
	for _, row := range rows {
		for i, h := range headers {
			record[i] = row[h]
		}
		if err := writer.Write(record); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to write CSV row")
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to flush CSV output")
	}
	return buf.Bytes(), nil
}
