package transform

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/jsonutil"
)

// FixedWidthOptions controls fixed-width flat file normalization.
type FixedWidthOptions struct {
	// Fields defines the column layout. Start offsets are zero-based
	// byte positions within the line.
	Fields []config.FixedWidthField
	// HeaderRows are skipped at the top of the file.
	HeaderRows int
	// FooterRows are skipped at the bottom of the file.
	FooterRows int
	// RecordFilter keeps records for which it returns true, evaluated
	// after field extraction. Index is zero-based over data rows.
	RecordFilter func(record map[string]interface{}, index int) bool
}

// FixedWidthTransformer slices flat-file lines into typed records.
type FixedWidthTransformer struct {
	opts FixedWidthOptions
}

// NewFixedWidthTransformer builds a fixed-width transformer.
func NewFixedWidthTransformer(opts FixedWidthOptions) *FixedWidthTransformer {
	return &FixedWidthTransformer{opts: opts}
}

// FixedWidthFromConfig builds a fixed-width transformer from config.
func FixedWidthFromConfig(cfg config.FixedWidthTransformConfig) *FixedWidthTransformer {
	return NewFixedWidthTransformer(FixedWidthOptions{
		Fields:     cfg.Fields,
		HeaderRows: cfg.HeaderRows,
		FooterRows: cfg.FooterRows,
	})
}

// Transform splits the payload into lines, skips header and footer rows,
// and extracts one typed record per remaining line. A record with any
// field coercion failure yields a single item-level error naming every
// failed field, and iteration continues.
func (t *FixedWidthTransformer) Transform(data []byte, tc Context) (*ResultSet, error) {
	if len(t.opts.Fields) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "fixed-width transform requires at least one field")
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read fixed-width payload")
	}

	start := t.opts.HeaderRows
	end := len(lines) - t.opts.FooterRows
	if start > len(lines) {
		start = len(lines)
	}
	if end < start {
		end = start
	}
	lines = lines[start:end]

	i := 0
	outIndex := 0
	return NewResultSet(func() (*Result, error) {
		for {
			if i >= len(lines) {
				return nil, io.EOF
			}
			line := lines[i]
			index := i
			i++

			record, fieldErrs := t.extract(line)
			if len(fieldErrs) > 0 {
				return nil, errors.New(errors.ErrorTypeValidation, "fixed-width record failed field coercion").
					WithDetail("row", index).
					WithDetail("fields", strings.Join(fieldErrs, "; "))
			}
			if t.opts.RecordFilter != nil && !t.opts.RecordFilter(record, index) {
				continue
			}

			payload, err := jsonutil.Marshal(record)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode fixed-width record").
					WithDetail("row", index)
			}
			result := &Result{
				Filename: resultFilename(tc, outIndex),
				Data:     payload,
				Metadata: scalarMetadata(record),
			}
			outIndex++
			return result, nil
		}
	}), nil
}

// extract slices one line per the field layout, collecting coercion
// failures instead of stopping at the first.
func (t *FixedWidthTransformer) extract(line string) (map[string]interface{}, []string) {
	record := make(map[string]interface{}, len(t.opts.Fields))
	var fieldErrs []string
	for _, f := range t.opts.Fields {
		raw := slice(line, f.Start, f.Length)
		if f.Trim {
			raw = strings.TrimSpace(raw)
		}
		value, err := coerce(raw, f)
		if err != nil {
			fieldErrs = append(fieldErrs, f.Name+": "+err.Error())
			continue
		}
		record[f.Name] = value
	}
	return record, fieldErrs
}

// slice extracts [start, start+length) from the line, tolerating short
// lines.
func slice(line string, start, length int) string {
	if start >= len(line) {
		return ""
	}
	end := start + length
	if end > len(line) {
		end = len(line)
	}
	return line[start:end]
}

// coerce converts a raw field value per its declared type.
func coerce(raw string, f config.FixedWidthField) (interface{}, error) {
	switch f.Type {
	case "", "string":
		return raw, nil
	case "int":
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeValidation, "invalid integer %q", raw)
		}
		return v, nil
	case "float":
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeValidation, "invalid float %q", raw)
		}
		return v, nil
	case "bool":
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeValidation, "invalid boolean %q", raw)
		}
		return v, nil
	case "date":
		layout := f.DateFormat
		if layout == "" {
			layout = "2006-01-02"
		}
		v, err := time.Parse(layout, strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeValidation, "invalid date %q for layout %q", raw, layout)
		}
		return v, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown field type %q", f.Type)
	}
}
