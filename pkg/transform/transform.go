// Package transform provides pure payload normalization: raw bytes plus a
// per-invocation Context in, a lazy sequence of normalized records out.
// Transformers never perform network or filesystem side effects, and
// re-running a transform on the same input yields an equivalent sequence.
package transform

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/inletio/inlet/pkg/errors"
)

// IsItemError reports whether err describes a single dropped record
// rather than a failure of the whole transform.
func IsItemError(err error) bool {
	return errors.IsType(err, errors.ErrorTypeValidation) || errors.IsType(err, errors.ErrorTypeData)
}

// Context describes one transform invocation. It is constructed per call
// and never mutated.
type Context struct {
	// Source identifies where the payload came from.
	Source string
	// Format is the declared payload format.
	Format string
	// Metadata carries arbitrary caller context.
	Metadata map[string]string
	// ReceivedAt is the payload receipt timestamp.
	ReceivedAt time.Time
}

// Result is one normalized record. Data holds the record serialized as
// JSON; Metadata carries the record's scalar fields stringified, for
// identity derivation downstream.
type Result struct {
	Filename string
	Data     []byte
	Metadata map[string]string
}

// Transformer maps raw bytes plus context into a sequence of Results.
type Transformer interface {
	Transform(data []byte, tc Context) (*ResultSet, error)
}

// ResultSet is a lazy, finite iterator over transform results. Next
// returns io.EOF at exhaustion. A validation-typed error from Next is
// item-level: it describes one dropped record and iteration continues on
// the following call.
type ResultSet struct {
	next func() (*Result, error)
}

// NewResultSet wraps a next function into a ResultSet.
func NewResultSet(next func() (*Result, error)) *ResultSet {
	return &ResultSet{next: next}
}

// Next returns the next result, an item-level error, or io.EOF.
func (rs *ResultSet) Next() (*Result, error) {
	return rs.next()
}

// Collect drains the set, separating results from item-level errors.
// Intended for tests and small payloads; production callers iterate.
func (rs *ResultSet) Collect() ([]*Result, []error, error) {
	var results []*Result
	var itemErrs []error
	for {
		r, err := rs.Next()
		if err == io.EOF {
			return results, itemErrs, nil
		}
		if err != nil {
			if IsItemError(err) {
				itemErrs = append(itemErrs, err)
				continue
			}
			return results, itemErrs, err
		}
		results = append(results, r)
	}
}

// resultFilename derives the output filename for record index i.
func resultFilename(tc Context, i int) string {
	source := tc.Source
	if source == "" {
		source = "record"
	}
	return fmt.Sprintf("%s-%06d.json", source, i)
}

// stringifyScalar renders a scalar field value for Result.Metadata.
func stringifyScalar(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case time.Time:
		return t.Format(time.RFC3339), true
	default:
		return "", false
	}
}

// scalarMetadata extracts stringified scalar fields from a record.
func scalarMetadata(record map[string]interface{}) map[string]string {
	meta := make(map[string]string, len(record))
	for k, v := range record {
		if s, ok := stringifyScalar(v); ok {
			meta[k] = s
		}
	}
	return meta
}
