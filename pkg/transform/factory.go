package transform

import (
	"io"

	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
)

// FromConfig builds the configured transformer.
func FromConfig(cfg config.TransformConfig) (Transformer, error) {
	switch cfg.Format {
	case "csv":
		return CSVFromConfig(cfg.CSV), nil
	case "json":
		return JSONFromConfig(cfg.JSON), nil
	case "fixed_width":
		return FixedWidthFromConfig(cfg.FixedWidth), nil
	case "", "none":
		return Passthrough{}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown transform format %q", cfg.Format)
	}
}

// Passthrough emits the payload unchanged as a single result.
type Passthrough struct{}

// Transform yields one result carrying the raw payload.
func (Passthrough) Transform(data []byte, tc Context) (*ResultSet, error) {
	done := false
	return NewResultSet(func() (*Result, error) {
		if done {
			return nil, io.EOF
		}
		done = true
		return &Result{
			Filename: resultFilename(tc, 0),
			Data:     data,
			Metadata: map[string]string{},
		}, nil
	}), nil
}
