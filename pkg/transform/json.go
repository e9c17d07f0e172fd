package transform

import (
	"io"
	"strings"

	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/jsonutil"
)

// JSONOptions controls JSON normalization.
type JSONOptions struct {
	// ItemsPath is a dot-separated path to the array of items within the
	// payload. Empty means the payload root: an array transforms
	// element-wise, a single object transforms as one record.
	ItemsPath string
	// Rename maps source field names to output field names. Applied to
	// top-level fields after flattening.
	Rename map[string]string
	// Exclude lists fields dropped from output.
	Exclude []string
	// Flatten collapses nested objects into dotted keys.
	Flatten bool
	// FlattenSeparator joins nested key segments. Defaults to ".".
	FlattenSeparator string
	// ItemFilter keeps items for which it returns true, evaluated before
	// rename and exclusion. Index is zero-based over items.
	ItemFilter func(item map[string]interface{}, index int) bool
}

// JSONTransformer normalizes JSON payloads into one record per item.
type JSONTransformer struct {
	opts JSONOptions
}

// NewJSONTransformer builds a JSON transformer.
func NewJSONTransformer(opts JSONOptions) *JSONTransformer {
	if opts.FlattenSeparator == "" {
		opts.FlattenSeparator = "."
	}
	return &JSONTransformer{opts: opts}
}

// JSONFromConfig builds a JSON transformer from config.
func JSONFromConfig(cfg config.JSONTransformConfig) *JSONTransformer {
	return NewJSONTransformer(JSONOptions{
		ItemsPath:        cfg.ItemsPath,
		Rename:           cfg.RenameFields,
		Exclude:          cfg.ExcludeFields,
		Flatten:          cfg.Flatten,
		FlattenSeparator: cfg.FlattenSeparator,
	})
}

// Transform parses the payload, resolves the items path, and emits one
// record per item. Non-object items yield item-level errors.
func (t *JSONTransformer) Transform(data []byte, tc Context) (*ResultSet, error) {
	var root interface{}
	if err := jsonutil.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse JSON payload")
	}

	items, err := t.resolveItems(root)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(t.opts.Exclude))
	for _, f := range t.opts.Exclude {
		excluded[f] = true
	}

	i := 0
	outIndex := 0
	return NewResultSet(func() (*Result, error) {
		for {
			if i >= len(items) {
				return nil, io.EOF
			}
			item := items[i]
			index := i
			i++

			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, errors.New(errors.ErrorTypeData, "JSON item is not an object").
					WithDetail("index", index)
			}
			if t.opts.Flatten {
				obj = flatten(obj, "", t.opts.FlattenSeparator)
			}
			if t.opts.ItemFilter != nil && !t.opts.ItemFilter(obj, index) {
				continue
			}

			record := make(map[string]interface{}, len(obj))
			for k, v := range obj {
				if excluded[k] {
					continue
				}
				name := k
				if renamed, ok := t.opts.Rename[k]; ok {
					name = renamed
				}
				record[name] = v
			}

			payload, err := jsonutil.Marshal(record)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode JSON record").
					WithDetail("index", index)
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

// resolveItems walks ItemsPath and returns the item slice. An object at
// the resolved position is treated as a single item.
func (t *JSONTransformer) resolveItems(root interface{}) ([]interface{}, error) {
	node := root
	if t.opts.ItemsPath != "" {
		for _, segment := range strings.Split(t.opts.ItemsPath, ".") {
			obj, ok := node.(map[string]interface{})
			if !ok {
				return nil, errors.New(errors.ErrorTypeData, "items path traverses a non-object").
					WithDetail("path", t.opts.ItemsPath).
					WithDetail("segment", segment)
			}
			node, ok = obj[segment]
			if !ok {
				return nil, errors.New(errors.ErrorTypeData, "items path not found in payload").
					WithDetail("path", t.opts.ItemsPath).
					WithDetail("segment", segment)
			}
		}
	}
	switch v := node.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		return []interface{}{v}, nil
	default:
		return nil, errors.New(errors.ErrorTypeData, "items path does not resolve to an array or object").
			WithDetail("path", t.opts.ItemsPath)
	}
}

// flatten collapses nested objects into a single level with joined keys.
// Arrays are kept as values.
func flatten(obj map[string]interface{}, prefix, sep string) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + sep + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flatten(nested, key, sep) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
