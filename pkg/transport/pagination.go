package transport

import (
	"strconv"

	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/jsonutil"
)

// Pagination styles.
const (
	StyleCursor = "cursor"
	StyleOffset = "offset"
	StylePage   = "page"
	StyleNone   = "none"
)

// paginationState tracks the style-specific position across pages. It
// advances monotonically; the serialized position doubles as the
// checkpoint cursor carried on each Page.
type paginationState struct {
	cfg config.PaginationConfig

	cursor string
	offset int
	page   int
	done   bool
}

func newPaginationState(cfg config.PaginationConfig, start string) (*paginationState, error) {
	s := &paginationState{cfg: cfg, page: 1}
	switch cfg.Style {
	case StyleCursor:
		s.cursor = start
	case StyleOffset:
		if start != "" {
			n, err := strconv.Atoi(start)
			if err != nil || n < 0 {
				return nil, errors.Newf(errors.ErrorTypeValidation, "invalid offset cursor %q", start)
			}
			s.offset = n
		}
	case StylePage:
		if start != "" {
			n, err := strconv.Atoi(start)
			if err != nil || n < 1 {
				return nil, errors.Newf(errors.ErrorTypeValidation, "invalid page cursor %q", start)
			}
			s.page = n
		}
	case StyleNone, "":
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown pagination style %q", cfg.Style)
	}
	return s, nil
}

// query returns the request parameters for the next fetch.
func (s *paginationState) query() map[string]string {
	q := map[string]string{}
	if s.cfg.PageSize > 0 && s.cfg.SizeParam != "" {
		q[s.cfg.SizeParam] = strconv.Itoa(s.cfg.PageSize)
	}
	switch s.cfg.Style {
	case StyleCursor:
		if s.cursor != "" {
			q[param(s.cfg.CursorParam, "cursor")] = s.cursor
		}
	case StyleOffset:
		q[param(s.cfg.OffsetParam, "offset")] = strconv.Itoa(s.offset)
	case StylePage:
		q[param(s.cfg.PageParam, "page")] = strconv.Itoa(s.page)
	}
	return q
}

func param(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// advance consumes one fetched page and reports whether pagination is
// exhausted.
func (s *paginationState) advance(body []byte, itemCount int) (bool, error) {
	switch s.cfg.Style {
	case StyleCursor:
		next, err := extractCursor(body, s.cfg.CursorPath)
		if err != nil {
			return false, err
		}
		s.cursor = next
		if next == "" {
			s.done = true
		}
	case StyleOffset:
		if itemCount == 0 {
			s.done = true
			break
		}
		s.offset += itemCount
	case StylePage:
		if itemCount == 0 {
			s.done = true
			break
		}
		if s.cfg.TotalPagesPath != "" {
			total, ok, err := extractInt(body, s.cfg.TotalPagesPath)
			if err != nil {
				return false, err
			}
			if ok && s.page >= total {
				s.done = true
				s.page++
				break
			}
		}
		s.page++
	default:
		s.done = true
	}
	return s.done, nil
}

// position serializes the current position as a resume token.
func (s *paginationState) position() string {
	switch s.cfg.Style {
	case StyleCursor:
		return s.cursor
	case StyleOffset:
		return strconv.Itoa(s.offset)
	case StylePage:
		return strconv.Itoa(s.page)
	default:
		return ""
	}
}

// extractCursor reads the next-cursor value at path. Absent, null, or
// empty all mean exhaustion.
func extractCursor(body []byte, path string) (string, error) {
	if path == "" {
		return "", errors.New(errors.ErrorTypeConfig, "cursor pagination requires cursor_path")
	}
	var root interface{}
	if err := jsonutil.Unmarshal(body, &root); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to parse listing response")
	}
	node, ok := lookupPath(root, path)
	if !ok {
		return "", nil
	}
	switch v := node.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", errors.New(errors.ErrorTypeData, "cursor path does not resolve to a scalar").
			WithDetail("path", path)
	}
}

// extractInt reads an integer at path; ok is false when absent.
func extractInt(body []byte, path string) (int, bool, error) {
	var root interface{}
	if err := jsonutil.Unmarshal(body, &root); err != nil {
		return 0, false, errors.Wrap(err, errors.ErrorTypeData, "failed to parse listing response")
	}
	node, ok := lookupPath(root, path)
	if !ok {
		return 0, false, nil
	}
	switch v := node.(type) {
	case float64:
		return int(v), true, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, errors.Newf(errors.ErrorTypeData, "non-numeric value at %q", path)
		}
		return n, true, nil
	default:
		return 0, false, errors.Newf(errors.ErrorTypeData, "non-numeric value at %q", path)
	}
}
