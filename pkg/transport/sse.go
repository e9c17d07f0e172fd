package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/errors"
)

// Stream opens a server-sent events connection and delivers events until
// the source closes or the caller cancels. The stream is forward-only;
// resuming requires a new call with a Last-Event-ID header.
func (t *RESTTransport) Stream(ctx context.Context, path string, opts RequestOptions) (*EventStream, error) {
	if t.baseURL == nil {
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
	}

	u := *t.baseURL
	u.Path = joinPath(u.Path, path)
	q := u.Query()
	for k, v := range opts.Query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	headers := map[string]string{
		"Accept":        "text/event-stream",
		"Cache-Control": "no-cache",
	}
	for k, v := range t.cfg.Headers {
		headers[k] = v
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	if t.provider != nil {
		if err := t.provider.ApplyToHeaders(ctx, headers); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build stream request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open event stream")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, classifyStatus(resp, body)
	}

	events := make(chan *Event)
	go t.readEvents(ctx, resp.Body, events)
	return &EventStream{events: events}, nil
}

// readEvents parses the text/event-stream wire format: fields accumulate
// until a blank line dispatches the event.
func (t *RESTTransport) readEvents(ctx context.Context, body io.ReadCloser, events chan<- *Event) {
	defer close(events)
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var id, eventType string
	var data bytes.Buffer

	dispatch := func() bool {
		if data.Len() == 0 {
			id, eventType = "", ""
			return true
		}
		ev := &Event{
			ID:   id,
			Type: eventType,
			Data: append([]byte(nil), bytes.TrimSuffix(data.Bytes(), []byte("\n"))...),
		}
		id, eventType = "", ""
		data.Reset()
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !dispatch() {
				return
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			data.WriteByte('\n')
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		}
	}
	dispatch()

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		t.logger.Warn("event stream closed with error", zap.Error(err))
		select {
		case events <- &Event{Err: errors.Wrap(err, errors.ErrorTypeConnection, "event stream interrupted")}:
		case <-ctx.Done():
		}
	}
}
