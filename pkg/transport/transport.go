// Package transport moves raw payloads between external systems and the
// connector core. Outbound channels (REST, FTP/SFTP) pull data; inbound
// channels (directory watcher, webhook receiver) push data to registered
// handlers. All streams are lazy: the next page or file is fetched only
// when the consumer is ready for it.
package transport

import (
	"context"
	"time"
)

// Transport is the lifecycle shared by all channels.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Page is one page of a paginated listing. Position is the resume token
// valid after this page has been fully processed. A terminal failure is
// delivered as a final Page with Err set.
type Page struct {
	// Number is the zero-based fetch index within this pass.
	Number int
	// Items holds the raw item payloads extracted via ItemsPath.
	Items [][]byte
	// Raw is the full response body.
	Raw []byte
	// Position resumes pagination after this page.
	Position string
	Err      error
}

// PageStream delivers pages lazily over a channel. The channel closes
// after the terminal page; callers stop early via context cancellation.
type PageStream struct {
	pages <-chan *Page
}

// Pages returns the receive channel.
func (s *PageStream) Pages() <-chan *Page {
	return s.pages
}

// File is one downloaded remote file. A terminal failure is delivered as
// a final File with Err set.
type File struct {
	Name    string
	ModTime time.Time
	Data    []byte
	Err     error
}

// FileStream delivers files lazily, one download at a time.
type FileStream struct {
	files <-chan *File
}

// Files returns the receive channel.
func (s *FileStream) Files() <-chan *File {
	return s.files
}

// Event is one server-sent event. A terminal failure is delivered as a
// final Event with Err set; a clean source close just closes the channel.
type Event struct {
	ID   string
	Type string
	Data []byte
	Err  error
}

// EventStream delivers events forward-only. It is not restartable.
type EventStream struct {
	events <-chan *Event
}

// Events returns the receive channel.
func (s *EventStream) Events() <-chan *Event {
	return s.events
}

// FileEvent describes one observed file change.
type FileEvent struct {
	Path    string
	Name    string
	ModTime time.Time
	Size    int64
}

// WebhookEvent is one verified inbound delivery.
type WebhookEvent struct {
	ID         string
	Source     string
	ReceivedAt time.Time
	Headers    map[string]string
	Body       []byte
}
