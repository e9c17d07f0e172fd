package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
)

type fakeRemote struct {
	entries []remoteEntry
	data    map[string][]byte
	listErr error
	closed  bool

	downloads []string
}

func (f *fakeRemote) List(dir string) ([]remoteEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.entries, nil
}

func (f *fakeRemote) Download(remotePath string) ([]byte, error) {
	f.downloads = append(f.downloads, remotePath)
	data, ok := f.data[remotePath]
	if !ok {
		return nil, errors.New(errors.ErrorTypeConnection, "no such file")
	}
	return data, nil
}

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}

func newTestFTP(t *testing.T, remote *fakeRemote, cfg config.FTPConfig) *FTPTransport {
	t.Helper()
	tr := NewFTPTransport(cfg, zap.NewNop())
	tr.dial = func(ctx context.Context, cfg config.FTPConfig) (remoteClient, error) {
		return remote, nil
	}
	require.NoError(t, tr.Connect(context.Background()))
	return tr
}

func TestDownloadBatchGlob(t *testing.T) {
	now := time.Now()
	remote := &fakeRemote{
		entries: []remoteEntry{
			{Name: "orders_01.csv", ModTime: now},
			{Name: "readme.txt", ModTime: now},
			{Name: "orders_02.csv", ModTime: now},
		},
		data: map[string][]byte{
			"in/orders_01.csv": []byte("a"),
			"in/orders_02.csv": []byte("b"),
		},
	}
	tr := newTestFTP(t, remote, config.FTPConfig{Host: "h", Dir: "in"})

	var files []*File
	for f := range tr.DownloadBatch(context.Background(), "orders_*.csv").Files() {
		require.NoError(t, f.Err)
		files = append(files, f)
	}

	require.Len(t, files, 2)
	assert.Equal(t, "orders_01.csv", files[0].Name)
	assert.Equal(t, []byte("a"), files[0].Data)
	assert.Equal(t, []string{"in/orders_01.csv", "in/orders_02.csv"}, remote.downloads)
}

func TestDownloadBatchUsesConfiguredPattern(t *testing.T) {
	remote := &fakeRemote{
		entries: []remoteEntry{{Name: "x.csv"}, {Name: "x.json"}},
		data:    map[string][]byte{"in/x.csv": []byte("a")},
	}
	tr := newTestFTP(t, remote, config.FTPConfig{Host: "h", Dir: "in", Pattern: "*.csv"})

	var names []string
	for f := range tr.DownloadBatch(context.Background(), "").Files() {
		require.NoError(t, f.Err)
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"x.csv"}, names)
}

func TestDownloadBatchListFailure(t *testing.T) {
	remote := &fakeRemote{listErr: errors.New(errors.ErrorTypeConnection, "boom")}
	tr := newTestFTP(t, remote, config.FTPConfig{Host: "h", Dir: "in"})

	var last *File
	for f := range tr.DownloadBatch(context.Background(), "").Files() {
		last = f
	}
	require.NotNil(t, last)
	require.Error(t, last.Err)
	assert.True(t, errors.IsType(last.Err, errors.ErrorTypeConnection))
}

func TestDownloadBatchNotConnected(t *testing.T) {
	tr := NewFTPTransport(config.FTPConfig{Host: "h"}, zap.NewNop())

	var last *File
	for f := range tr.DownloadBatch(context.Background(), "").Files() {
		last = f
	}
	require.NotNil(t, last)
	require.Error(t, last.Err)
}

func TestDisconnectClosesClient(t *testing.T) {
	remote := &fakeRemote{}
	tr := newTestFTP(t, remote, config.FTPConfig{Host: "h"})
	require.NoError(t, tr.Disconnect(context.Background()))
	assert.True(t, remote.closed)

	// Disconnecting twice is harmless.
	require.NoError(t, tr.Disconnect(context.Background()))
}
