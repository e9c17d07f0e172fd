package transport

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
)

// remoteEntry is one file visible in a remote listing.
type remoteEntry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// remoteClient abstracts the FTP and SFTP channels behind one listing
// and download surface.
type remoteClient interface {
	List(dir string) ([]remoteEntry, error)
	Download(remotePath string) ([]byte, error)
	Close() error
}

// FTPTransport downloads files from FTP or SFTP servers. The Secure flag
// in config selects the channel.
type FTPTransport struct {
	cfg    config.FTPConfig
	logger *zap.Logger

	// dial is injectable for tests.
	dial   func(ctx context.Context, cfg config.FTPConfig) (remoteClient, error)
	client remoteClient
}

// NewFTPTransport builds an FTP/SFTP transport.
func NewFTPTransport(cfg config.FTPConfig, logger *zap.Logger) *FTPTransport {
	t := &FTPTransport{
		cfg:    cfg,
		logger: logger.With(zap.String("transport", "ftp"), zap.Bool("secure", cfg.Secure)),
	}
	t.dial = dialRemote
	return t
}

// Connect establishes the control connection and authenticates.
func (t *FTPTransport) Connect(ctx context.Context) error {
	if t.client != nil {
		return nil
	}
	client, err := t.dial(ctx, t.cfg)
	if err != nil {
		return err
	}
	t.client = client
	t.logger.Info("connected to remote server", zap.String("host", t.cfg.Host))
	return nil
}

// Disconnect closes the connection.
func (t *FTPTransport) Disconnect(ctx context.Context) error {
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close remote connection")
	}
	return nil
}

// DownloadBatch lists the configured directory and streams files whose
// names match pattern, downloading one at a time. An empty pattern falls
// back to the configured pattern, then to everything.
func (t *FTPTransport) DownloadBatch(ctx context.Context, pattern string) *FileStream {
	if pattern == "" {
		pattern = t.cfg.Pattern
	}

	files := make(chan *File)
	go func() {
		defer close(files)

		fail := func(err error) {
			select {
			case files <- &File{Err: err}:
			case <-ctx.Done():
			}
		}

		if t.client == nil {
			fail(errors.New(errors.ErrorTypeConnection, "transport not connected"))
			return
		}

		entries, err := t.client.List(t.cfg.Dir)
		if err != nil {
			fail(errors.Wrap(err, errors.ErrorTypeConnection, "failed to list remote directory").
				WithDetail("dir", t.cfg.Dir))
			return
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return
			}
			if pattern != "" {
				matched, err := path.Match(pattern, entry.Name)
				if err != nil {
					fail(errors.Wrap(err, errors.ErrorTypeConfig, "invalid file pattern").
						WithDetail("pattern", pattern))
					return
				}
				if !matched {
					continue
				}
			}

			data, err := t.client.Download(path.Join(t.cfg.Dir, entry.Name))
			if err != nil {
				fail(errors.Wrap(err, errors.ErrorTypeConnection, "failed to download remote file").
					WithDetail("name", entry.Name))
				return
			}

			select {
			case files <- &File{Name: entry.Name, ModTime: entry.ModTime, Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return &FileStream{files: files}
}

func dialRemote(ctx context.Context, cfg config.FTPConfig) (remoteClient, error) {
	if cfg.Secure {
		return dialSFTP(cfg)
	}
	return dialFTP(ctx, cfg)
}

func dialFTP(ctx context.Context, cfg config.FTPConfig) (remoteClient, error) {
	port := cfg.Port
	if port == 0 {
		port = 21
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, port)
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to dial FTP server").
			WithDetail("addr", addr)
	}
	if err := conn.Login(cfg.Username, cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "FTP login failed")
	}
	return &ftpClient{conn: conn}, nil
}

func dialSFTP(cfg config.FTPConfig) (remoteClient, error) {
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, port)
	sshConn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // G106: host key pinning is deployment-specific
		Timeout:         30 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to dial SSH server").
			WithDetail("addr", addr)
	}
	client, err := sftp.NewClient(sshConn)
	if err != nil {
		_ = sshConn.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open SFTP session")
	}
	return &sftpClient{ssh: sshConn, client: client}, nil
}

type ftpClient struct {
	conn *ftp.ServerConn
}

func (c *ftpClient) List(dir string) ([]remoteEntry, error) {
	listed, err := c.conn.List(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]remoteEntry, 0, len(listed))
	for _, e := range listed {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		entries = append(entries, remoteEntry{Name: e.Name, Size: int64(e.Size), ModTime: e.Time})
	}
	return entries, nil
}

func (c *ftpClient) Download(remotePath string) ([]byte, error) {
	resp, err := c.conn.Retr(remotePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Close() }()
	return io.ReadAll(resp)
}

func (c *ftpClient) Close() error {
	return c.conn.Quit()
}

type sftpClient struct {
	ssh    *ssh.Client
	client *sftp.Client
}

func (c *sftpClient) List(dir string) ([]remoteEntry, error) {
	listed, err := c.client.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]remoteEntry, 0, len(listed))
	for _, info := range listed {
		if info.IsDir() {
			continue
		}
		entries = append(entries, remoteEntry{Name: info.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return entries, nil
}

func (c *sftpClient) Download(remotePath string) ([]byte, error) {
	f, err := c.client.Open(remotePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func (c *sftpClient) Close() error {
	err := c.client.Close()
	if cerr := c.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}
