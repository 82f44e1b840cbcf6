package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"

	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/metrics"
)

// Push copies localPath to remotePath over SFTP, replacing any existing
// file. The remote parent directory must already exist. No shell is
// involved, so paths and content are taken literally.
func (c *Client) Push(ctx context.Context, p Params, localPath, remotePath string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveSession("push", sessionResult(err), time.Since(start)) }()

	src, err := os.Open(localPath)
	if err != nil {
		return &TransferError{Op: "open local", Path: localPath, Err: err}
	}
	defer src.Close()

	return c.withSFTP(ctx, p, func(sc *sftp.Client) error {
		dst, err := sc.Create(remotePath)
		if err != nil {
			return &TransferError{Op: "create remote", Path: remotePath, Err: err}
		}
		n, err := io.Copy(dst, src)
		if err != nil {
			dst.Close()
			return &TransferError{Op: "write remote", Path: remotePath, Err: err}
		}
		if err := dst.Close(); err != nil {
			return &TransferError{Op: "close remote", Path: remotePath, Err: err}
		}
		log.Debug("sftp push", "host", p.Host, "remote", remotePath, "bytes", n)
		return nil
	})
}

// Pull copies remotePath to localPath over SFTP. The local parent directory
// must already exist. A failed pull removes the partial local file.
func (c *Client) Pull(ctx context.Context, p Params, remotePath, localPath string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveSession("pull", sessionResult(err), time.Since(start)) }()

	return c.withSFTP(ctx, p, func(sc *sftp.Client) error {
		src, err := sc.Open(remotePath)
		if err != nil {
			return &TransferError{Op: "open remote", Path: remotePath, Err: err}
		}
		defer src.Close()

		dst, err := os.Create(localPath)
		if err != nil {
			return &TransferError{Op: "create local", Path: localPath, Err: err}
		}
		n, err := io.Copy(dst, src)
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(localPath)
			return &TransferError{Op: "read remote", Path: remotePath, Err: err}
		}
		log.Debug("sftp pull", "host", p.Host, "remote", remotePath, "bytes", n)
		return nil
	})
}

// withSFTP opens a connection and SFTP subsystem, runs fn, and closes both.
func (c *Client) withSFTP(ctx context.Context, p Params, fn func(*sftp.Client) error) error {
	client, err := c.dial(ctx, p)
	if err != nil {
		return err
	}
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return &ConnectionError{Host: p.Host, Stage: "sftp", Err: fmt.Errorf("starting subsystem: %w", err)}
	}
	defer sc.Close()

	return fn(sc)
}
