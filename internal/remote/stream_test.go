package remote_test

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/testutil/sshtest"
)

func TestStreamDeliversChunksInOrder(t *testing.T) {
	srv := sshtest.Start(t, func(cmd string, stdout, stderr io.Writer) int {
		io.WriteString(stdout, "first\n")
		time.Sleep(20 * time.Millisecond)
		io.WriteString(stderr, "ignored\n")
		io.WriteString(stdout, "second\n")
		return 7
	})

	s, err := newClient(t).Stream(context.Background(), paramsFor(srv), "openclaw agent --agent main -m hi")
	require.NoError(t, err)

	sc := bufio.NewScanner(s)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"first", "second"}, lines)

	code, err := s.Wait()
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	srv.WaitIdle(t)
}

func TestStreamWaitDrainsUnreadOutput(t *testing.T) {
	srv := sshtest.Start(t, func(cmd string, stdout, stderr io.Writer) int {
		io.WriteString(stdout, "never read\n")
		return 0
	})

	s, err := newClient(t).Stream(context.Background(), paramsFor(srv), "echo")
	require.NoError(t, err)

	code, err := s.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	srv.WaitIdle(t)
}

func TestStreamCloseTearsDown(t *testing.T) {
	srv := sshtest.Start(t, func(cmd string, stdout, stderr io.Writer) int {
		for {
			if _, err := io.WriteString(stdout, "tick\n"); err != nil {
				return 0
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	s, err := newClient(t).Stream(context.Background(), paramsFor(srv), "tail -f log")
	require.NoError(t, err)

	line, err := bufio.NewReader(s).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "tick\n", line)

	require.NoError(t, s.Close())
	code, err := s.Wait()
	assert.ErrorIs(t, err, remote.ErrStreamClosed)
	assert.Equal(t, -1, code)
	srv.WaitIdle(t)
}

func TestStreamContextCancelTearsDown(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	srv := sshtest.Start(t, func(cmd string, stdout, stderr io.Writer) int {
		io.WriteString(stdout, "waiting\n")
		<-release
		return 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := newClient(t).Stream(ctx, paramsFor(srv), "sleep infinity")
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "waiting\n", string(buf[:n]))

	cancel()
	_, err = s.Wait()
	assert.ErrorIs(t, err, remote.ErrStreamClosed)
	srv.WaitIdle(t)
}

func TestStreamConnectionFailure(t *testing.T) {
	srv := sshtest.Start(t, func(string, io.Writer, io.Writer) int { return 0 })
	other, _ := sshtest.NewKey(t)

	p := paramsFor(srv)
	p.PrivateKey = other
	_, err := newClient(t).Stream(context.Background(), p, "true")

	var ce *remote.ConnectionError
	require.ErrorAs(t, err, &ce)
}

func TestPushPullRoundTrip(t *testing.T) {
	srv := sshtest.Start(t, func(string, io.Writer, io.Writer) int { return 0 })
	c := newClient(t)
	dir := t.TempDir()

	content := []byte("binary\x00\xff\xfe archive bytes\n")
	local := filepath.Join(dir, "agent.tar.gz")
	require.NoError(t, os.WriteFile(local, content, 0o600))

	remotePath := filepath.Join(dir, "remote", "agent.tar.gz")
	require.NoError(t, os.MkdirAll(filepath.Dir(remotePath), 0o755))

	require.NoError(t, c.Push(context.Background(), paramsFor(srv), local, remotePath))
	got, err := os.ReadFile(remotePath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	back := filepath.Join(dir, "pulled.tar.gz")
	require.NoError(t, c.Pull(context.Background(), paramsFor(srv), remotePath, back))
	got, err = os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	srv.WaitIdle(t)
}

func TestPushOverwrites(t *testing.T) {
	srv := sshtest.Start(t, func(string, io.Writer, io.Writer) int { return 0 })
	dir := t.TempDir()

	local := filepath.Join(dir, "new")
	require.NoError(t, os.WriteFile(local, []byte("new"), 0o600))
	remotePath := filepath.Join(dir, "existing")
	require.NoError(t, os.WriteFile(remotePath, []byte("old and longer"), 0o600))

	require.NoError(t, newClient(t).Push(context.Background(), paramsFor(srv), local, remotePath))
	got, err := os.ReadFile(remotePath)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestTransferErrors(t *testing.T) {
	srv := sshtest.Start(t, func(string, io.Writer, io.Writer) int { return 0 })
	c := newClient(t)
	dir := t.TempDir()

	t.Run("missing remote file", func(t *testing.T) {
		local := filepath.Join(dir, "out")
		err := c.Pull(context.Background(), paramsFor(srv), filepath.Join(dir, "absent"), local)

		var te *remote.TransferError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "open remote", te.Op)
		_, statErr := os.Stat(local)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("missing local file", func(t *testing.T) {
		err := c.Push(context.Background(), paramsFor(srv), filepath.Join(dir, "absent"), filepath.Join(dir, "x"))

		var te *remote.TransferError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "open local", te.Op)
	})

	t.Run("missing remote parent", func(t *testing.T) {
		local := filepath.Join(dir, "src")
		require.NoError(t, os.WriteFile(local, []byte("x"), 0o600))
		err := c.Push(context.Background(), paramsFor(srv), local, filepath.Join(dir, "no", "such", "dir", "f"))

		var te *remote.TransferError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "create remote", te.Op)
	})

	srv.WaitIdle(t)
}
