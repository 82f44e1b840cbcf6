package files_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/reef/internal/files"
	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/testutil/fakeremote"
	"github.com/majorcontext/reef/internal/testutil/sshtest"
)

var host = remote.Params{Host: "10.0.0.5", PrivateKey: []byte("key")}

func TestCheckPath(t *testing.T) {
	tests := []struct {
		path string
		ok   bool
	}{
		{"~/.openclaw", true},
		{"~/.openclaw/", true},
		{"~/.openclaw/agents/hal/memory.md", true},
		{"~/.openclaw/agents/my file.txt", true},
		{"~/.openclaw/agents/..hidden", true},
		{"~/.openclaw/../.ssh/id_rsa", false},
		{"~/.openclaw/agents/../../etc/passwd", false},
		{"~/.openclaw/..", false},
		{"~/.openclawx/secret", false},
		{"~/.ssh/authorized_keys", false},
		{"/etc/passwd", false},
		{"/root/.openclaw/x", false},
		{".openclaw/x", false},
		{"", false},
		{"~/.openclaw/a\nrm -rf /", false},
		{"~/.openclaw/a\x00b", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := files.CheckPath(tt.path)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var pe *files.PolicyError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestFromLocalHome(t *testing.T) {
	tests := []struct {
		path, home, want string
	}{
		{"/home/ops/.openclaw/openclaw.json", "/home/ops", "~/.openclaw/openclaw.json"},
		{"/home/ops/.openclaw", "/home/ops/", "~/.openclaw"},
		{"/home/ops/.openclaw/", "/home/ops", "~/.openclaw/"},
		{"/home/ops/.openclawx/a", "/home/ops", "/home/ops/.openclawx/a"},
		{"/home/ops/.ssh/id_rsa", "/home/ops", "/home/ops/.ssh/id_rsa"},
		{"/home/ops/.openclaw/../.ssh/id_rsa", "/home/ops", "~/.openclaw/../.ssh/id_rsa"},
		{"~/.openclaw/a", "/home/ops", "~/.openclaw/a"},
		{"/.openclaw/a", "", "/.openclaw/a"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, files.FromLocalHome(tt.path, tt.home))
		})
	}
}

func TestRejectedPathsMakeNoRemoteCalls(t *testing.T) {
	bad := []string{"~/.openclaw/../.ssh/id_rsa", "/etc/shadow", "~/.bashrc", "~/.openclaw/x/../../y"}
	for _, path := range bad {
		fake := fakeremote.New()
		acc := files.New(fake, 0)
		ctx := context.Background()

		_, err := acc.Read(ctx, host, path)
		assert.Error(t, err)
		assert.Error(t, acc.Write(ctx, host, path, []byte("x")))
		_, err = acc.List(ctx, host, path)
		assert.Error(t, err)
		_, err = acc.Size(ctx, host, path)
		assert.Error(t, err)

		assert.Empty(t, fake.Calls(), "path %q reached the remote", path)
	}
}

func TestReadOverCeilingSkipsTransfer(t *testing.T) {
	fake := fakeremote.New().On("stat -c %s", fakeremote.Reply{Stdout: "1000001\n"})
	acc := files.New(fake, 0)

	_, err := acc.Read(context.Background(), host, "~/.openclaw/agents/hal/sessions.jsonl")

	var se *files.SizeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(1000001), se.Size)
	assert.Equal(t, int64(files.DefaultMaxBytes), se.Limit)
	require.Len(t, fake.Calls(), 1)
	assert.Contains(t, fake.Calls()[0].Cmd, "stat -c %s")
}

func TestReadAtCeilingTransfers(t *testing.T) {
	content := []byte("0123456789")
	fake := fakeremote.New().
		On("stat -c %s", fakeremote.Reply{Stdout: "10\n"}).
		On("base64 <", fakeremote.Reply{Stdout: base64.StdEncoding.EncodeToString(content) + "\n"})
	acc := files.New(fake, 10)

	got, err := acc.Read(context.Background(), host, "~/.openclaw/openclaw.json")
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Len(t, fake.Calls(), 2)
}

func TestReadMissingFile(t *testing.T) {
	fake := fakeremote.New().On("stat", fakeremote.Reply{Stderr: "stat: cannot stat: No such file or directory", ExitCode: 1})
	acc := files.New(fake, 0)

	_, err := acc.Read(context.Background(), host, "~/.openclaw/nope")
	var ce *files.CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.ExitCode)
	assert.Len(t, fake.Calls(), 1)
}

func TestWriteOverCeiling(t *testing.T) {
	fake := fakeremote.New()
	acc := files.New(fake, 4)

	err := acc.Write(context.Background(), host, "~/.openclaw/x", []byte("12345"))
	var se *files.SizeError
	assert.ErrorAs(t, err, &se)
	assert.Empty(t, fake.Calls())
}

func TestWriteCommandCarriesOnlyBase64(t *testing.T) {
	fake := fakeremote.New()
	acc := files.New(fake, 0)
	content := []byte("'; rm -rf ~ #`$(reboot)`\"")

	require.NoError(t, acc.Write(context.Background(), host, "~/.openclaw/agents/hal/SOUL.md", content))

	cmds := fake.Commands()
	require.Len(t, cmds, 1)
	assert.NotContains(t, cmds[0], "rm -rf")
	assert.NotContains(t, cmds[0], "reboot")
	assert.Contains(t, cmds[0], base64.StdEncoding.EncodeToString(content))
}

func TestWriteRejectsDirectory(t *testing.T) {
	fake := fakeremote.New()
	acc := files.New(fake, 0)
	assert.Error(t, acc.Write(context.Background(), host, "~/.openclaw", []byte("x")))
	assert.Error(t, acc.Write(context.Background(), host, "~/.openclaw/agents/", []byte("x")))
	assert.Empty(t, fake.Calls())
}

func TestWriteStagedCleansUpOnFailure(t *testing.T) {
	fake := fakeremote.New().On("base64 -d", fakeremote.Reply{Stderr: "disk full", ExitCode: 1})
	acc := files.New(fake, 0)

	err := acc.Write(context.Background(), host, "~/.openclaw/big.bin", bytes.Repeat([]byte("a"), 200_000))
	var ce *files.CommandError
	require.ErrorAs(t, err, &ce)
	assert.True(t, fake.Ran("rm -f"), "staging file not removed")
}

func TestListParsesEntries(t *testing.T) {
	fake := fakeremote.New().On("ls -1p", fakeremote.Reply{Stdout: "agent/\nmemories/\nSOUL.md\nsessions.jsonl\n"})
	acc := files.New(fake, 0)

	entries, err := acc.List(context.Background(), host, "~/.openclaw/agents/hal")
	require.NoError(t, err)
	assert.Equal(t, []files.Entry{
		{Name: "agent", Type: "directory"},
		{Name: "memories", Type: "directory"},
		{Name: "SOUL.md", Type: "file"},
		{Name: "sessions.jsonl", Type: "file"},
	}, entries)
}

func TestConnectionErrorPassesThrough(t *testing.T) {
	connErr := &remote.ConnectionError{Host: host.Host, Stage: "dial", Err: errors.New("refused")}
	fake := fakeremote.New().On("", fakeremote.Reply{Err: connErr})
	acc := files.New(fake, 0)

	_, err := acc.Read(context.Background(), host, "~/.openclaw/x")
	var ce *remote.ConnectionError
	assert.ErrorAs(t, err, &ce)
}

// The tests below run the real command lines through /bin/sh on an
// in-process SSH server.

func shellAccessor(t *testing.T) (*files.Accessor, remote.Params, string) {
	t.Helper()
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".openclaw", "agents", "hal"), 0o755))

	srv := sshtest.Start(t, sshtest.ShellHandler(home))
	client, err := remote.NewClient(remote.Options{InsecureSkipHostKeyCheck: true})
	require.NoError(t, err)
	return files.New(client, 0), remote.Params{Host: srv.Host, Port: srv.Port, PrivateKey: srv.ClientKey}, home
}

func TestWriteIsByteExactAndIdempotent(t *testing.T) {
	acc, p, home := shellAccessor(t)
	ctx := context.Background()
	content := []byte("line 1\n'single' \"double\" `tick` $HOME $(id) ; | & \\ \n\x00\xff trailing")
	path := "~/.openclaw/agents/hal/notes with space.md"
	onDisk := filepath.Join(home, ".openclaw", "agents", "hal", "notes with space.md")

	for i := 0; i < 2; i++ {
		require.NoError(t, acc.Write(ctx, p, path, content))
		got, err := os.ReadFile(onDisk)
		require.NoError(t, err)
		assert.Equal(t, content, got, "write %d", i+1)
	}

	got, err := acc.Read(ctx, p, path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestWriteLargePayloadIsStaged(t *testing.T) {
	acc, p, home := shellAccessor(t)
	ctx := context.Background()

	content := make([]byte, 300_000)
	rand.New(rand.NewSource(1)).Read(content)
	require.NoError(t, acc.Write(ctx, p, "~/.openclaw/agents/hal/blob.bin", content))

	dir := filepath.Join(home, ".openclaw", "agents", "hal")
	got, err := os.ReadFile(filepath.Join(dir, "blob.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	_, err = os.Stat(filepath.Join(dir, "blob.bin.reef-upload"))
	assert.True(t, os.IsNotExist(err), "staging file left behind")

	n, err := acc.Size(ctx, p, "~/.openclaw/agents/hal/blob.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
}

func TestListOverShell(t *testing.T) {
	acc, p, home := shellAccessor(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, ".openclaw", "openclaw.json"), []byte("{}"), 0o600))

	entries, err := acc.List(context.Background(), p, "~/.openclaw")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name+":"+e.Type)
	}
	assert.Equal(t, "agents:directory,openclaw.json:file", strings.Join(names, ","))
}
