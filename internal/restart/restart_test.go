package restart

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/testutil/fakeremote"
	"github.com/majorcontext/reef/internal/testutil/sshtest"
)

var host = remote.Params{Host: "10.0.0.7", PrivateKey: []byte("key")}

func newTestOrchestrator(fake *fakeremote.Fake, slept *[]time.Duration) *Orchestrator {
	return New(fake, WithSleep(func(_ context.Context, d time.Duration) error {
		if slept != nil {
			*slept = append(*slept, d)
		}
		return nil
	}))
}

func TestGatewayHealthy(t *testing.T) {
	fake := fakeremote.New().
		On(gatewayRestart, fakeremote.Reply{Stdout: "Gateway restarted\n"}).
		On(gatewayProbe, fakeremote.Reply{Stdout: `{"ok":true}`})
	var slept []time.Duration

	out := newTestOrchestrator(fake, &slept).Restart(context.Background(), host)

	assert.True(t, out.Success)
	assert.Equal(t, MethodGateway, out.Method)
	assert.Equal(t, "Gateway restarted", out.Output)
	assert.NotEmpty(t, out.OpID)
	assert.Equal(t, []string{gatewayRestart, gatewayProbe}, fake.Commands())
	assert.Equal(t, []time.Duration{DefaultSettle}, slept)
}

func TestGatewayUnhealthyDoesNotEscalate(t *testing.T) {
	fake := fakeremote.New().
		On(gatewayRestart, fakeremote.Reply{}).
		On(gatewayProbe, fakeremote.Reply{ExitCode: 1})

	out := newTestOrchestrator(fake, nil).Restart(context.Background(), host)

	assert.False(t, out.Success)
	assert.Equal(t, MethodGateway, out.Method)
	assert.Equal(t, "restarted via openclaw gateway restart", out.Output)
	assert.False(t, fake.Ran("systemctl"))
	assert.False(t, fake.Ran("pkill"))
}

func TestServiceManagerActive(t *testing.T) {
	fake := fakeremote.New().
		On(gatewayRestart, fakeremote.Reply{Stdout: "error: gateway not running", ExitCode: 1}).
		On(serviceRestart, fakeremote.Reply{}).
		On(serviceProbe, fakeremote.Reply{Stdout: "active\n"})

	out := newTestOrchestrator(fake, nil).Restart(context.Background(), host)

	assert.True(t, out.Success)
	assert.Equal(t, MethodServiceManager, out.Method)
	assert.Equal(t, []string{gatewayRestart, serviceRestart, serviceProbe}, fake.Commands())
	assert.False(t, fake.Ran(gatewayProbe))
}

func TestServiceManagerInactiveDoesNotEscalate(t *testing.T) {
	fake := fakeremote.New().
		On(gatewayRestart, fakeremote.Reply{ExitCode: 127}).
		On(serviceRestart, fakeremote.Reply{}).
		On(serviceProbe, fakeremote.Reply{Stdout: "failed\n", ExitCode: 3})

	out := newTestOrchestrator(fake, nil).Restart(context.Background(), host)

	assert.False(t, out.Success)
	assert.Equal(t, MethodServiceManager, out.Method)
	assert.False(t, fake.Ran("pkill"))
}

func TestForcedKill(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		success bool
	}{
		{"killed", "killed\n", true},
		{"still running", "still_running\n", false},
		{"noise before verdict", "pkill: warning\nkilled\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := fakeremote.New().
				On(gatewayRestart, fakeremote.Reply{ExitCode: 1}).
				On(serviceRestart, fakeremote.Reply{Stdout: "Failed to connect to bus", ExitCode: 1}).
				On("pkill", fakeremote.Reply{Stdout: tt.stdout})
			var slept []time.Duration

			out := newTestOrchestrator(fake, &slept).Restart(context.Background(), host)

			assert.Equal(t, tt.success, out.Success)
			assert.Equal(t, MethodForcedKill, out.Method)
			assert.NotEmpty(t, out.Output)
			assert.Equal(t, []string{gatewayRestart, serviceRestart, forcedKill}, fake.Commands())
			assert.Empty(t, slept, "forced kill has no settle step")
		})
	}
}

func TestConnectionErrorStopsAtCurrentTier(t *testing.T) {
	connErr := &remote.ConnectionError{Host: host.Host, Stage: "dial", Err: errors.New("connection refused")}

	t.Run("first tier", func(t *testing.T) {
		fake := fakeremote.New().On("", fakeremote.Reply{Err: connErr})

		out := newTestOrchestrator(fake, nil).Restart(context.Background(), host)

		assert.False(t, out.Success)
		assert.Equal(t, MethodGateway, out.Method)
		assert.Contains(t, out.Output, "connection refused")
		assert.Len(t, fake.Commands(), 1)
	})

	t.Run("second tier", func(t *testing.T) {
		fake := fakeremote.New().
			On(gatewayRestart, fakeremote.Reply{ExitCode: 1}).
			On(serviceRestart, fakeremote.Reply{Err: connErr})

		out := newTestOrchestrator(fake, nil).Restart(context.Background(), host)

		assert.False(t, out.Success)
		assert.Equal(t, MethodServiceManager, out.Method)
		assert.False(t, fake.Ran("pkill"))
	})

	t.Run("during probe", func(t *testing.T) {
		fake := fakeremote.New().
			On(gatewayRestart, fakeremote.Reply{}).
			On(gatewayProbe, fakeremote.Reply{Err: connErr})

		out := newTestOrchestrator(fake, nil).Restart(context.Background(), host)

		assert.False(t, out.Success)
		assert.Equal(t, MethodGateway, out.Method)
		assert.Contains(t, out.Output, "health check failed")
	})
}

func TestSettleCancelled(t *testing.T) {
	fake := fakeremote.New().On(gatewayRestart, fakeremote.Reply{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := New(fake, WithSettle(time.Hour)).Restart(ctx, host)

	assert.False(t, out.Success)
	assert.Equal(t, MethodGateway, out.Method)
	assert.Contains(t, out.Output, "health check skipped")
	assert.False(t, fake.Ran(gatewayProbe))
}

func TestSleepWaits(t *testing.T) {
	start := time.Now()
	require.NoError(t, sleep(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestForcedKillSparesItsOwnShell(t *testing.T) {
	for _, bin := range []string{"pkill", "pgrep"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed", bin)
		}
	}
	srv := sshtest.Start(t, sshtest.ShellHandler(t.TempDir()))
	c, err := remote.NewClient(remote.Options{InsecureSkipHostKeyCheck: true, DialTimeout: 5 * time.Second})
	require.NoError(t, err)

	res, err := c.Run(context.Background(), remote.Params{Host: srv.Host, Port: srv.Port, PrivateKey: srv.ClientKey}, forcedKill)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "killed\n", res.Stdout)
}
