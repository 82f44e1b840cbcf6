package fleet_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/reef/internal/fleet"
	"github.com/majorcontext/reef/internal/remote"
)

func makeHosts(n int) []fleet.Host {
	hosts := make([]fleet.Host, n)
	for i := range hosts {
		hosts[i] = fleet.Host{ID: fmt.Sprintf("reef-%d", i), Params: remote.Params{Host: fmt.Sprintf("10.0.0.%d", i)}}
	}
	return hosts
}

func TestHostsAllSettled(t *testing.T) {
	const n, failing = 8, 3
	hosts := makeHosts(n)

	results := fleet.Hosts(context.Background(), fleet.New(fleet.Options{}), hosts,
		func(_ context.Context, h fleet.Host) (string, error) {
			if h.ID == hosts[failing].ID {
				return "", &remote.ConnectionError{Host: h.Params.Host, Stage: "dial", Err: errors.New("timeout")}
			}
			return "ok " + h.ID, nil
		})

	require.Len(t, results, n)
	for i, r := range results {
		assert.Equal(t, hosts[i].ID, r.Host)
		if i == failing {
			assert.True(t, r.Failed())
			var ce *remote.ConnectionError
			assert.ErrorAs(t, r.Err, &ce)
			continue
		}
		assert.NoError(t, r.Err)
		assert.Equal(t, "ok "+hosts[i].ID, r.Value)
	}
}

func TestHostsCapturesPanics(t *testing.T) {
	hosts := makeHosts(3)

	results := fleet.Hosts(context.Background(), fleet.New(fleet.Options{}), hosts,
		func(_ context.Context, h fleet.Host) (int, error) {
			if h.ID == "reef-1" {
				panic("nil map write")
			}
			return 1, nil
		})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorContains(t, results[1].Err, "panic: nil map write")
	assert.NoError(t, results[2].Err)
}

func TestHostsRespectsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	hosts := makeHosts(12)

	fleet.Hosts(context.Background(), fleet.New(fleet.Options{Concurrency: 3}), hosts,
		func(context.Context, fleet.Host) (struct{}, error) {
			now := inFlight.Add(1)
			for {
				p := peak.Load()
				if now <= p || peak.CompareAndSwap(p, now) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return struct{}{}, nil
		})

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestHostsRunsConcurrently(t *testing.T) {
	hosts := makeHosts(10)
	start := time.Now()

	fleet.Hosts(context.Background(), fleet.New(fleet.Options{}), hosts,
		func(context.Context, fleet.Host) (struct{}, error) {
			time.Sleep(50 * time.Millisecond)
			return struct{}{}, nil
		})

	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestHostsPacingCancelled(t *testing.T) {
	hosts := makeHosts(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := fleet.Hosts(ctx, fleet.New(fleet.Options{DialsPerSecond: 0.001}), hosts,
		func(context.Context, fleet.Host) (int, error) { return 1, nil })

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, hosts[i].ID, r.Host)
		assert.Error(t, r.Err)
	}
}

func TestHostsEmpty(t *testing.T) {
	results := fleet.Hosts(context.Background(), fleet.New(fleet.Options{}), nil,
		func(context.Context, fleet.Host) (int, error) { return 0, nil })
	assert.Empty(t, results)
}

func TestAgents(t *testing.T) {
	hosts := makeHosts(3)
	agentsByHost := map[string][]string{
		"reef-0": {"main", "hal"},
		"reef-2": {"ada"},
	}

	results := fleet.Agents(context.Background(), fleet.New(fleet.Options{Concurrency: 2}), hosts,
		func(_ context.Context, h fleet.Host) ([]string, error) {
			if h.ID == "reef-1" {
				return nil, errors.New("unreachable")
			}
			return agentsByHost[h.ID], nil
		},
		func(_ context.Context, h fleet.Host, agent string) (string, error) {
			if agent == "hal" {
				return "", errors.New("agent directory missing")
			}
			return h.ID + "/" + agent, nil
		})

	require.Len(t, results, 4)
	type key struct{ host, agent string }
	var got []key
	for _, r := range results {
		got = append(got, key{r.Host, r.Agent})
	}
	assert.Equal(t, []key{{"reef-0", "main"}, {"reef-0", "hal"}, {"reef-1", ""}, {"reef-2", "ada"}}, got)

	assert.Equal(t, "reef-0/main", results[0].Value)
	assert.ErrorContains(t, results[1].Err, "agent directory missing")
	assert.ErrorContains(t, results[2].Err, "unreachable")
	assert.Equal(t, "reef-2/ada", results[3].Value)
}
