// Package fleet runs an operation against many hosts, or many agents across
// hosts, concurrently and collects every outcome. One unit failing, or
// panicking, never stops the others: the result slice always has one entry
// per unit, in input order.
package fleet

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/metrics"
	"github.com/majorcontext/reef/internal/remote"
)

// Host is one fleet member.
type Host struct {
	ID     string
	Params remote.Params
}

// Result is the settled outcome of one unit. Exactly one of Value and Err
// is meaningful.
type Result[T any] struct {
	Host string `json:"host"`
	// Agent is empty for host-level units and for hosts whose agent list
	// could not be fetched.
	Agent string `json:"agent,omitempty"`
	Value T      `json:"value,omitempty"`
	Err   error  `json:"-"`
}

// Failed reports whether the unit ended in an error.
func (r Result[T]) Failed() bool { return r.Err != nil }

// Options bounds a fan-out.
type Options struct {
	// Concurrency caps units in flight. Zero means no cap.
	Concurrency int
	// DialsPerSecond paces unit starts. Zero means no pacing.
	DialsPerSecond float64
}

// Aggregator runs fan-outs with fixed limits. It is safe for concurrent use.
type Aggregator struct {
	limit   int
	limiter *rate.Limiter
}

// New returns an Aggregator.
func New(opts Options) *Aggregator {
	a := &Aggregator{limit: opts.Concurrency}
	if opts.DialsPerSecond > 0 {
		burst := max(1, int(opts.DialsPerSecond))
		a.limiter = rate.NewLimiter(rate.Limit(opts.DialsPerSecond), burst)
	}
	return a
}

// Hosts runs op once per host.
func Hosts[T any](ctx context.Context, a *Aggregator, hosts []Host, op func(context.Context, Host) (T, error)) []Result[T] {
	results := make([]Result[T], len(hosts))
	for i, h := range hosts {
		results[i].Host = h.ID
	}
	a.each(ctx, len(hosts), func(ctx context.Context, i int) error {
		v, err := op(ctx, hosts[i])
		results[i].Value = v
		return err
	}, func(i int, err error) { results[i].Err = err })
	return results
}

// Agents lists the agents on every host, then runs op once per (host,
// agent). A host whose listing fails contributes a single result carrying
// that error. Results are grouped by host in input order.
func Agents[T any](
	ctx context.Context,
	a *Aggregator,
	hosts []Host,
	list func(context.Context, Host) ([]string, error),
	op func(context.Context, Host, string) (T, error),
) []Result[T] {
	listed := Hosts(ctx, a, hosts, list)

	type unit struct {
		host  Host
		agent string
		err   error
	}
	var units []unit
	for i, l := range listed {
		if l.Err != nil {
			units = append(units, unit{host: hosts[i], err: l.Err})
			continue
		}
		for _, agent := range l.Value {
			units = append(units, unit{host: hosts[i], agent: agent})
		}
	}

	results := make([]Result[T], len(units))
	for i, u := range units {
		results[i] = Result[T]{Host: u.host.ID, Agent: u.agent, Err: u.err}
	}
	a.each(ctx, len(units), func(ctx context.Context, i int) error {
		if units[i].err != nil {
			return units[i].err
		}
		v, err := op(ctx, units[i].host, units[i].agent)
		results[i].Value = v
		return err
	}, func(i int, err error) { results[i].Err = err })
	return results
}

// each runs fn for indices [0, n) and reports each outcome through settle.
// It returns once every unit has settled.
func (a *Aggregator) each(ctx context.Context, n int, fn func(context.Context, int) error, settle func(int, error)) {
	var g errgroup.Group
	if a.limit > 0 {
		g.SetLimit(a.limit)
	}
	for i := range n {
		g.Go(func() error {
			err := a.unit(ctx, i, fn)
			settle(i, err)
			metrics.RecordFleetUnit(err != nil)
			return nil
		})
	}
	_ = g.Wait()
}

func (a *Aggregator) unit(ctx context.Context, i int, fn func(context.Context, int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("fleet unit panicked", "unit", i, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting to dial: %w", err)
		}
	}
	return fn(ctx, i)
}
