// Package restart brings a host's OpenClaw gateway back through a fixed
// three-tier fallback: the gateway's own restart command, then the user
// service manager, then a forced kill.
//
// A tier is abandoned only when its issuing command fails. Once a tier's
// issuing command succeeds the machine stops there, whatever its health
// check reports; a lower tier never runs because a higher tier's check
// failed. The forced-kill tier only confirms the process is gone; it does
// not bring the gateway back.
package restart

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/metrics"
	"github.com/majorcontext/reef/internal/remote"
)

// DefaultSettle is how long to wait between a successful restart command and
// its health check.
const DefaultSettle = 3 * time.Second

// Method names the tier that produced an Outcome.
type Method string

const (
	MethodGateway        Method = "gateway"
	MethodServiceManager Method = "service-manager"
	MethodForcedKill     Method = "forced-kill"
)

// Outcome is the settled result of a restart. Restart never returns an
// error; failures are reported here.
type Outcome struct {
	Success bool   `json:"success"`
	Method  Method `json:"method"`
	Output  string `json:"output"`
	OpID    string `json:"op_id"`
}

const (
	gatewayRestart = "openclaw gateway restart 2>&1"
	gatewayProbe   = "openclaw health --json 2>/dev/null"
	serviceRestart = "systemctl --user restart openclaw-gateway 2>&1"
	serviceProbe   = "systemctl --user is-active openclaw-gateway 2>/dev/null"
	// The bracketed pattern keeps pkill and pgrep from matching the shell
	// running this command line.
	forcedKill     = `pkill -KILL -f '[o]penclaw-gateway' 2>&1; sleep 1; pgrep -f '[o]penclaw-gateway' > /dev/null 2>&1 && echo "still_running" || echo "killed"`
)

// state is one tier of the machine.
type state struct {
	method Method
	issue  string
	// probe is empty for tiers whose issuing command verifies itself.
	probe   string
	healthy func(probe *remote.Result) bool
	output  func(issue *remote.Result) string
}

var states = []state{
	{
		method:  MethodGateway,
		issue:   gatewayRestart,
		probe:   gatewayProbe,
		healthy: func(r *remote.Result) bool { return r.OK() },
		output: func(r *remote.Result) string {
			return orDefault(r.Stdout, "restarted via openclaw gateway restart")
		},
	},
	{
		method:  MethodServiceManager,
		issue:   serviceRestart,
		probe:   serviceProbe,
		healthy: func(r *remote.Result) bool { return strings.TrimSpace(r.Stdout) == "active" },
		output: func(r *remote.Result) string {
			return orDefault(r.Combined(), "restarted via systemctl --user")
		},
	},
	{
		method: MethodForcedKill,
		issue:  forcedKill,
	},
}

// Orchestrator runs the restart machine.
type Orchestrator struct {
	runner remote.Runner
	settle time.Duration
	sleep  func(context.Context, time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(o *Orchestrator) { o.settle = d }
}

// WithSleep replaces the settle wait, for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// New returns an Orchestrator.
func New(r remote.Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{runner: r, settle: DefaultSettle, sleep: sleep}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Restart walks the tiers in order and returns as soon as one tier's
// issuing command succeeds or a connection error ends the attempt.
func (o *Orchestrator) Restart(ctx context.Context, p remote.Params) Outcome {
	logger, opID := log.Operation("restart", "host", p.Host)
	logger.Info("restart started")

	var out Outcome
	for i, st := range states {
		var settled bool
		out, settled = o.step(ctx, logger, p, st)
		if settled {
			break
		}
		if i < len(states)-1 {
			logger.Info("restart tier failed, falling back", "method", st.method, "next", states[i+1].method)
		}
	}
	out.OpID = opID

	metrics.RecordRestart(string(out.Method), out.Success)
	logger.Info("restart finished", "method", out.Method, "success", out.Success)
	return out
}

// step runs one tier. settled is false only when the tier's issuing command
// exited nonzero and a lower tier exists to take over.
func (o *Orchestrator) step(ctx context.Context, logger *slog.Logger, p remote.Params, st state) (out Outcome, settled bool) {
	out.Method = st.method

	res, err := o.runner.Run(ctx, p, st.issue)
	if err != nil {
		logger.Warn("restart command did not run", "method", st.method, "error", err)
		out.Output = err.Error()
		return out, true
	}

	if st.method == MethodForcedKill {
		out.Success = lastLine(res.Stdout) == "killed"
		if out.Success {
			out.Output = "OpenClaw process killed; the service must be started again manually"
		} else {
			out.Output = "could not kill the OpenClaw process; check the host manually"
		}
		return out, true
	}

	if !res.OK() {
		logger.Debug("restart command failed", "method", st.method, "exit_code", res.ExitCode, "output", strings.TrimSpace(res.Combined()))
		out.Output = strings.TrimSpace(res.Combined())
		return out, false
	}
	out.Output = st.output(res)

	if err := o.sleep(ctx, o.settle); err != nil {
		out.Output += fmt.Sprintf("\nhealth check skipped: %v", err)
		return out, true
	}
	probe, err := o.runner.Run(ctx, p, st.probe)
	if err != nil {
		logger.Warn("health probe did not run", "method", st.method, "error", err)
		out.Output += "\nhealth check failed: " + err.Error()
		return out, true
	}
	out.Success = st.healthy(probe)
	logger.Debug("health probe", "method", st.method, "exit_code", probe.ExitCode, "healthy", out.Success)
	return out, true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
