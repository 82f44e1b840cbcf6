// Package migrate moves one agent's state directory from one host to another
// by archiving it on the source, relaying the archive through a local
// staging file, and extracting it on the destination.
//
// Steps run strictly in order and the first failure ends the migration.
// Nothing is rolled back: a failure after extraction leaves the agent on both
// hosts, and a failure before it leaves the destination untouched or holding
// a stray archive. The source directory is deleted only when asked and only
// after every transfer step succeeded.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/metrics"
	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/shellcmd"
)

// Method identifies the transfer strategy in every Outcome.
const Method = "tar-transfer"

// agentsDir is where OpenClaw keeps per-agent state on every host.
const agentsDir = "$HOME/.openclaw/agents"

// Step names, as reported in Outcome.FailedStep.
const (
	StepValidate     = "validate"
	StepArchive      = "archive source"
	StepPull         = "pull archive"
	StepVerify       = "verify archive"
	StepPrepare      = "prepare destination"
	StepPush         = "push archive"
	StepExtract      = "extract on destination"
	StepDeleteSource = "delete source"
)

// Executor is the subset of remote primitives a migration needs.
type Executor interface {
	remote.Runner
	remote.Transferrer
}

// Request describes one migration.
type Request struct {
	Source       remote.Params
	Destination  remote.Params
	AgentID      string
	DeleteSource bool
}

// Outcome is the settled result of a migration. Migrate never returns an
// error; failures are reported here.
type Outcome struct {
	Success    bool   `json:"success"`
	Method     string `json:"method"`
	Error      string `json:"error,omitempty"`
	FailedStep string `json:"failed_step,omitempty"`
	// SourceDeleted reports whether the source directory was removed.
	SourceDeleted bool   `json:"source_deleted"`
	OpID          string `json:"op_id,omitempty"`
}

// Migrator runs migrations.
type Migrator struct {
	exec       Executor
	stagingDir string
	remoteTmp  string
	now        func() time.Time
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithStagingDir sets the local directory archives are relayed through.
func WithStagingDir(dir string) Option {
	return func(m *Migrator) { m.stagingDir = dir }
}

// WithRemoteTempDir sets the directory used for archives on both hosts.
// It defaults to /tmp.
func WithRemoteTempDir(dir string) Option {
	return func(m *Migrator) { m.remoteTmp = dir }
}

// WithClock replaces time.Now for staging file names.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

// New returns a Migrator.
func New(e Executor, opts ...Option) *Migrator {
	m := &Migrator{exec: e, stagingDir: os.TempDir(), remoteTmp: "/tmp", now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// stepError carries the name of the step that failed.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }

// run holds the state of one migration in flight.
type run struct {
	m        *Migrator
	req      Request
	logger   *slog.Logger
	remote   string
	local    string
	archived bool
	cleaned  bool
}

// Migrate performs req. Once the first command is issued the migration runs
// to completion regardless of ctx.
func (m *Migrator) Migrate(ctx context.Context, req Request) Outcome {
	if err := shellcmd.ValidateID("agent ID", req.AgentID); err != nil {
		return Outcome{Method: Method, Error: err.Error(), FailedStep: StepValidate}
	}
	ctx = context.WithoutCancel(ctx)

	logger, opID := log.Operation("migrate", "agent", req.AgentID, "source", req.Source.Host, "destination", req.Destination.Host)
	logger.Info("migration started", "delete_source", req.DeleteSource)

	r := &run{
		m:      m,
		req:    req,
		logger: logger,
		remote: path.Join(m.remoteTmp, "reef-migrate-"+req.AgentID+".tar.gz"),
		local:  filepath.Join(m.stagingDir, fmt.Sprintf("reef-migrate-%s-%d.tar.gz", req.AgentID, m.now().UnixNano())),
	}
	defer r.cleanup(ctx)

	out := Outcome{Method: Method, OpID: opID}
	err := r.transfer(ctx)
	r.cleanup(ctx)

	if err == nil && req.DeleteSource {
		err = r.deleteSource(ctx)
		out.SourceDeleted = err == nil
	}

	if err != nil {
		out.Error = err.Error()
		var se *stepError
		if errors.As(err, &se) {
			out.FailedStep = se.step
		}
		logger.Warn("migration failed", "step", out.FailedStep, "error", err)
	} else {
		out.Success = true
		logger.Info("migration finished", "source_deleted", out.SourceDeleted)
	}
	metrics.RecordMigration(out.Success)
	return out
}

// transfer runs steps 1 through 5.
func (r *run) transfer(ctx context.Context) error {
	id := r.req.AgentID
	src, dst := r.req.Source, r.req.Destination

	res, err := r.m.exec.Run(ctx, src, "tar -czf "+shellcmd.Quote(r.remote)+" -C "+agentsDir+" "+id)
	if err != nil {
		return &stepError{StepArchive, err}
	}
	r.archived = true
	if !res.OK() {
		return &stepError{StepArchive, exitError(res)}
	}

	if err := r.m.exec.Pull(ctx, src, r.remote, r.local); err != nil {
		return &stepError{StepPull, err}
	}
	if err := VerifyArchive(r.local, id); err != nil {
		return &stepError{StepVerify, err}
	}

	res, err = r.m.exec.Run(ctx, dst, "mkdir -p "+agentsDir)
	if err != nil {
		return &stepError{StepPrepare, err}
	}
	if !res.OK() {
		return &stepError{StepPrepare, exitError(res)}
	}

	if err := r.m.exec.Push(ctx, dst, r.local, r.remote); err != nil {
		return &stepError{StepPush, err}
	}

	tmp := shellcmd.Quote(r.remote)
	res, err = r.m.exec.Run(ctx, dst, "tar -xzf "+tmp+" -C "+agentsDir+" && rm "+tmp)
	if err != nil {
		return &stepError{StepExtract, err}
	}
	if !res.OK() {
		return &stepError{StepExtract, exitError(res)}
	}
	return nil
}

// cleanup removes the local staging file and, if the source archive step
// ran, the source's temp archive. It runs once; failures are logged and
// never change the outcome.
func (r *run) cleanup(ctx context.Context) {
	if r.cleaned {
		return
	}
	r.cleaned = true

	if err := os.Remove(r.local); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("removing staged archive failed", "path", r.local, "error", err)
	}

	if !r.archived {
		return
	}
	res, err := r.m.exec.Run(ctx, r.req.Source, "rm -f "+shellcmd.Quote(r.remote))
	switch {
	case err != nil:
		r.logger.Warn("removing source archive failed", "path", r.remote, "error", err)
	case !res.OK():
		r.logger.Warn("removing source archive failed", "path", r.remote, "error", exitError(res))
	}
}

func (r *run) deleteSource(ctx context.Context) error {
	res, err := r.m.exec.Run(ctx, r.req.Source, "rm -rf "+agentsDir+"/"+r.req.AgentID)
	if err != nil {
		return &stepError{StepDeleteSource, err}
	}
	if !res.OK() {
		return &stepError{StepDeleteSource, exitError(res)}
	}
	return nil
}

func exitError(res *remote.Result) error {
	out := strings.TrimSpace(res.Combined())
	if out == "" {
		return fmt.Errorf("exit %d", res.ExitCode)
	}
	return fmt.Errorf("exit %d: %s", res.ExitCode, out)
}
