package openclaw

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/migrate"
	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/shellcmd"
)

// DeployResult is the outcome of Deploy.
type DeployResult struct {
	Success      bool   `json:"success"`
	DoctorOutput string `json:"doctor_output"`
}

// Backup archives one agent's directory on the host and pulls it to
// localPath. The archive is checked before Backup returns; the remote copy
// is removed either way.
func (c *Client) Backup(ctx context.Context, p remote.Params, agentID, localPath string) error {
	if err := shellcmd.ValidateID("agent ID", agentID); err != nil {
		return err
	}
	tmp := "/tmp/reef-agent-backup-" + agentID + ".tar.gz"

	res, err := c.run(ctx, p, "tar -czf "+tmp+" -C "+AgentsDir+" "+agentID)
	if err != nil {
		return err
	}
	defer func() {
		if res, err := c.run(ctx, p, "rm -f "+tmp); err != nil || !res.OK() {
			log.Warn("removing backup archive failed", "host", p.Host, "path", tmp, "error", err)
		}
	}()
	if !res.OK() {
		return fmt.Errorf("archiving agent %s: exit %d: %s", agentID, res.ExitCode, strings.TrimSpace(res.Combined()))
	}

	if err := c.exec.Pull(ctx, p, tmp, localPath); err != nil {
		return err
	}
	if err := migrate.VerifyArchive(localPath, agentID); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("backup of %s is unusable: %w", agentID, err)
	}
	return nil
}

// Deploy pushes an agent archive produced by Backup to the host, unpacks it
// into the agents directory and runs the doctor so OpenClaw can migrate the
// agent's state.
func (c *Client) Deploy(ctx context.Context, p remote.Params, agentID, localPath string) (*DeployResult, error) {
	if err := shellcmd.ValidateID("agent ID", agentID); err != nil {
		return nil, err
	}
	if err := migrate.VerifyArchive(localPath, agentID); err != nil {
		return nil, fmt.Errorf("refusing to deploy %s: %w", localPath, err)
	}
	tmp := "/tmp/reef-deploy-" + agentID + ".tar.gz"

	if err := c.exec.Push(ctx, p, localPath, tmp); err != nil {
		return nil, err
	}
	defer func() {
		if res, err := c.run(ctx, p, "rm -f "+tmp); err != nil || !res.OK() {
			log.Warn("removing deploy archive failed", "host", p.Host, "path", tmp, "error", err)
		}
	}()

	res, err := c.run(ctx, p, "mkdir -p "+AgentsDir)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return &DeployResult{DoctorOutput: "mkdir failed: " + strings.TrimSpace(res.Combined())}, nil
	}
	res, err = c.run(ctx, p, "tar -xzf "+tmp+" -C "+AgentsDir)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return &DeployResult{DoctorOutput: "untar failed: " + strings.TrimSpace(res.Stderr)}, nil
	}

	doctor, err := c.Doctor(ctx, p, false)
	if err != nil {
		return nil, err
	}
	return &DeployResult{Success: true, DoctorOutput: doctor.Output}, nil
}
