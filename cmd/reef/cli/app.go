package cli

import (
	"context"
	"os"

	"github.com/majorcontext/reef/internal/audit"
	"github.com/majorcontext/reef/internal/config"
	"github.com/majorcontext/reef/internal/fleet"
	"github.com/majorcontext/reef/internal/inventory"
	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/openclaw"
	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/ui"
)

// app is the state shared by one invocation's commands.
type app struct {
	verbose    bool
	jsonOut    bool
	configPath string
	// metricsFile is set by fleet --metrics-file.
	metricsFile string

	cfg    *config.Config
	inv    *inventory.Inventory
	client *remote.Client
}

func (a *app) init() error {
	cfg, err := config.Load(a.configFile())
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := log.Init(log.Options{
		Verbose:       a.verbose,
		JSONFormat:    a.jsonOut,
		DebugDir:      cfg.Debug.Dir,
		RetentionDays: cfg.Debug.RetentionDays,
	}); err != nil {
		ui.Warnf("failed to initialize debug logging: %v", err)
	}

	a.inv = inventory.New(cfg)
	return nil
}

func (a *app) configFile() string {
	switch {
	case a.configPath != "":
		return a.configPath
	case os.Getenv("REEF_CONFIG") != "":
		return os.Getenv("REEF_CONFIG")
	default:
		return config.DefaultPath()
	}
}

// remote returns the SSH client, building it on first use so that commands
// which never dial do not need a readable known_hosts file.
func (a *app) remote() (*remote.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := remote.NewClient(remote.Options{
		DialTimeout:              a.cfg.SSH.DialTimeout,
		KnownHostsPath:           a.cfg.SSH.KnownHosts,
		InsecureSkipHostKeyCheck: a.cfg.SSH.InsecureSkipHostKeyCheck,
	})
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// target resolves an instance id and the SSH client in one step.
func (a *app) target(ctx context.Context, instance string) (*remote.Client, remote.Params, error) {
	c, err := a.remote()
	if err != nil {
		return nil, remote.Params{}, err
	}
	p, _, err := a.inv.Resolve(ctx, instance)
	if err != nil {
		return nil, remote.Params{}, err
	}
	return c, p, nil
}

func (a *app) openclaw(ctx context.Context, instance string) (*openclaw.Client, remote.Params, error) {
	c, p, err := a.target(ctx, instance)
	if err != nil {
		return nil, remote.Params{}, err
	}
	return openclaw.New(c), p, nil
}

func (a *app) aggregator() *fleet.Aggregator {
	return fleet.New(fleet.Options{
		Concurrency:    a.cfg.Fleet.Concurrency,
		DialsPerSecond: a.cfg.Fleet.DialsPerSecond,
	})
}

// journal appends an entry to the audit journal. Journal failures are
// reported but never fail the operation that was already performed.
func (a *app) journal(typ audit.EntryType, data any) {
	store, err := audit.OpenStore(a.cfg.Audit.Path)
	if err != nil {
		ui.Warnf("audit journal unavailable: %v", err)
		return
	}
	defer store.Close()
	if _, err := store.Append(typ, data); err != nil {
		ui.Warnf("recording %s in audit journal: %v", typ, err)
		return
	}
	log.Debug("journaled operation", "type", typ)
}

// emit prints v as JSON under --json, otherwise calls human.
func (a *app) emit(v any, human func() error) error {
	if a.jsonOut {
		return ui.JSON(v)
	}
	return human()
}

// remoteTarget is a resolved instance.
type remoteTarget struct {
	instance string
	params   remote.Params
}
