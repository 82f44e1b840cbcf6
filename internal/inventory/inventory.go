// Package inventory maps configured instance ids to connection parameters,
// resolving each instance's key reference through internal/secrets.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/majorcontext/reef/internal/config"
	"github.com/majorcontext/reef/internal/fleet"
	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/secrets"
)

// UnknownInstanceError is returned for an id not present in the config.
type UnknownInstanceError struct {
	ID    string
	Known []string
}

func (e *UnknownInstanceError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown instance %q: no instances configured (add them under instances: in %s)", e.ID, config.DefaultPath())
	}
	return fmt.Sprintf("unknown instance %q (known: %s)", e.ID, strings.Join(e.Known, ", "))
}

// Inventory resolves instances. Resolved keys are cached per reference for
// the Inventory's lifetime, so instances sharing a key prompt at most once.
type Inventory struct {
	cfg     *config.Config
	resolve func(ctx context.Context, ref string) (string, error)

	group singleflight.Group
	mu    sync.Mutex
	keys  map[string][]byte
}

// Option configures an Inventory.
type Option func(*Inventory)

// WithResolver overrides key reference resolution.
func WithResolver(fn func(ctx context.Context, ref string) (string, error)) Option {
	return func(inv *Inventory) { inv.resolve = fn }
}

// New returns an Inventory over cfg's instances.
func New(cfg *config.Config, opts ...Option) *Inventory {
	inv := &Inventory{cfg: cfg, resolve: secrets.Resolve, keys: make(map[string][]byte)}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// List returns the configured instances sorted by id.
func (inv *Inventory) List() []config.Instance {
	out := append([]config.Instance(nil), inv.cfg.Instances...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve returns connection parameters for instanceID.
func (inv *Inventory) Resolve(ctx context.Context, instanceID string) (remote.Params, config.Instance, error) {
	inst, ok := inv.cfg.Instance(instanceID)
	if !ok {
		known := make([]string, 0, len(inv.cfg.Instances))
		for _, i := range inv.List() {
			known = append(known, i.ID)
		}
		return remote.Params{}, config.Instance{}, &UnknownInstanceError{ID: instanceID, Known: known}
	}

	key, err := inv.key(ctx, inst.KeyRef)
	if err != nil {
		return remote.Params{}, inst, fmt.Errorf("resolving key for instance %s: %w", inst.ID, err)
	}

	p := remote.Params{
		Host:       inst.Host,
		PrivateKey: key,
		Port:       inv.cfg.SSH.Port,
		User:       inv.cfg.SSH.User,
	}
	if inst.Port != 0 {
		p.Port = inst.Port
	}
	if inst.User != "" {
		p.User = inst.User
	}
	return p, inst, nil
}

// Hosts resolves the given instances, or every configured instance when ids
// is empty. Instances whose key cannot be resolved are returned in failed
// instead of aborting the rest.
func (inv *Inventory) Hosts(ctx context.Context, ids []string) (hosts []fleet.Host, failed map[string]error) {
	if len(ids) == 0 {
		for _, inst := range inv.List() {
			ids = append(ids, inst.ID)
		}
	}

	params := make([]remote.Params, len(ids))
	errs := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			params[i], _, errs[i] = inv.Resolve(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	failed = make(map[string]error)
	for i, id := range ids {
		if errs[i] != nil {
			log.Warn("skipping instance", "instance", id, "error", errs[i])
			failed[id] = errs[i]
			continue
		}
		hosts = append(hosts, fleet.Host{ID: id, Params: params[i]})
	}
	return hosts, failed
}

func (inv *Inventory) key(ctx context.Context, ref string) ([]byte, error) {
	inv.mu.Lock()
	if k, ok := inv.keys[ref]; ok {
		inv.mu.Unlock()
		return k, nil
	}
	inv.mu.Unlock()

	v, err, _ := inv.group.Do(ref, func() (any, error) {
		log.Debug("resolving key reference", "scheme", strings.SplitN(ref, "://", 2)[0])
		s, err := inv.resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		k := []byte(s)
		inv.mu.Lock()
		inv.keys[ref] = k
		inv.mu.Unlock()
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
