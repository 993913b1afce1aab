// Package space implements the Space Manager: the in-memory registry of
// spaceId → (Sandbox, Policy) plus the persisted space records backing it
// (spec §4.5). Creation, destruction, and lookups all go through Manager
// so the registry and the database never drift apart.
package space

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/runspace/core/pkg/policy"
	"github.com/runspace/core/pkg/sandbox"
	"github.com/runspace/core/pkg/store"
)

// DefaultTTL is applied when a create request omits ttlSeconds (spec
// §4.5 "Creation").
const DefaultTTL = 12 * time.Hour

// Config wires a Manager's dependencies — no globals, everything
// constructor-injected per the spec's own design note on testability.
type Config struct {
	Store            *store.Store
	WorkspaceBaseDir string
	BaseImage        string
	WorkDir          string
	DefaultTimeoutMS int64
}

// Manager owns the live registry of sandboxes and policies for every
// active space, backed by Config.Store for metadata.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	sandboxes map[string]*sandbox.Sandbox
	policies  map[string]policy.Policy
	locks     map[string]*sync.Mutex
}

// New constructs a Manager. It does not load existing spaces from the
// store — a restart starts with an empty in-memory registry, matching the
// teacher's own session store (which is a pure persistence layer, not a
// warm cache rehydrated at boot).
func New(cfg Config) *Manager {
	return &Manager{
		cfg:       cfg,
		sandboxes: make(map[string]*sandbox.Sandbox),
		policies:  make(map[string]policy.Policy),
		locks:     make(map[string]*sync.Mutex),
	}
}

// CreateOptions is the space-create request body (spec §6 "Space create").
type CreateOptions struct {
	Name            string
	Description     string
	Preset          string
	PolicyOverrides *policy.Overrides
	Capabilities    []string
	Env             map[string]string
	Metadata        map[string]any
	TTLSeconds      *int64
}

// Create allocates a space id, persists a `creating` record, provisions its
// Sandbox, resolves its Policy, flips the record to `ready`, and registers
// both in the in-memory maps (spec §3 "status ∈ {creating, ready, running,
// paused, destroyed}", §4.5 "Creation"). The record is visible as `creating`
// for the (possibly slow, image-pull-bound) duration of sandbox
// provisioning rather than only appearing once fully ready.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*store.Space, error) {
	preset := opts.Preset
	if preset == "" {
		preset = policy.PresetStandard
	}

	var pol policy.Policy
	var err error
	if opts.PolicyOverrides != nil {
		pol, err = policy.FromPresetWithOverrides(preset, *opts.PolicyOverrides)
	} else {
		pol, err = policy.FromPreset(preset)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving policy: %w", err)
	}

	id := generateSpaceID()

	ttl := DefaultTTL
	if opts.TTLSeconds != nil {
		ttl = time.Duration(*opts.TTLSeconds) * time.Second
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	record := &store.Space{
		ID:              id,
		Name:            opts.Name,
		Description:     opts.Description,
		Status:          store.SpaceCreating,
		Policy:          preset,
		PolicyOverrides: opts.PolicyOverrides,
		WorkspacePath:   filepath.Join(m.cfg.WorkspaceBaseDir, id),
		Capabilities:    opts.Capabilities,
		Env:             opts.Env,
		Metadata:        opts.Metadata,
		CreatedAt:       now,
		ExpiresAt:       &expiresAt,
	}

	if err := m.cfg.Store.CreateSpace(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting space: %w", err)
	}

	sb, err := sandbox.Create(ctx, sandbox.Config{
		ID:               id,
		BaseImage:        m.cfg.BaseImage,
		WorkDir:          m.cfg.WorkDir,
		WorkspaceBaseDir: m.cfg.WorkspaceBaseDir,
		Env:              envPairs(opts.Env),
		TimeoutMS:        m.cfg.DefaultTimeoutMS,
		NetworkEnabled:   pol.Network.Enabled,
	})
	if err != nil {
		_ = m.cfg.Store.DeleteSpace(ctx, id)
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}

	record.Status = store.SpaceReady
	if err := m.cfg.Store.UpdateSpace(ctx, record); err != nil {
		_ = sb.Destroy(ctx)
		_ = m.cfg.Store.DeleteSpace(ctx, id)
		return nil, fmt.Errorf("persisting space: %w", err)
	}

	m.mu.Lock()
	m.sandboxes[id] = sb
	m.policies[id] = pol
	m.locks[id] = &sync.Mutex{}
	m.mu.Unlock()

	return record, nil
}

// Get returns the persisted record for a space.
func (m *Manager) Get(ctx context.Context, id string) (*store.Space, error) {
	return m.cfg.Store.GetSpace(ctx, id)
}

// List returns persisted space records matching filter.
func (m *Manager) List(ctx context.Context, filter store.SpaceFilter) ([]*store.Space, error) {
	return m.cfg.Store.ListSpaces(ctx, filter)
}

// Update patches mutable fields of a space record (name, description,
// metadata) and persists the result.
func (m *Manager) Update(ctx context.Context, id string, patch func(*store.Space)) (*store.Space, error) {
	record, err := m.cfg.Store.GetSpace(ctx, id)
	if err != nil {
		return nil, err
	}
	patch(record)
	if err := m.cfg.Store.UpdateSpace(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Extend pushes a space's expiry back by additionalSeconds.
func (m *Manager) Extend(ctx context.Context, id string, additionalSeconds int64) (*store.Space, error) {
	record, err := m.cfg.Store.GetSpace(ctx, id)
	if err != nil {
		return nil, err
	}
	base := time.Now().UTC()
	if record.ExpiresAt != nil && record.ExpiresAt.After(base) {
		base = *record.ExpiresAt
	}
	newExpiry := base.Add(time.Duration(additionalSeconds) * time.Second)
	record.ExpiresAt = &newExpiry
	if err := m.cfg.Store.UpdateSpace(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Pause moves a `ready` space to `paused`: new run submissions are refused
// (spec §3 "Owns exactly one Sandbox and one PolicyEngine in memory during
// ready..paused") but the Sandbox and Policy stay registered in memory and
// on disk — nothing is torn down, unlike Destroy.
func (m *Manager) Pause(ctx context.Context, id string) (*store.Space, error) {
	record, err := m.cfg.Store.GetSpace(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != store.SpaceReady {
		return nil, fmt.Errorf("space %q is %s, not ready", id, record.Status)
	}
	record.Status = store.SpacePaused
	if err := m.cfg.Store.UpdateSpace(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Resume moves a `paused` space back to `ready`, so it accepts run
// submissions again.
func (m *Manager) Resume(ctx context.Context, id string) (*store.Space, error) {
	record, err := m.cfg.Store.GetSpace(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != store.SpacePaused {
		return nil, fmt.Errorf("space %q is %s, not paused", id, record.Status)
	}
	record.Status = store.SpaceReady
	if err := m.cfg.Store.UpdateSpace(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// MarkRunning flips a space to `running` for the duration of a Run holding
// its per-space lock (spec §3's `running` state), refusing to do so for a
// paused or destroyed space. MarkReady reverts it to `ready` once the Run
// returns.
func (m *Manager) MarkRunning(ctx context.Context, id string) error {
	record, err := m.cfg.Store.GetSpace(ctx, id)
	if err != nil {
		return err
	}
	if record.Status != store.SpaceReady {
		return fmt.Errorf("space %q is %s, not ready", id, record.Status)
	}
	record.Status = store.SpaceRunning
	return m.cfg.Store.UpdateSpace(ctx, record)
}

// MarkReady reverts a space from `running` back to `ready` once its Run has
// returned. Best-effort on a missing/already-transitioned record: the Run
// already completed and its result is what matters, not this bookkeeping.
func (m *Manager) MarkReady(ctx context.Context, id string) error {
	record, err := m.cfg.Store.GetSpace(ctx, id)
	if err != nil {
		return nil
	}
	if record.Status != store.SpaceRunning {
		return nil
	}
	record.Status = store.SpaceReady
	return m.cfg.Store.UpdateSpace(ctx, record)
}

// spaceLive reports whether status is one of the states in which the space
// still owns a live Sandbox/PolicyEngine pair (spec §3 "ready..paused").
func spaceLive(status string) bool {
	switch status {
	case store.SpaceReady, store.SpaceRunning, store.SpacePaused:
		return true
	default:
		return false
	}
}

// Destroy tears down a space's sandbox, removes it from the in-memory
// registry, and marks the persisted record destroyed. It is idempotent:
// destroying an already-destroyed or unregistered space is a no-op (spec
// §4.5 "Destroy", §8 "destroy(destroy(space)) is a no-op after the
// first"). If this process never registered the space's sandbox — a
// separate spacectl invocation created it, or this Manager backs the TTL
// reaper rather than the process that ran Create — it attaches to the
// still-running container by name before tearing it down, so a caller in a
// different process from the one that created the space can still destroy
// it, and the reaper actually stops the container rather than only marking
// the record destroyed underneath it.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	sb, ok := m.sandboxes[id]
	delete(m.sandboxes, id)
	delete(m.policies, id)
	delete(m.locks, id)
	m.mu.Unlock()

	if !ok {
		attached, err := sandbox.Attach(ctx, sandbox.Config{
			ID:               id,
			WorkspaceBaseDir: m.cfg.WorkspaceBaseDir,
		})
		if err == nil {
			sb = attached
			ok = true
		}
	}

	if ok {
		if err := sb.Destroy(ctx); err != nil {
			return fmt.Errorf("destroying sandbox: %w", err)
		}
	}

	record, err := m.cfg.Store.GetSpace(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}
	if record.Status == store.SpaceDestroyed {
		return nil
	}
	record.Status = store.SpaceDestroyed
	return m.cfg.Store.UpdateSpace(ctx, record)
}

// Resolve returns the live Sandbox, Policy, and per-space lock for id,
// lazily attaching to an already-provisioned container and re-deriving the
// policy from the persisted record when this process has not registered
// the space in memory yet. spacectl is a short-lived process per
// invocation, so "space create" and a later "run submit" against the same
// space id normally run in two different processes — without this, only
// the process that created a space could ever operate on it.
func (m *Manager) Resolve(ctx context.Context, id string) (*sandbox.Sandbox, policy.Policy, *sync.Mutex, error) {
	m.mu.RLock()
	sb, okSB := m.sandboxes[id]
	pol, okPol := m.policies[id]
	lock, okLock := m.locks[id]
	m.mu.RUnlock()
	if okSB && okPol && okLock {
		return sb, pol, lock, nil
	}

	record, err := m.cfg.Store.GetSpace(ctx, id)
	if err != nil {
		return nil, policy.Policy{}, nil, fmt.Errorf("resolving space %q: %w", id, err)
	}
	if !spaceLive(record.Status) {
		return nil, policy.Policy{}, nil, fmt.Errorf("space %q is %s, not live", id, record.Status)
	}

	var resolvedPol policy.Policy
	if record.PolicyOverrides != nil {
		resolvedPol, err = policy.FromPresetWithOverrides(record.Policy, *record.PolicyOverrides)
	} else {
		resolvedPol, err = policy.FromPreset(record.Policy)
	}
	if err != nil {
		return nil, policy.Policy{}, nil, fmt.Errorf("resolving policy for space %q: %w", id, err)
	}

	attached, err := sandbox.Attach(ctx, sandbox.Config{
		ID:               id,
		BaseImage:        m.cfg.BaseImage,
		WorkDir:          m.cfg.WorkDir,
		WorkspaceBaseDir: m.cfg.WorkspaceBaseDir,
		Env:              envPairs(record.Env),
		TimeoutMS:        m.cfg.DefaultTimeoutMS,
		NetworkEnabled:   resolvedPol.Network.Enabled,
	})
	if err != nil {
		return nil, policy.Policy{}, nil, fmt.Errorf("attaching to space %q: %w", id, err)
	}

	m.mu.Lock()
	m.sandboxes[id] = attached
	m.policies[id] = resolvedPol
	if _, ok := m.locks[id]; !ok {
		m.locks[id] = &sync.Mutex{}
	}
	lock = m.locks[id]
	m.mu.Unlock()

	return attached, resolvedPol, lock, nil
}

// GetSandbox returns the live Sandbox for a registered space.
func (m *Manager) GetSandbox(id string) (*sandbox.Sandbox, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.sandboxes[id]
	return sb, ok
}

// GetPolicyEngine returns the resolved Policy for a registered space.
func (m *Manager) GetPolicyEngine(id string) (policy.Policy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	return p, ok
}

// Lock returns the per-space mutex a run must hold for the duration of
// execution, so concurrent run submissions to the same space serialize on
// the Sandbox (spec §5 "A Space permits at most one active Run at a
// time").
func (m *Manager) Lock(id string) (*sync.Mutex, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locks[id]
	return l, ok
}

// generateSpaceID mints a spc_<12-char opaque id> per spec §6, the same
// 6-random-bytes-as-hex shape sandbox.generateID uses for workspace ids.
func generateSpaceID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return "spc_" + hex.EncodeToString(b)
}

func envPairs(env map[string]string) []string {
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	return pairs
}
