package space

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/runspace/core/pkg/store"
)

// Reaper destroys spaces whose TTL has elapsed, on a fixed schedule. It is
// the one place in this module reaching for a scheduler library, grounded
// on a different pack repo's (jkaninda-akili) use of robfig/cron rather
// than a hand-rolled ticker goroutine, since a cron expression documents
// the cadence far better than a raw `time.NewTicker` call buried in
// `main`.
type Reaper struct {
	manager *Manager
	cron    *cron.Cron
}

// NewReaper schedules a sweep every minute. Call Start to begin running
// it, Stop to drain in-flight sweeps and halt.
func NewReaper(manager *Manager) *Reaper {
	c := cron.New()
	r := &Reaper{manager: manager, cron: c}
	// Seconds are not part of the default parser; every-minute cadence is
	// expressed as the standard 5-field "* * * * *".
	_, _ = c.AddFunc("* * * * *", r.sweepOnce)
	return r
}

func (r *Reaper) Start() { r.cron.Start() }
func (r *Reaper) Stop()  { <-r.cron.Stop().Done() }

func (r *Reaper) sweepOnce() {
	ctx := context.Background()
	all, err := r.manager.cfg.Store.ListSpaces(ctx, store.SpaceFilter{})
	if err != nil {
		slog.Error("reaper: listing spaces failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, sp := range all {
		if !spaceLive(sp.Status) {
			continue
		}
		if sp.ExpiresAt == nil || sp.ExpiresAt.After(now) {
			continue
		}
		if err := r.manager.Destroy(ctx, sp.ID); err != nil {
			slog.Error("reaper: destroying expired space failed", "spaceId", sp.ID, "error", err)
			continue
		}
		slog.Info("reaper: destroyed expired space", "spaceId", sp.ID, "expiresAt", sp.ExpiresAt)
	}
}
