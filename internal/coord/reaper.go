package coord

import (
	"context"
	"log/slog"
	"time"

	"github.com/davebream/skycoord/internal/world"
)

// Reaper periodically removes drones that have been disconnected for longer
// than the grace period. The grace period decouples brief transport hiccups
// from permanent removal.
type Reaper struct {
	coord  *Coordinator
	logger *slog.Logger
}

func newReaper(c *Coordinator) *Reaper {
	return &Reaper{coord: c, logger: c.logger.With("component", "reaper")}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.coord.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep walks the registry snapshot in insertion order.
func (r *Reaper) sweep() {
	grace := r.coord.cfg.DisconnectGrace
	for _, d := range r.coord.reg.Snapshot() {
		view := d.View()
		if view.Status != world.StatusDisconnected {
			continue
		}
		if time.Since(view.LastUpdate) < grace {
			continue
		}

		// Close the socket if the session still lingers, then drop the
		// registration. Ids are never reused.
		if s := r.coord.sessionForDrone(d.ID()); s != nil {
			s.Close()
			r.coord.removeSession(s)
		}
		r.coord.reg.RemoveDrone(d)
		r.coord.metrics.RecordDroneReaped()
		r.logger.Info("reaped disconnected drone",
			"drone", d.ID(),
			"idle_for", time.Since(view.LastUpdate).Round(time.Millisecond).String(),
		)
	}
}
