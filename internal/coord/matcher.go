package coord

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/davebream/skycoord/internal/protocol"
	"github.com/davebream/skycoord/internal/world"
)

const missionExpiry = time.Hour

// Matcher periodically pairs idle drones with waiting survivors using the
// drone-centric rule: for each idle drone in registration order, the waiting
// survivor at minimum Manhattan distance wins, ties broken by lowest
// survivor index.
type Matcher struct {
	coord  *Coordinator
	logger *slog.Logger
}

func newMatcher(c *Coordinator) *Matcher {
	return &Matcher{coord: c, logger: c.logger.With("component", "matcher")}
}

// Run cycles until ctx is cancelled. Shutdown wakes the loop immediately.
func (m *Matcher) Run(ctx context.Context) {
	ticker := time.NewTicker(m.coord.cfg.MatcherInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cycle()
		}
	}
}

// cycle works on snapshots so a full-fleet scan never blocks registration or
// survivor ingestion.
func (m *Matcher) cycle() {
	drones := m.coord.reg.Snapshot()
	survivors := m.coord.survivors.Snapshot()

	claimed := make(map[int]bool)
	assigned := 0

	for _, d := range drones {
		view := d.View()
		if view.Status != world.StatusIdle {
			continue
		}

		best := -1
		bestDist := 0
		for _, sv := range survivors {
			if sv.Status != world.SurvivorWaiting || claimed[sv.Index] {
				continue
			}
			dist := world.Distance(view.Coord, sv.Coord)
			if best < 0 || dist < bestDist {
				best = sv.Index
				bestDist = dist
			}
		}
		if best < 0 {
			// No waiting survivors left this cycle.
			break
		}

		if m.assign(d, survivors[best], bestDist) {
			assigned++
		}
		// Claimed even on failure: a survivor selected in a cycle must not
		// be selected again in the same cycle.
		claimed[best] = true
	}

	if assigned > 0 {
		m.logger.Debug("cycle complete", "assigned", assigned)
	}
}

// assign runs the assignment transaction and emits exactly one
// ASSIGN_MISSION on success. State changes are rolled back when the send
// path is already closed.
func (m *Matcher) assign(d *world.Drone, sv world.SurvivorView, dist int) bool {
	start := time.Now()
	if err := world.AssignMission(d, m.coord.survivors, sv.Index); err != nil {
		if !errors.Is(err, world.ErrPrecondition) {
			m.logger.Error("assignment failed", "drone", d.ID(), "error", err)
		}
		return false
	}

	msg := protocol.AssignMission{
		Type:      protocol.TypeAssignMission,
		MissionID: uuid.New().String(),
		Priority:  "high",
		Target:    sv.Coord,
		Expiry:    time.Now().Add(missionExpiry).Unix(),
	}
	if err := d.Sender().Send(msg); err != nil {
		world.RollbackAssignment(d, m.coord.survivors, sv.Index)
		m.logger.Warn("assignment send failed, rolled back", "drone", d.ID(), "error", err)
		return false
	}

	m.coord.metrics.RecordMissionAssigned()
	m.coord.metrics.ObserveResponseTime(time.Since(start).Seconds())
	m.logger.Info("mission assigned",
		"drone", d.ID(),
		"mission", msg.MissionID,
		"target", sv.Coord.String(),
		"distance", dist,
	)
	return true
}
