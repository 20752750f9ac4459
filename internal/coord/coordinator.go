// Package coord implements the coordination engine: the TCP listener,
// per-connection protocol sessions, the matcher that pairs idle drones with
// waiting survivors, the reaper that removes dead registrations, and the
// supervisor tying their lifecycles together.
package coord

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/davebream/skycoord/internal/config"
	"github.com/davebream/skycoord/internal/registry"
	"github.com/davebream/skycoord/internal/world"
)

// Coordinator owns the world state and supervises every task: listener,
// sessions, matcher, reaper. Startup order is registry -> listener ->
// matcher -> reaper; shutdown closes the listener, stops the matcher and
// reaper, then closes sessions with a bounded drain.
type Coordinator struct {
	cfg       *config.Config
	grid      world.Map
	reg       *registry.Registry
	survivors *world.SurvivorSet
	metrics   *Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	sessions map[string]*Session
	byDrone  map[int]*Session
	wg       sync.WaitGroup
}

func New(cfg *config.Config, logger *slog.Logger, metrics *Metrics) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	grid, err := world.NewMap(cfg.MapHeight, cfg.MapWidth)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		cfg:       cfg,
		grid:      grid,
		reg:       registry.New(cfg.MaxDrones),
		survivors: world.NewSurvivorSet(grid, cfg.MaxSurvivors),
		metrics:   metrics,
		logger:    logger,
		sessions:  make(map[string]*Session),
		byDrone:   make(map[int]*Session),
	}, nil
}

// Grid returns the operational map.
func (c *Coordinator) Grid() world.Map { return c.grid }

// Survivors exposes the survivor set to external sources (generator, tests).
func (c *Coordinator) Survivors() *world.SurvivorSet { return c.survivors }

// Registry exposes the fleet registry for read access.
func (c *Coordinator) Registry() *registry.Registry { return c.reg }

// Addr returns the bound listener address, nil before Run.
func (c *Coordinator) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Run listens for drone connections and blocks until ctx is cancelled and
// shutdown completes. Accept errors are logged and the loop continues; only
// a closed listening socket ends it.
func (c *Coordinator) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", c.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	c.mu.Lock()
	c.listener = ln
	c.mu.Unlock()

	c.logger.Info("coordinator listening",
		"addr", ln.Addr().String(),
		"map", fmt.Sprintf("%dx%d", c.grid.Height, c.grid.Width),
		"max_drones", c.cfg.MaxDrones,
	)

	loopCtx, cancelLoops := context.WithCancel(context.Background())
	var loops sync.WaitGroup

	loops.Add(1)
	go func() {
		defer loops.Done()
		newMatcher(c).Run(loopCtx)
	}()
	loops.Add(1)
	go func() {
		defer loops.Done()
		newReaper(c).Run(loopCtx)
	}()
	if c.cfg.StatsInterval > 0 {
		loops.Add(1)
		go func() {
			defer loops.Done()
			c.statsLoop(loopCtx)
		}()
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("accept error", "error", err)
			continue
		}
		s := newSession(conn, c)
		c.addSession(s)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			s.run()
		}()
	}

	// Stopped accepting; matcher and reaper exit at cycle boundaries.
	cancelLoops()
	c.shutdown()
	loops.Wait()
	c.logger.Info("coordinator stopped")
	return nil
}

// shutdown asks every session to enter CLOSING and waits a bounded time for
// them to drain before giving up.
func (c *Coordinator) shutdown() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	c.logger.Info("shutting down", "sessions", len(sessions))
	for _, s := range sessions {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.ShutdownDrain):
		c.logger.Warn("session drain timed out")
	}
}

func (c *Coordinator) addSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.id] = s
}

func (c *Coordinator) trackDrone(droneID int, s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byDrone[droneID] = s
}

func (c *Coordinator) removeSession(s *Session) {
	d := s.Drone()
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s.id)
	if d != nil && c.byDrone[d.ID()] == s {
		delete(c.byDrone, d.ID())
	}
}

func (c *Coordinator) sessionForDrone(droneID int) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byDrone[droneID]
}

// ViewCounts are the aggregate counters a display needs.
type ViewCounts struct {
	Waiting     int
	BeingHelped int
	Rescued     int
	Idle        int
	OnMission   int
}

// WorldView is a read-only snapshot of drones and survivors for renderers.
type WorldView struct {
	Drones    []world.DroneView
	Survivors []world.SurvivorView
	Counts    ViewCounts
}

// View snapshots the world without blocking writers.
func (c *Coordinator) View() WorldView {
	drones := c.reg.Snapshot()
	view := WorldView{
		Drones:    make([]world.DroneView, 0, len(drones)),
		Survivors: c.survivors.Snapshot(),
	}
	for _, d := range drones {
		dv := d.View()
		view.Drones = append(view.Drones, dv)
		switch dv.Status {
		case world.StatusIdle:
			view.Counts.Idle++
		case world.StatusOnMission:
			view.Counts.OnMission++
		}
	}
	for _, sv := range view.Survivors {
		switch sv.Status {
		case world.SurvivorWaiting:
			view.Counts.Waiting++
		case world.SurvivorBeingHelped:
			view.Counts.BeingHelped++
		case world.SurvivorRescued:
			view.Counts.Rescued++
		}
	}
	return view
}

// statsLoop logs an aggregate line of fleet and survivor counts (the View
// counters) for operators tailing the log. Message and byte throughput are
// exposed only through the Prometheus metrics.
func (c *Coordinator) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v := c.View()
			c.logger.Info("stats",
				"drones", len(v.Drones),
				"idle", v.Counts.Idle,
				"on_mission", v.Counts.OnMission,
				"waiting", v.Counts.Waiting,
				"being_helped", v.Counts.BeingHelped,
				"rescued", v.Counts.Rescued,
			)
		}
	}
}

// reuseAddr enables SO_REUSEADDR so restarts don't trip over TIME_WAIT.
func reuseAddr(network, address string, conn syscall.RawConn) error {
	var sockErr error
	err := conn.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
