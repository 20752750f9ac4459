package world

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

const (
	initialBurst   = 10
	burstSpacing   = 100 * time.Millisecond
	recycleBatch   = 5
	spawnDelayBase = 500 * time.Millisecond
	spawnDelaySpan = 1000 * time.Millisecond
)

// Generator produces synthetic survivors at random in-bounds coordinates.
// Used for stress testing; the coordinator works the same whether survivors
// come from here or from an external source.
type Generator struct {
	set    *SurvivorSet
	grid   Map
	rng    *rand.Rand
	logger *slog.Logger
}

func NewGenerator(set *SurvivorSet, grid Map, seed int64, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		set:    set,
		grid:   grid,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}
}

func (g *Generator) randomCoord() Coord {
	return Coord{X: g.rng.Intn(g.grid.Height), Y: g.rng.Intn(g.grid.Width)}
}

func (g *Generator) spawn(seq int) {
	coord := g.randomCoord()
	info := fmt.Sprintf("SURV-%04d", seq)
	err := g.set.Add(coord, info, time.Now())
	if errors.Is(err, ErrSetFull) {
		// Reuse slots of already-rescued survivors instead of dropping.
		recycled := g.set.Recycle(recycleBatch, g.randomCoord, info, time.Now())
		if recycled == 0 {
			g.logger.Warn("survivor set full, nothing to recycle")
		}
		return
	}
	if err != nil {
		g.logger.Error("spawn survivor", "error", err)
		return
	}
	g.logger.Debug("survivor spawned", "coord", coord.String(), "info", info)
}

// Run emits an initial burst, then spawns survivors at randomized intervals
// until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) {
	seq := 0
	for i := 0; i < initialBurst; i++ {
		g.spawn(seq)
		seq++
		select {
		case <-ctx.Done():
			return
		case <-time.After(burstSpacing):
		}
	}

	for {
		delay := spawnDelayBase + time.Duration(g.rng.Int63n(int64(spawnDelaySpan)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		g.spawn(seq)
		seq++
	}
}
