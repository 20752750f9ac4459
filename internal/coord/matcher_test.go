package coord

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davebream/skycoord/internal/protocol"
	"github.com/davebream/skycoord/internal/world"
)

// stubSender records assignments instead of writing to a socket.
type stubSender struct {
	mu   sync.Mutex
	msgs []protocol.AssignMission
	err  error
}

func (s *stubSender) Send(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if am, ok := msg.(protocol.AssignMission); ok {
		s.msgs = append(s.msgs, am)
	}
	return nil
}

func (s *stubSender) assignments() []protocol.AssignMission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.AssignMission(nil), s.msgs...)
}

func addDrone(t *testing.T, c *Coordinator, coord world.Coord, sender world.Sender) *world.Drone {
	t.Helper()
	d := world.NewDrone(c.reg.NextID(), coord, world.StatusIdle, sender)
	_, err := c.reg.Add(d)
	require.NoError(t, err)
	return d
}

func TestMatcherClosestWins(t *testing.T) {
	c := testCoordinator(t, testConfig())
	senderA, senderB := &stubSender{}, &stubSender{}
	a := addDrone(t, c, world.Coord{X: 0, Y: 0}, senderA)
	b := addDrone(t, c, world.Coord{X: 9, Y: 9}, senderB)

	require.NoError(t, c.survivors.Add(world.Coord{X: 1, Y: 1}, "", time.Now()))
	newMatcher(c).cycle()

	require.Len(t, senderA.assignments(), 1)
	assert.Equal(t, world.Coord{X: 1, Y: 1}, senderA.assignments()[0].Target)
	assert.Empty(t, senderB.assignments())
	assert.Equal(t, world.StatusOnMission, a.Status())
	assert.Equal(t, world.StatusIdle, b.Status())
}

func TestMatcherDroneCentricTieBreak(t *testing.T) {
	c := testCoordinator(t, testConfig())
	sender := &stubSender{}
	addDrone(t, c, world.Coord{X: 5, Y: 5}, sender)

	// Equidistant survivors; the lowest index wins.
	require.NoError(t, c.survivors.Add(world.Coord{X: 4, Y: 5}, "first", time.Now()))
	require.NoError(t, c.survivors.Add(world.Coord{X: 6, Y: 5}, "second", time.Now()))
	newMatcher(c).cycle()

	require.Len(t, sender.assignments(), 1)
	assert.Equal(t, world.Coord{X: 4, Y: 5}, sender.assignments()[0].Target)
}

func TestMatcherNoSurvivorAssignedTwicePerCycle(t *testing.T) {
	c := testCoordinator(t, testConfig())
	senderA, senderB := &stubSender{}, &stubSender{}
	a := addDrone(t, c, world.Coord{X: 0, Y: 0}, senderA)
	b := addDrone(t, c, world.Coord{X: 0, Y: 1}, senderB)

	require.NoError(t, c.survivors.Add(world.Coord{X: 0, Y: 0}, "", time.Now()))
	newMatcher(c).cycle()

	total := len(senderA.assignments()) + len(senderB.assignments())
	assert.Equal(t, 1, total, "single survivor pairs with exactly one drone")
	busy := 0
	for _, d := range []*world.Drone{a, b} {
		if d.Status() == world.StatusOnMission {
			busy++
		}
	}
	assert.Equal(t, 1, busy)
}

func TestMatcherPairsAllInRegistrationOrder(t *testing.T) {
	c := testCoordinator(t, testConfig())
	senders := make([]*stubSender, 5)
	drones := make([]*world.Drone, 5)
	for i := range senders {
		senders[i] = &stubSender{}
		drones[i] = addDrone(t, c, world.Coord{X: i, Y: 0}, senders[i])
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, c.survivors.Add(world.Coord{X: i, Y: 1}, "", time.Now()))
	}

	newMatcher(c).cycle()

	// min(idle drones, waiting survivors) assignments, no shared targets.
	targets := make(map[world.Coord]bool)
	total := 0
	for _, s := range senders {
		for _, am := range s.assignments() {
			assert.False(t, targets[am.Target], "target %s assigned twice", am.Target)
			targets[am.Target] = true
			total++
		}
	}
	assert.Equal(t, 3, total)

	// Registration order decides who is served: the first three drones take
	// the survivors, the last two find none left.
	for i, s := range senders {
		if i < 3 {
			require.Len(t, s.assignments(), 1)
			assert.Equal(t, world.Coord{X: i, Y: 1}, s.assignments()[0].Target)
		} else {
			assert.Empty(t, s.assignments())
		}
	}

	counts := c.survivors.Counts()
	assert.Equal(t, 0, counts.Waiting)
	assert.Equal(t, 3, counts.BeingHelped)
}

func TestMatcherSkipsBusyAndDisconnected(t *testing.T) {
	c := testCoordinator(t, testConfig())
	sender := &stubSender{}
	d := addDrone(t, c, world.Coord{X: 0, Y: 0}, sender)
	d.MarkDisconnected()

	require.NoError(t, c.survivors.Add(world.Coord{X: 1, Y: 1}, "", time.Now()))
	newMatcher(c).cycle()

	assert.Empty(t, sender.assignments())
	assert.Equal(t, 1, c.survivors.Counts().Waiting)
}

func TestMatcherRollsBackOnSendFailure(t *testing.T) {
	c := testCoordinator(t, testConfig())
	sender := &stubSender{err: errors.New("session closed")}
	d := addDrone(t, c, world.Coord{X: 0, Y: 0}, sender)

	require.NoError(t, c.survivors.Add(world.Coord{X: 1, Y: 1}, "", time.Now()))
	newMatcher(c).cycle()

	assert.Equal(t, world.StatusIdle, d.Status())
	assert.Equal(t, 1, c.survivors.Counts().Waiting, "survivor back to waiting")

	t.Run("next cycle succeeds once the send path recovers", func(t *testing.T) {
		sender.mu.Lock()
		sender.err = nil
		sender.mu.Unlock()

		newMatcher(c).cycle()
		assert.Equal(t, world.StatusOnMission, d.Status())
		assert.Len(t, sender.assignments(), 1)
	})
}

func TestMatcherMissionIDsUnique(t *testing.T) {
	c := testCoordinator(t, testConfig())
	sender := &stubSender{}
	for i := 0; i < 4; i++ {
		addDrone(t, c, world.Coord{X: i, Y: 0}, sender)
		require.NoError(t, c.survivors.Add(world.Coord{X: i, Y: 1}, "", time.Now()))
	}
	newMatcher(c).cycle()

	seen := make(map[string]bool)
	for _, am := range sender.assignments() {
		assert.False(t, seen[am.MissionID])
		seen[am.MissionID] = true
	}
	assert.Len(t, seen, 4)
}

// Invariants 1 and 2: the mission relation is a bijection between on-mission
// drones and being-helped survivors.
func TestMatcherMissionInvariants(t *testing.T) {
	c := testCoordinator(t, testConfig())
	var drones []*world.Drone
	for i := 0; i < 6; i++ {
		drones = append(drones, addDrone(t, c, world.Coord{X: i, Y: 0}, &stubSender{}))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, c.survivors.Add(world.Coord{X: i, Y: 2}, "", time.Now()))
	}
	m := newMatcher(c)
	m.cycle()
	m.cycle() // second cycle must not double-assign

	helped := make(map[world.Coord]int)
	for _, sv := range c.survivors.Snapshot() {
		if sv.Status == world.SurvivorBeingHelped {
			helped[sv.Coord]++
		}
	}
	onMission := 0
	for _, d := range drones {
		if d.Status() != world.StatusOnMission {
			continue
		}
		onMission++
		assert.Equal(t, 1, helped[d.Target()],
			"drone %d targets exactly one being-helped survivor", d.ID())
	}
	total := 0
	for _, n := range helped {
		total += n
	}
	assert.Equal(t, onMission, total)
	assert.Equal(t, 4, onMission)
}
