package coord

import (
	"bufio"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davebream/skycoord/internal/world"
)

func TestReaperRemovesAfterGracePeriod(t *testing.T) {
	cfg := testConfig()
	cfg.DisconnectGrace = 20 * time.Millisecond
	c := testCoordinator(t, cfg)

	d := addDrone(t, c, world.Coord{X: 0, Y: 0}, &stubSender{})
	d.MarkDisconnected()
	require.Equal(t, 1, c.reg.Len())

	r := newReaper(c)
	r.sweep()
	assert.Equal(t, 1, c.reg.Len(), "still inside the grace period")

	time.Sleep(30 * time.Millisecond)
	r.sweep()
	assert.Equal(t, 0, c.reg.Len())
}

func TestReaperIgnoresConnectedDrones(t *testing.T) {
	cfg := testConfig()
	cfg.DisconnectGrace = time.Millisecond
	c := testCoordinator(t, cfg)

	idle := addDrone(t, c, world.Coord{X: 0, Y: 0}, &stubSender{})
	busy := addDrone(t, c, world.Coord{X: 1, Y: 1}, &stubSender{})
	require.NoError(t, c.survivors.Add(world.Coord{X: 1, Y: 2}, "", time.Now()))
	require.NoError(t, world.AssignMission(busy, c.survivors, 0))

	time.Sleep(5 * time.Millisecond)
	newReaper(c).sweep()

	assert.Equal(t, 2, c.reg.Len())
	assert.Equal(t, world.StatusIdle, idle.Status())
	assert.Equal(t, world.StatusOnMission, busy.Status())
}

func TestReaperRemovesDroneAfterClientDisconnect(t *testing.T) {
	cfg := testConfig()
	cfg.DisconnectGrace = 10 * time.Millisecond
	c := testCoordinator(t, cfg)

	client, s := pipeSession(t, c)
	r := bufio.NewReader(client)
	handshake(t, client, r, world.Coord{X: 0, Y: 0})
	drone := s.Drone()
	client.Close()

	require.Eventually(t, func() bool {
		return drone.Status() == world.StatusDisconnected
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		newReaper(c).sweep()
		return c.reg.Len() == 0
	}, time.Second, 10*time.Millisecond)
}
