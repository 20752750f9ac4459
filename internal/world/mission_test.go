package world

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignMission(t *testing.T) {
	ss := NewSurvivorSet(testMap(t), 10)
	require.NoError(t, ss.Add(Coord{3, 4}, "", time.Now()))
	d := NewDrone(0, Coord{0, 0}, StatusIdle, nopSender{})

	require.NoError(t, AssignMission(d, ss, 0))

	assert.Equal(t, StatusOnMission, d.Status())
	assert.Equal(t, Coord{3, 4}, d.Target())
	assert.Equal(t, SurvivorBeingHelped, ss.Snapshot()[0].Status)
}

func TestAssignMissionPreconditions(t *testing.T) {
	t.Run("drone not idle", func(t *testing.T) {
		ss := NewSurvivorSet(testMap(t), 10)
		require.NoError(t, ss.Add(Coord{3, 4}, "", time.Now()))
		d := NewDrone(0, Coord{0, 0}, StatusIdle, nopSender{})
		d.MarkDisconnected()

		assert.ErrorIs(t, AssignMission(d, ss, 0), ErrPrecondition)
		assert.Equal(t, SurvivorWaiting, ss.Snapshot()[0].Status, "survivor untouched")
	})

	t.Run("survivor not waiting", func(t *testing.T) {
		ss := NewSurvivorSet(testMap(t), 10)
		require.NoError(t, ss.Add(Coord{3, 4}, "", time.Now()))
		first := NewDrone(0, Coord{0, 0}, StatusIdle, nopSender{})
		require.NoError(t, AssignMission(first, ss, 0))

		second := NewDrone(1, Coord{1, 1}, StatusIdle, nopSender{})
		assert.ErrorIs(t, AssignMission(second, ss, 0), ErrPrecondition)
		assert.Equal(t, StatusIdle, second.Status(), "drone untouched")
	})

	t.Run("index out of range", func(t *testing.T) {
		ss := NewSurvivorSet(testMap(t), 10)
		d := NewDrone(0, Coord{0, 0}, StatusIdle, nopSender{})
		assert.ErrorIs(t, AssignMission(d, ss, 0), ErrPrecondition)
		assert.ErrorIs(t, AssignMission(d, ss, -1), ErrPrecondition)
	})
}

func TestRollbackAssignment(t *testing.T) {
	ss := NewSurvivorSet(testMap(t), 10)
	require.NoError(t, ss.Add(Coord{3, 4}, "", time.Now()))
	d := NewDrone(0, Coord{0, 0}, StatusIdle, nopSender{})
	require.NoError(t, AssignMission(d, ss, 0))

	RollbackAssignment(d, ss, 0)

	assert.Equal(t, StatusIdle, d.Status())
	assert.Equal(t, d.Coord(), d.Target())
	assert.Equal(t, SurvivorWaiting, ss.Snapshot()[0].Status)

	t.Run("completion that raced in wins", func(t *testing.T) {
		require.NoError(t, AssignMission(d, ss, 0))
		require.True(t, ss.Reconcile(Coord{3, 4}, time.Now()))

		RollbackAssignment(d, ss, 0)
		assert.Equal(t, SurvivorRescued, ss.Snapshot()[0].Status,
			"rescued survivor never regresses")
	})
}
