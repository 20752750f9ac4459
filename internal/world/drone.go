package world

import (
	"fmt"
	"sync"
	"time"
)

type DroneStatus int

const (
	StatusIdle DroneStatus = iota
	StatusOnMission
	StatusDisconnected
)

func (s DroneStatus) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusOnMission:
		return "ON_MISSION"
	case StatusDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// DISCONNECTED is terminal: a drone never rejoins under the same id.
var validTransitions = map[DroneStatus]map[DroneStatus]bool{
	StatusIdle:      {StatusOnMission: true, StatusDisconnected: true},
	StatusOnMission: {StatusIdle: true, StatusDisconnected: true},
}

func IsValidTransition(from, to DroneStatus) bool {
	if targets, ok := validTransitions[from]; ok {
		return targets[to]
	}
	return false
}

// Sender is the outbound path to the session that owns a drone. All writes to
// the drone's connection funnel through it.
type Sender interface {
	Send(msg any) error
}

// Drone is one registered drone. All fields below the mutex are guarded by it;
// the id and sender are fixed at registration.
type Drone struct {
	id     int
	sender Sender

	mu         sync.Mutex
	status     DroneStatus
	coord      Coord
	target     Coord
	lastUpdate time.Time
}

func NewDrone(id int, coord Coord, status DroneStatus, sender Sender) *Drone {
	return &Drone{
		id:         id,
		sender:     sender,
		status:     status,
		coord:      coord,
		target:     coord,
		lastUpdate: time.Now(),
	}
}

func (d *Drone) ID() int        { return d.id }
func (d *Drone) Sender() Sender { return d.sender }

func (d *Drone) Status() DroneStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Drone) Coord() Coord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.coord
}

func (d *Drone) Target() Coord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

func (d *Drone) LastUpdate() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastUpdate
}

// Touch refreshes the liveness timestamp (heartbeat responses).
func (d *Drone) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUpdate = time.Now()
}

// UpdatePosition applies a STATUS_UPDATE: new coord and status, atomically.
// A disconnected drone stays disconnected.
func (d *Drone) UpdatePosition(coord Coord, status DroneStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusDisconnected {
		return
	}
	d.coord = coord
	d.status = status
	if status != StatusOnMission {
		d.target = coord
	}
	d.lastUpdate = time.Now()
}

// CompleteMission transitions ON_MISSION -> IDLE and returns the mission
// target. ok is false when the drone held no mission.
func (d *Drone) CompleteMission() (target Coord, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != StatusOnMission {
		return Coord{}, false
	}
	target = d.target
	d.status = StatusIdle
	d.target = d.coord
	d.lastUpdate = time.Now()
	return target, true
}

// MarkDisconnected moves the drone to its terminal state. Idempotent.
func (d *Drone) MarkDisconnected() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusDisconnected {
		return
	}
	d.status = StatusDisconnected
	d.lastUpdate = time.Now()
}

// DroneView is a point-in-time copy of a drone's state for read-only
// consumers (matcher scans, displays).
type DroneView struct {
	ID         int
	Status     DroneStatus
	Coord      Coord
	Target     Coord
	LastUpdate time.Time
}

func (d *Drone) View() DroneView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DroneView{
		ID:         d.id,
		Status:     d.status,
		Coord:      d.coord,
		Target:     d.target,
		LastUpdate: d.lastUpdate,
	}
}
