package coord

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davebream/skycoord/internal/protocol"
	"github.com/davebream/skycoord/internal/registry"
	"github.com/davebream/skycoord/internal/world"
)

// ErrSessionClosed is returned by Send after a terminal event.
var ErrSessionClosed = errors.New("session closed")

type sessionState int

const (
	stateAwaitingHandshake sessionState = iota
	stateReady
	stateClosing
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitingHandshake:
		return "AWAITING_HANDSHAKE"
	case stateReady:
		return "READY"
	case stateClosing:
		return "CLOSING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Session owns exactly one connection and, after handshake, exactly one drone
// registration. The read loop processes inbound frames sequentially; all
// outbound traffic (read loop, matcher, heartbeats) funnels through Send into
// a single writer goroutine so bytes never interleave on the wire.
type Session struct {
	id     string
	conn   net.Conn
	coord  *Coordinator
	logger *slog.Logger

	mu     sync.Mutex
	state  sessionState
	drone  *world.Drone
	handle registry.Handle

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn net.Conn, c *Coordinator) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		conn:     conn,
		coord:    c,
		logger:   c.logger.With("session", id),
		state:    stateAwaitingHandshake,
		outbound: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Drone returns the owned registration, nil before handshake.
func (s *Session) Drone() *world.Drone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drone
}

func (s *Session) Handle() registry.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Send marshals msg and enqueues it for the writer goroutine. It is the only
// write path to the connection and is safe for concurrent use.
func (s *Session) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	data = append(data, '\n')
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.outbound <- data:
		return nil
	}
}

// Close moves the session to CLOSING: the drone is marked disconnected, the
// socket is closed, and both loops unwind. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateClosing
		drone := s.drone
		s.mu.Unlock()

		if drone != nil {
			drone.MarkDisconnected()
		}
		close(s.done)
		s.conn.Close()
	})
}

// run drives the session to completion. Registry removal is left to the
// reaper so brief transport hiccups don't erase the registration instantly.
func (s *Session) run() {
	s.coord.metrics.RecordConnection()
	defer s.coord.metrics.RecordDisconnection()
	defer s.coord.removeSession(s)
	defer s.Close()

	go s.writeLoop()

	framer := protocol.NewFramer(s.conn)
	if err := s.handshake(framer); err != nil {
		s.logger.Warn("handshake failed", "error", err)
		return
	}

	if s.coord.cfg.HeartbeatInterval > 0 {
		go s.heartbeatLoop()
	}

	s.readLoop(framer)
}

// handshake consumes the first frame. Any failure (wrong type, bad coord,
// registry at capacity) closes the connection without registering.
func (s *Session) handshake(framer *protocol.Framer) error {
	frame, err := framer.Next()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	start := time.Now()

	hs, err := protocol.ParseHandshake(frame, s.coord.grid)
	if err != nil {
		s.coord.metrics.RecordProtocolError()
		return err
	}
	status, err := protocol.HandshakeStatus(hs.Status)
	if err != nil {
		s.coord.metrics.RecordProtocolError()
		return err
	}
	s.coord.metrics.RecordMessageIn(protocol.TypeHandshake, len(frame))

	id := s.coord.reg.NextID()
	drone := world.NewDrone(id, hs.Coord, status, s)
	handle, err := s.coord.reg.Add(drone)
	if err != nil {
		return fmt.Errorf("register drone: %w", err)
	}

	s.mu.Lock()
	s.drone = drone
	s.handle = handle
	s.state = stateReady
	s.mu.Unlock()
	s.coord.trackDrone(id, s)

	ack := protocol.HandshakeAck{
		Type:      protocol.TypeHandshakeAck,
		SessionID: s.id,
		Config: protocol.AckConfig{
			StatusUpdateInterval: int(s.coord.cfg.StatusUpdateInterval.Seconds()),
			HeartbeatInterval:    int(s.coord.cfg.HeartbeatInterval.Seconds()),
		},
	}
	if err := s.Send(ack); err != nil {
		return fmt.Errorf("send handshake ack: %w", err)
	}
	s.coord.metrics.ObserveResponseTime(time.Since(start).Seconds())

	s.logger.Info("drone registered",
		"drone", id,
		"coord", hs.Coord.String(),
		"status", status.String(),
	)
	return nil
}

// writeLoop is the single writer to the connection. A send error is a
// terminal event, same as a read error.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.outbound:
			if _, err := s.conn.Write(data); err != nil {
				s.logger.Warn("send failed", "error", err)
				s.Close()
				return
			}
			if msgType, err := protocol.SniffType(data); err == nil {
				s.coord.metrics.RecordMessageOut(msgType, len(data))
			}
		}
	}
}

func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.coord.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			hb := protocol.Heartbeat{
				Type:      protocol.TypeHeartbeat,
				Timestamp: time.Now().Unix(),
			}
			if err := s.Send(hb); err != nil {
				return
			}
		}
	}
}

// readLoop processes inbound frames in order until a terminal event.
// Truncated frames are dropped and counted; the session stays open.
func (s *Session) readLoop(framer *protocol.Framer) {
	for {
		frame, err := framer.Next()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrTruncatedFrame):
				s.coord.metrics.RecordProtocolError()
				s.logger.Warn("dropped truncated frame")
				continue
			case errors.Is(err, io.EOF):
				s.logger.Info("client disconnected")
			case errors.Is(err, net.ErrClosed):
				// Closed by shutdown or the writer's error path.
			default:
				s.logger.Warn("read failed", "error", err)
			}
			return
		}
		s.dispatch(frame)
	}
}

func (s *Session) dispatch(frame []byte) {
	msgType, err := protocol.SniffType(frame)
	if err != nil {
		s.coord.metrics.RecordProtocolError()
		s.logger.Warn("dropped malformed frame", "error", err)
		return
	}
	s.coord.metrics.RecordMessageIn(msgType, len(frame))

	switch msgType {
	case protocol.TypeStatusUpdate:
		s.handleStatusUpdate(frame)
	case protocol.TypeMissionComplete:
		s.handleMissionComplete(frame)
	case protocol.TypeHeartbeatResponse:
		s.Drone().Touch()
	default:
		s.coord.metrics.RecordProtocolError()
		s.logger.Warn("unexpected message type", "type", msgType, "state", s.State().String())
	}
}

// The drone_id field in updates is advisory; the session binding is
// authoritative.
func (s *Session) handleStatusUpdate(frame []byte) {
	var su protocol.StatusUpdate
	if err := json.Unmarshal(frame, &su); err != nil {
		s.coord.metrics.RecordProtocolError()
		s.logger.Warn("dropped malformed status update", "error", err)
		return
	}
	status, err := protocol.UpdateStatus(su.Status)
	if err != nil {
		s.coord.metrics.RecordProtocolError()
		s.logger.Warn("dropped status update", "error", err)
		return
	}
	if !s.coord.grid.Contains(su.Location) {
		s.coord.metrics.RecordProtocolError()
		s.logger.Warn("dropped out-of-bounds status update", "location", su.Location.String())
		return
	}
	s.Drone().UpdatePosition(su.Location, status)
}

// handleMissionComplete sets the drone idle, resolves the target (embedded
// target_location preferred over the stored target), and reconciles it
// against the survivor set.
func (s *Session) handleMissionComplete(frame []byte) {
	var mc protocol.MissionComplete
	if err := json.Unmarshal(frame, &mc); err != nil {
		s.coord.metrics.RecordProtocolError()
		s.logger.Warn("dropped malformed mission complete", "error", err)
		return
	}

	drone := s.Drone()
	storedTarget, wasOnMission := drone.CompleteMission()

	var target world.Coord
	switch {
	case mc.TargetLocation != nil:
		target = *mc.TargetLocation
	case wasOnMission:
		target = storedTarget
	default:
		s.coord.metrics.RecordReconcileMiss()
		s.logger.Warn("mission complete without resolvable target", "drone", drone.ID())
		return
	}

	if s.coord.survivors.Reconcile(target, time.Now()) {
		s.coord.metrics.RecordMissionCompleted()
		s.logger.Info("mission completed",
			"drone", drone.ID(),
			"target", target.String(),
			"success", mc.Success,
		)
	} else {
		// Stale or duplicate completion; never resurrect survivor records.
		s.coord.metrics.RecordReconcileMiss()
		s.logger.Warn("no survivor matches completed mission",
			"drone", drone.ID(),
			"target", target.String(),
		)
	}
}
