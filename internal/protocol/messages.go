// Package protocol defines the newline-delimited JSON wire protocol spoken
// between the coordinator and drone clients, and the framer that splits a
// byte stream into messages.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/davebream/skycoord/internal/world"
)

// Message types. Unknown types are counted as protocol errors by the session.
const (
	TypeHandshake         = "HANDSHAKE"
	TypeHandshakeAck      = "HANDSHAKE_ACK"
	TypeStatusUpdate      = "STATUS_UPDATE"
	TypeMissionComplete   = "MISSION_COMPLETE"
	TypeHeartbeat         = "HEARTBEAT"
	TypeHeartbeatResponse = "HEARTBEAT_RESPONSE"
	TypeAssignMission     = "ASSIGN_MISSION"
)

// Envelope carries only the type discriminator; payloads are decoded into
// the typed structs below after sniffing. Unknown fields are ignored.
type Envelope struct {
	Type string `json:"type"`
}

// Handshake is the first client message on a connection.
type Handshake struct {
	Type    string      `json:"type"`
	DroneID int         `json:"drone_id"`
	Status  string      `json:"status"`
	Coord   world.Coord `json:"coord"`
}

// AckConfig tells the client how often to report.
type AckConfig struct {
	StatusUpdateInterval int `json:"status_update_interval"`
	HeartbeatInterval    int `json:"heartbeat_interval"`
}

type HandshakeAck struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Config    AckConfig `json:"config"`
}

type StatusUpdate struct {
	Type      string      `json:"type"`
	DroneID   int         `json:"drone_id"`
	Timestamp int64       `json:"timestamp"`
	Location  world.Coord `json:"location"`
	Status    string      `json:"status"`
	Battery   int         `json:"battery"`
}

type MissionComplete struct {
	Type           string       `json:"type"`
	DroneID        int          `json:"drone_id"`
	Timestamp      int64        `json:"timestamp"`
	Success        bool         `json:"success"`
	Details        string       `json:"details"`
	TargetLocation *world.Coord `json:"target_location,omitempty"`
}

type Heartbeat struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type HeartbeatResponse struct {
	Type      string `json:"type"`
	DroneID   int    `json:"drone_id"`
	Timestamp int64  `json:"timestamp"`
}

type AssignMission struct {
	Type      string      `json:"type"`
	MissionID string      `json:"mission_id"`
	Priority  string      `json:"priority"`
	Target    world.Coord `json:"target"`
	Expiry    int64       `json:"expiry"`
}

// SniffType returns the type field of a raw frame.
func SniffType(frame []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", fmt.Errorf("parse message envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("message missing type field")
	}
	return env.Type, nil
}

// ParseHandshake decodes and validates a handshake frame. The declared coord
// must lie inside the grid; the declared status must be IDLE or ON_MISSION.
func ParseHandshake(frame []byte, grid world.Map) (*Handshake, error) {
	var h Handshake
	if err := json.Unmarshal(frame, &h); err != nil {
		return nil, fmt.Errorf("parse handshake: %w", err)
	}
	if h.Type != TypeHandshake {
		return nil, fmt.Errorf("expected %s, got %q", TypeHandshake, h.Type)
	}
	if _, err := HandshakeStatus(h.Status); err != nil {
		return nil, err
	}
	if !grid.Contains(h.Coord) {
		return nil, fmt.Errorf("handshake coord %s: %w", h.Coord, world.ErrOutOfBounds)
	}
	return &h, nil
}

// HandshakeStatus maps the handshake status field to a drone status.
func HandshakeStatus(s string) (world.DroneStatus, error) {
	switch s {
	case "IDLE":
		return world.StatusIdle, nil
	case "ON_MISSION":
		return world.StatusOnMission, nil
	default:
		return 0, fmt.Errorf("unknown handshake status %q", s)
	}
}

// UpdateStatus maps the STATUS_UPDATE status field ("idle"/"busy") to a
// drone status.
func UpdateStatus(s string) (world.DroneStatus, error) {
	switch s {
	case "idle":
		return world.StatusIdle, nil
	case "busy":
		return world.StatusOnMission, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}
