package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/davebream/skycoord/internal/protocol"
	"github.com/davebream/skycoord/internal/world"
)

var (
	droneAddr   string
	droneCount  int
	droneHeight int
	droneWidth  int
	droneStep   time.Duration
)

var droneCmd = &cobra.Command{
	Use:   "drone",
	Short: "Run simulated drone clients against a coordinator",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		var wg sync.WaitGroup
		for i := 0; i < droneCount; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				sim := &simDrone{
					num:    n,
					addr:   droneAddr,
					coord:  world.Coord{X: rand.Intn(droneHeight), Y: rand.Intn(droneWidth)},
					step:   droneStep,
					logger: logger.With("drone", n),
				}
				if err := sim.run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("simulated drone exited", "drone", n, "error", err)
				}
			}(i)
		}
		wg.Wait()
		return nil
	},
}

func init() {
	droneCmd.Flags().StringVar(&droneAddr, "addr", "localhost:8080", "Coordinator address")
	droneCmd.Flags().IntVar(&droneCount, "count", 1, "Number of simulated drones")
	droneCmd.Flags().IntVar(&droneHeight, "height", 40, "Grid height for random start positions")
	droneCmd.Flags().IntVar(&droneWidth, "width", 30, "Grid width for random start positions")
	droneCmd.Flags().DurationVar(&droneStep, "step", 500*time.Millisecond, "Movement step interval")
	rootCmd.AddCommand(droneCmd)
}

// simDrone walks one grid cell per step toward its assigned target and
// reports position on the interval the coordinator requested.
type simDrone struct {
	num    int
	addr   string
	step   time.Duration
	logger *slog.Logger

	conn   net.Conn
	connMu sync.Mutex

	mu     sync.Mutex
	coord  world.Coord
	target *world.Coord
}

func (s *simDrone) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_, err = s.conn.Write(data)
	return err
}

func (s *simDrone) run(ctx context.Context) error {
	conn, err := net.Dial("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial coordinator: %w", err)
	}
	s.conn = conn
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	hs := protocol.Handshake{
		Type:    protocol.TypeHandshake,
		DroneID: s.num,
		Status:  "IDLE",
		Coord:   s.coord,
	}
	if err := s.writeJSON(hs); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	framer := protocol.NewFramer(conn)
	frame, err := framer.Next()
	if err != nil {
		return fmt.Errorf("read handshake ack: %w", err)
	}
	var ack protocol.HandshakeAck
	if err := json.Unmarshal(frame, &ack); err != nil || ack.Type != protocol.TypeHandshakeAck {
		return fmt.Errorf("unexpected handshake response")
	}
	s.logger.Info("connected", "session", ack.SessionID)

	statusInterval := time.Duration(ack.Config.StatusUpdateInterval) * time.Second
	if statusInterval <= 0 {
		statusInterval = 5 * time.Second
	}

	go s.moveLoop(ctx, statusInterval)

	for {
		frame, err := framer.Next()
		if err != nil {
			return err
		}
		msgType, err := protocol.SniffType(frame)
		if err != nil {
			continue
		}
		switch msgType {
		case protocol.TypeAssignMission:
			var am protocol.AssignMission
			if err := json.Unmarshal(frame, &am); err != nil {
				continue
			}
			s.mu.Lock()
			target := am.Target
			s.target = &target
			s.mu.Unlock()
			s.logger.Info("mission accepted", "mission", am.MissionID, "target", am.Target.String())
		case protocol.TypeHeartbeat:
			resp := protocol.HeartbeatResponse{
				Type:      protocol.TypeHeartbeatResponse,
				DroneID:   s.num,
				Timestamp: time.Now().Unix(),
			}
			if err := s.writeJSON(resp); err != nil {
				return err
			}
		}
	}
}

// moveLoop advances toward the target one cell per step and reports status.
func (s *simDrone) moveLoop(ctx context.Context, statusInterval time.Duration) {
	moveTicker := time.NewTicker(s.step)
	defer moveTicker.Stop()
	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-moveTicker.C:
			s.advance()
		case <-statusTicker.C:
			s.reportStatus()
		}
	}
}

func (s *simDrone) advance() {
	s.mu.Lock()
	if s.target == nil {
		s.mu.Unlock()
		return
	}
	switch {
	case s.coord.X < s.target.X:
		s.coord.X++
	case s.coord.X > s.target.X:
		s.coord.X--
	case s.coord.Y < s.target.Y:
		s.coord.Y++
	case s.coord.Y > s.target.Y:
		s.coord.Y--
	}
	arrived := s.coord == *s.target
	target := *s.target
	if arrived {
		s.target = nil
	}
	s.mu.Unlock()

	if arrived {
		done := protocol.MissionComplete{
			Type:           protocol.TypeMissionComplete,
			DroneID:        s.num,
			Timestamp:      time.Now().Unix(),
			Success:        true,
			Details:        "survivor reached",
			TargetLocation: &target,
		}
		if err := s.writeJSON(done); err != nil {
			s.logger.Warn("mission complete send failed", "error", err)
			return
		}
		s.logger.Info("mission complete", "target", target.String())
	}
}

func (s *simDrone) reportStatus() {
	s.mu.Lock()
	coord := s.coord
	busy := s.target != nil
	s.mu.Unlock()

	status := "idle"
	if busy {
		status = "busy"
	}
	su := protocol.StatusUpdate{
		Type:      protocol.TypeStatusUpdate,
		DroneID:   s.num,
		Timestamp: time.Now().Unix(),
		Location:  coord,
		Status:    status,
		Battery:   100,
	}
	if err := s.writeJSON(su); err != nil {
		s.logger.Warn("status update send failed", "error", err)
	}
}
