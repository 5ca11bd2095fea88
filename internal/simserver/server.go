// Package simserver is a small kinematic simulator that speaks the autodrive
// websocket protocol. It backs the sim-stub binary and end-to-end tests, so
// the control loop can run without a full simulator.
package simserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thruflo/autodrive/internal/logging"
	"github.com/thruflo/autodrive/internal/sim"
)

// Version is reported in WELCOME.
const Version = "sim-stub/1"

// Config holds server configuration options.
type Config struct {
	Port         int
	MapName      string
	SpawnPoints  []sim.Transform
	Blueprints   []string
	SpeedLimit   float64       // km/h
	TickInterval time.Duration // wall-clock pace of asynchronous ticks
	Logger       *logging.Logger
}

// DefaultConfig returns a square test track with four spawn points.
func DefaultConfig() Config {
	return Config{
		Port:    2000,
		MapName: "Town01",
		SpawnPoints: []sim.Transform{
			{Location: sim.Location{X: 0, Y: 0, Z: 0.5}},
			{Location: sim.Location{X: 120, Y: 0, Z: 0.5}, Rotation: sim.Rotation{Yaw: 90}},
			{Location: sim.Location{X: 120, Y: 120, Z: 0.5}, Rotation: sim.Rotation{Yaw: 180}},
			{Location: sim.Location{X: 0, Y: 120, Z: 0.5}, Rotation: sim.Rotation{Yaw: -90}},
		},
		Blueprints: []string{
			"vehicle.tesla.model3",
			"vehicle.audi.tt",
			"vehicle.lincoln.mkz_2020",
			"sensor.other.collision",
			"sensor.other.lane_invasion",
			"sensor.other.gnss",
		},
		SpeedLimit:   30,
		TickInterval: 50 * time.Millisecond,
	}
}

// Server serves the simulation protocol over websocket.
type Server struct {
	cfg   Config
	world *World
	log   *logging.Logger

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	started  bool
	sessions map[*session]struct{}
}

// NewServer creates a new Server. Zero fields in cfg take DefaultConfig values.
func NewServer(cfg Config) *Server {
	def := DefaultConfig()
	if cfg.MapName == "" {
		cfg.MapName = def.MapName
	}
	if len(cfg.SpawnPoints) == 0 {
		cfg.SpawnPoints = def.SpawnPoints
	}
	if len(cfg.Blueprints) == 0 {
		cfg.Blueprints = def.Blueprints
	}
	if cfg.SpeedLimit <= 0 {
		cfg.SpeedLimit = def.SpeedLimit
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	return &Server{
		cfg:   cfg,
		world: NewWorld(cfg.SpawnPoints, cfg.Blueprints, cfg.SpeedLimit),
		log:   cfg.Logger.With("component", "simserver"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
}

// World returns the simulated world.
func (s *Server) World() *World {
	return s.world
}

// Handler returns the HTTP handler serving the protocol at sim.DefaultPath.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(sim.DefaultPath, s.handleConn)
	return mux
}

// Start listens on the configured port and serves until ctx is cancelled
// or Stop is called. While the world is asynchronous it steps on its own
// every TickInterval.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:     s.Handler(),
		IdleTimeout: 120 * time.Second,
	}
	s.started = true
	s.mu.Unlock()

	go s.RunClock(ctx)
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	s.log.Info("listening", "addr", listener.Addr().String(), "map", s.cfg.MapName)
	err = s.server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.closeSessionsLocked()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.started = false
	return nil
}

// CloseSessions drops every connected client.
func (s *Server) CloseSessions() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.closeSessionsLocked()
}

func (s *Server) closeSessionsLocked() {
	for sess := range s.sessions {
		sess.close()
	}
}

// SessionCount returns the number of connected clients.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ListenAddr returns the address the server is listening on, or "" if not
// started. Useful when port 0 is used.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// RunClock steps the world every TickInterval while it is asynchronous,
// until ctx is done.
func (s *Server) RunClock(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.world.Synchronous() {
				continue
			}
			s.step()
		}
	}
}

// step advances the world once and broadcasts the snapshot.
func (s *Server) step() sim.Snapshot {
	dt := s.cfg.TickInterval.Seconds()
	if fd := s.world.Settings().FixedDeltaSeconds; fd != nil {
		dt = *fd
	}
	snap := s.world.Step(dt)
	s.broadcast(sim.TickMsg{Type: sim.TypeTick, Snapshot: snap})
	return snap
}

func (s *Server) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to encode broadcast", "error", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sess := range s.sessions {
		sess.trySend(b)
	}
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	name, err := s.handshake(conn)
	if err != nil {
		s.log.Warn("handshake failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := newSession(conn)
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		sess.close()
	}()

	log := s.log.With("client", name)
	log.Info("client connected")
	go sess.writeLoop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Info("client disconnected")
			return
		}
		base, err := sim.DecodeBase(msg)
		if err != nil || base.Type != sim.TypeRequest {
			continue
		}
		var req sim.RequestMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		resp := s.dispatch(req)
		b, err := json.Marshal(resp)
		if err != nil {
			log.Error("failed to encode response", "method", req.Method, "error", err)
			continue
		}
		if !sess.send(b) {
			return
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	_ = conn.SetReadDeadline(time.Time{})

	base, err := sim.DecodeBase(msg)
	if err != nil || base.Type != sim.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", errors.New("expected HELLO")
	}
	var hello sim.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", err
	}
	if hello.ProtocolVersion != sim.ProtocolVersion {
		closeWith(conn, "bad protocol_version")
		return "", fmt.Errorf("bad protocol_version %q", hello.ProtocolVersion)
	}

	welcome := sim.WelcomeMsg{
		Type:            sim.TypeWelcome,
		ProtocolVersion: sim.ProtocolVersion,
		ServerVersion:   Version,
		MapName:         s.cfg.MapName,
	}
	b, err := json.Marshal(welcome)
	if err != nil {
		return "", err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return "", err
	}
	return hello.ClientName, nil
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

// dispatch executes one request against the world.
func (s *Server) dispatch(req sim.RequestMsg) sim.ResponseMsg {
	result, err := s.execute(req.Method, req.Params)
	resp := sim.ResponseMsg{Type: sim.TypeResponse, ID: req.ID}
	if err != nil {
		var se *sim.Error
		if !errors.As(err, &se) {
			se = &sim.Error{Code: sim.ErrCodeInternal, Message: err.Error()}
		}
		resp.Error = se
		return resp
	}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			resp.Error = &sim.Error{Code: sim.ErrCodeInternal, Message: err.Error()}
			return resp
		}
		resp.Result = b
	}
	return resp
}

func (s *Server) execute(method string, raw json.RawMessage) (any, error) {
	switch method {
	case sim.MethodGetSettings:
		return s.world.Settings(), nil

	case sim.MethodApplySettings:
		var p sim.WorldSettings
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return sim.ApplySettingsResult{Frame: s.world.ApplySettings(p)}, nil

	case sim.MethodTrafficManager:
		var p sim.TrafficManagerParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		s.world.SetTrafficManagerSync(p.Enabled)
		return nil, nil

	case sim.MethodTick:
		if !s.world.Synchronous() {
			return nil, &sim.Error{Code: sim.ErrCodeNotSynchronous, Message: "world is not in synchronous mode"}
		}
		return s.step(), nil

	case sim.MethodSpawnPoints:
		return s.world.SpawnPoints(), nil

	case sim.MethodBlueprints:
		var p sim.BlueprintsParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if p.Filter == "" {
			p.Filter = "*"
		}
		ids := s.world.Blueprints(p.Filter)
		if ids == nil {
			ids = []string{}
		}
		return ids, nil

	case sim.MethodGroundProjection:
		var p sim.GroundProjectionParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		loc, found := s.world.GroundProjection(p.Location, p.SearchDistance)
		return sim.GroundProjectionResult{Found: found, Location: loc}, nil

	case sim.MethodSpawnActor:
		var p sim.SpawnParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		id, err := s.world.Spawn(p)
		if err != nil {
			return nil, err
		}
		s.log.Debug("actor spawned", "id", int64(id), "blueprint", p.Blueprint)
		return sim.SpawnResult{ID: id}, nil

	case sim.MethodDestroyActor:
		var p sim.ActorParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.world.Destroy(p.ID)

	case sim.MethodSetLocation:
		var p sim.SetLocationParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.world.SetLocation(p.ID, p.Location)

	case sim.MethodApplyControl:
		var p sim.ApplyControlParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, s.world.ApplyControl(p.ID, p.Control)

	default:
		return nil, &sim.Error{Code: sim.ErrCodeUnknownMethod, Message: fmt.Sprintf("unknown method %q", method)}
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &sim.Error{Code: sim.ErrCodeBadRequest, Message: err.Error()}
	}
	return nil
}
