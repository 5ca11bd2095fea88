// Package sim is the connection to a running driving simulator. It defines the
// JSON wire protocol, the Client interface consumed by the world adapter and a
// websocket implementation of it.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client defines the operations the simulator exposes to a driving client.
type Client interface {
	// MapName returns the name of the loaded map.
	MapName() string

	// GetSettings returns the current world settings.
	GetSettings(ctx context.Context) (WorldSettings, error)

	// ApplySettings replaces the world settings and returns the frame at
	// which they took effect.
	ApplySettings(ctx context.Context, settings WorldSettings) (uint64, error)

	// SetTrafficManagerSync toggles synchronous mode on the traffic manager.
	SetTrafficManagerSync(ctx context.Context, enabled bool) error

	// Tick advances a synchronous world by one fixed step and returns the
	// resulting snapshot once the server acknowledges it.
	Tick(ctx context.Context) (Snapshot, error)

	// WaitForTick blocks until the server broadcasts its next tick.
	WaitForTick(ctx context.Context) (Snapshot, error)

	// SpawnPoints returns the recommended spawn transforms of the map.
	SpawnPoints(ctx context.Context) ([]Transform, error)

	// Blueprints returns the blueprint ids matching a wildcard filter.
	Blueprints(ctx context.Context, filter string) ([]string, error)

	// GroundProjection returns the ground point below loc, if any exists
	// within searchDistance meters.
	GroundProjection(ctx context.Context, loc Location, searchDistance float64) (Location, bool, error)

	// SpawnActor spawns an actor and returns its id.
	SpawnActor(ctx context.Context, params SpawnParams) (ActorID, error)

	// DestroyActor removes an actor from the world.
	DestroyActor(ctx context.Context, id ActorID) error

	// SetLocation teleports an actor.
	SetLocation(ctx context.Context, id ActorID, loc Location) error

	// ApplyControl applies a control command to a vehicle.
	ApplyControl(ctx context.Context, id ActorID, control VehicleControl) error

	// Close releases the connection.
	Close() error
}

// Dial defaults.
const (
	DefaultPath       = "/v1/sim"
	DefaultTimeout    = 60 * time.Second
	DefaultClientName = "autodrive"
)

type dialOptions struct {
	path       string
	timeout    time.Duration
	clientName string
	dialer     *websocket.Dialer
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

// WithTimeout sets the handshake and per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) {
		o.timeout = d
	}
}

// WithClientName sets the name announced in HELLO.
func WithClientName(name string) DialOption {
	return func(o *dialOptions) {
		o.clientName = name
	}
}

// WithPath overrides the websocket endpoint path.
func WithPath(path string) DialOption {
	return func(o *dialOptions) {
		o.path = path
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) DialOption {
	return func(o *dialOptions) {
		o.dialer = d
	}
}

// WSClient implements Client over a websocket connection.
type WSClient struct {
	conn          *websocket.Conn
	timeout       time.Duration
	mapName       string
	serverVersion string

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan ResponseMsg
	waiters []chan Snapshot
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the simulator at host:port and performs the handshake.
func Dial(ctx context.Context, host string, port int, opts ...DialOption) (*WSClient, error) {
	o := dialOptions{path: DefaultPath}
	for _, opt := range opts {
		opt(&o)
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: o.path}
	return DialURL(ctx, u.String(), opts...)
}

// DialURL connects to a full websocket URL and performs the handshake.
func DialURL(ctx context.Context, rawURL string, opts ...DialOption) (*WSClient, error) {
	o := dialOptions{
		path:       DefaultPath,
		timeout:    DefaultTimeout,
		clientName: DefaultClientName,
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	dctx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	conn, _, err := o.dialer.DialContext(dctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rawURL, err)
	}

	welcome, err := handshake(conn, o)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &WSClient{
		conn:          conn,
		timeout:       o.timeout,
		mapName:       welcome.MapName,
		serverVersion: welcome.ServerVersion,
		pending:       make(map[uint64]chan ResponseMsg),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func handshake(conn *websocket.Conn, o dialOptions) (WelcomeMsg, error) {
	var deadline time.Time
	if o.timeout > 0 {
		deadline = time.Now().Add(o.timeout)
	}

	hello := HelloMsg{
		Type:            TypeHello,
		ProtocolVersion: ProtocolVersion,
		ClientName:      o.clientName,
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(hello); err != nil {
		return WelcomeMsg{}, fmt.Errorf("failed to send HELLO: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return WelcomeMsg{}, fmt.Errorf("failed to read WELCOME: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})

	var welcome WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil {
		return WelcomeMsg{}, fmt.Errorf("failed to parse WELCOME: %w", err)
	}
	if welcome.Type != TypeWelcome {
		return WelcomeMsg{}, fmt.Errorf("expected %s, got %q", TypeWelcome, welcome.Type)
	}
	if welcome.ProtocolVersion != ProtocolVersion {
		return WelcomeMsg{}, fmt.Errorf("protocol version mismatch: client %s, server %s", ProtocolVersion, welcome.ProtocolVersion)
	}
	return welcome, nil
}

// MapName returns the map announced in WELCOME.
func (c *WSClient) MapName() string {
	return c.mapName
}

// ServerVersion returns the version announced in WELCOME.
func (c *WSClient) ServerVersion() string {
	return c.serverVersion
}

func (c *WSClient) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		base, err := DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case TypeResponse:
			var resp ResponseMsg
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}

		case TypeTick:
			var tick TickMsg
			if err := json.Unmarshal(msg, &tick); err != nil {
				continue
			}
			c.mu.Lock()
			waiters := c.waiters
			c.waiters = nil
			c.mu.Unlock()
			for _, w := range waiters {
				w <- tick.Snapshot
			}
		}
	}
}

func (c *WSClient) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	c.pending = make(map[uint64]chan ResponseMsg)
	c.waiters = nil
}

func (c *WSClient) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

func (c *WSClient) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.conn.WriteJSON(v)
}

// call performs one request/response round trip bounded by the client timeout.
func (c *WSClient) call(ctx context.Context, method string, params, result any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", method, err)
		}
		raw = b
	}

	ch := make(chan ResponseMsg, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	req := RequestMsg{Type: TypeRequest, ID: id, Method: method, Params: raw}
	if err := c.write(req); err != nil {
		c.forget(id)
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		c.forget(id)
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (c *WSClient) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// GetSettings returns the current world settings.
func (c *WSClient) GetSettings(ctx context.Context) (WorldSettings, error) {
	var s WorldSettings
	err := c.call(ctx, MethodGetSettings, nil, &s)
	return s, err
}

// ApplySettings replaces the world settings.
func (c *WSClient) ApplySettings(ctx context.Context, settings WorldSettings) (uint64, error) {
	var res ApplySettingsResult
	err := c.call(ctx, MethodApplySettings, settings, &res)
	return res.Frame, err
}

// SetTrafficManagerSync toggles traffic manager synchronous mode.
func (c *WSClient) SetTrafficManagerSync(ctx context.Context, enabled bool) error {
	return c.call(ctx, MethodTrafficManager, TrafficManagerParams{Enabled: enabled}, nil)
}

// Tick advances a synchronous world by one step.
func (c *WSClient) Tick(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.call(ctx, MethodTick, nil, &s)
	return s, err
}

// WaitForTick blocks until the next TICK broadcast. It is not bounded by the
// request timeout; callers bound it through ctx.
func (c *WSClient) WaitForTick(ctx context.Context) (Snapshot, error) {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Snapshot{}, err
	}
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	select {
	case s := <-ch:
		return s, nil
	case <-c.done:
		return Snapshot{}, c.closedErr()
	case <-ctx.Done():
		c.mu.Lock()
		for i, w := range c.waiters {
			if w == ch {
				c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		return Snapshot{}, ctx.Err()
	}
}

// SpawnPoints returns the recommended spawn transforms.
func (c *WSClient) SpawnPoints(ctx context.Context) ([]Transform, error) {
	var points []Transform
	err := c.call(ctx, MethodSpawnPoints, nil, &points)
	return points, err
}

// Blueprints returns blueprint ids matching filter.
func (c *WSClient) Blueprints(ctx context.Context, filter string) ([]string, error) {
	var ids []string
	err := c.call(ctx, MethodBlueprints, BlueprintsParams{Filter: filter}, &ids)
	return ids, err
}

// GroundProjection returns the ground point below loc.
func (c *WSClient) GroundProjection(ctx context.Context, loc Location, searchDistance float64) (Location, bool, error) {
	var res GroundProjectionResult
	err := c.call(ctx, MethodGroundProjection, GroundProjectionParams{Location: loc, SearchDistance: searchDistance}, &res)
	return res.Location, res.Found, err
}

// SpawnActor spawns an actor.
func (c *WSClient) SpawnActor(ctx context.Context, params SpawnParams) (ActorID, error) {
	var res SpawnResult
	err := c.call(ctx, MethodSpawnActor, params, &res)
	return res.ID, err
}

// DestroyActor removes an actor.
func (c *WSClient) DestroyActor(ctx context.Context, id ActorID) error {
	return c.call(ctx, MethodDestroyActor, ActorParams{ID: id}, nil)
}

// SetLocation teleports an actor.
func (c *WSClient) SetLocation(ctx context.Context, id ActorID, loc Location) error {
	return c.call(ctx, MethodSetLocation, SetLocationParams{ID: id, Location: loc}, nil)
}

// ApplyControl applies a control command to a vehicle.
func (c *WSClient) ApplyControl(ctx context.Context, id ActorID, control VehicleControl) error {
	return c.call(ctx, MethodApplyControl, ApplyControlParams{ID: id, Control: control}, nil)
}

// Close closes the connection. Safe to call more than once.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		<-c.done
	})
	return err
}
