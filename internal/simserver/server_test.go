package simserver_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/autodrive/internal/sim"
	"github.com/thruflo/autodrive/internal/simserver"
	"github.com/thruflo/autodrive/internal/testutil"
)

func TestNewServer_Defaults(t *testing.T) {
	srv := simserver.NewServer(simserver.Config{Logger: testutil.QuietLogger()})

	assert.Len(t, srv.World().SpawnPoints(), 4)
	assert.Equal(t, "", srv.ListenAddr())
	assert.NoError(t, srv.Stop())
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	tests := []struct {
		name  string
		hello any
	}{
		{"not hello", sim.BaseMessage{Type: sim.TypeRequest}},
		{"bad version", sim.HelloMsg{Type: sim.TypeHello, ProtocolVersion: "0.1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := testutil.StartSimServer(t, simserver.Config{})
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			require.NoError(t, err)
			defer conn.Close()

			require.NoError(t, conn.WriteJSON(tt.hello))
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err = conn.ReadMessage()
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
		})
	}
}

func TestServer_UnknownMethodAndBadParams(t *testing.T) {
	_, url := testutil.StartSimServer(t, simserver.Config{})
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(sim.HelloMsg{Type: sim.TypeHello, ProtocolVersion: sim.ProtocolVersion, ClientName: "raw"}))
	var welcome sim.WelcomeMsg
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, sim.TypeWelcome, welcome.Type)

	require.NoError(t, conn.WriteJSON(sim.RequestMsg{Type: sim.TypeRequest, ID: 1, Method: "world.explode"}))
	var resp sim.ResponseMsg
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, uint64(1), resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, sim.ErrCodeUnknownMethod, resp.Error.Code)

	require.NoError(t, conn.WriteJSON(sim.RequestMsg{Type: sim.TypeRequest, ID: 2, Method: sim.MethodSpawnActor, Params: json.RawMessage(`"nope"`)}))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, uint64(2), resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, sim.ErrCodeBadRequest, resp.Error.Code)
}

func TestServer_SyncTickBroadcastsToOtherClients(t *testing.T) {
	_, url := testutil.StartSimServer(t, simserver.Config{})
	driver := testutil.DialSim(t, url)
	observer := testutil.DialSim(t, url)
	ctx, cancel := testutil.ShortOperationContext(t)
	defer cancel()

	delta := 0.05
	_, err := driver.ApplySettings(ctx, sim.WorldSettings{SynchronousMode: true, FixedDeltaSeconds: &delta})
	require.NoError(t, err)

	got := make(chan sim.Snapshot, 1)
	go func() {
		s, err := observer.WaitForTick(ctx)
		if err == nil {
			got <- s
		}
	}()

	// Ticks are only observed by waiters registered before the step, so keep
	// stepping until the observer has seen one.
	deadline := time.After(2 * time.Second)
	for {
		ticked, err := driver.Tick(ctx)
		require.NoError(t, err)
		select {
		case s := <-got:
			assert.GreaterOrEqual(t, s.Frame, uint64(1))
			assert.LessOrEqual(t, s.Frame, ticked.Frame)
			return
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("observer never saw a tick")
		}
	}
}

func TestServer_AsyncClockPausedInSyncMode(t *testing.T) {
	srv, url := testutil.StartSimServer(t, simserver.Config{TickInterval: 5 * time.Millisecond})
	testutil.StartSimClock(t, srv)
	c := testutil.DialSim(t, url)
	ctx, cancel := testutil.ShortOperationContext(t)
	defer cancel()

	_, err := c.WaitForTick(ctx)
	require.NoError(t, err)

	_, err = c.ApplySettings(ctx, sim.WorldSettings{SynchronousMode: true})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond) // let an in-flight tick drain

	short, cancelShort := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancelShort()
	_, err = c.WaitForTick(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServer_StartAndStop(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	srv := simserver.NewServer(simserver.Config{Port: port, Logger: testutil.QuietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.ListenAddr() != "" }, 2*time.Second, 10*time.Millisecond)

	dialCtx, cancelDial := testutil.ShortOperationContext(t)
	defer cancelDial()
	c, err := sim.Dial(dialCtx, "127.0.0.1", port, sim.WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "Town01", c.MapName())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	_ = c.Close()
}
