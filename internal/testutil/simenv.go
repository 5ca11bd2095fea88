package testutil

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thruflo/autodrive/internal/logging"
	"github.com/thruflo/autodrive/internal/sim"
	"github.com/thruflo/autodrive/internal/simserver"
)

// StartSimServer serves a simserver on an httptest listener. It returns the
// server and the websocket URL of its protocol endpoint. The listener is
// closed when the test ends.
func StartSimServer(t *testing.T, cfg simserver.Config) (*simserver.Server, string) {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = QuietLogger()
	}
	srv := simserver.NewServer(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.CloseSessions()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + sim.DefaultPath
}

// StartSimClock runs the server's asynchronous clock until the test ends.
func StartSimClock(t *testing.T, srv *simserver.Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.RunClock(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// DialSim connects to url and closes the client when the test ends.
func DialSim(t *testing.T, url string, opts ...sim.DialOption) *sim.WSClient {
	t.Helper()

	ctx, cancel := ShortOperationContext(t)
	defer cancel()
	opts = append([]sim.DialOption{sim.WithTimeout(5 * time.Second)}, opts...)
	c, err := sim.DialURL(ctx, url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// QuietLogger returns a logger that discards everything.
func QuietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(log.New(io.Discard, "", 0))
	return l
}

// LogBuffer is a goroutine-safe buffer for captured log output.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CaptureLogger returns a debug-level logger writing into a LogBuffer.
func CaptureLogger() (*logging.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	l := logging.New()
	l.SetLevel(logging.LevelDebug)
	l.SetOutput(log.New(buf, "", 0))
	return l, buf
}
