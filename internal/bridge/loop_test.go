package bridge

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial2rudics/internal/config"
	"serial2rudics/internal/endpoint"
	"serial2rudics/internal/session"
)

// pipeTransport is a scripted serial transport. Reads pop pre-loaded chunks;
// an empty script either reports EOF or blocks until Close, so tests can pick
// between a line that disappears and one that merely goes quiet.
type pipeTransport struct {
	mu             sync.Mutex
	written        []byte
	reads          chan []byte
	closed         chan struct{}
	closeOnce      sync.Once
	eofWhenDrained bool
}

func newPipeTransport(eofWhenDrained bool, chunks ...[]byte) *pipeTransport {
	p := &pipeTransport{
		reads:          make(chan []byte, len(chunks)+1),
		closed:         make(chan struct{}),
		eofWhenDrained: eofWhenDrained,
	}
	for _, c := range chunks {
		p.reads <- c
	}
	return p
}

func (p *pipeTransport) Read(buf []byte) (int, error) {
	if p.eofWhenDrained {
		select {
		case c := <-p.reads:
			return copy(buf, c), nil
		default:
			return 0, io.EOF
		}
	}
	select {
	case c := <-p.reads:
		return copy(buf, c), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *pipeTransport) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *pipeTransport) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeTransport) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

// scriptedNetConn is the dockserver side: reads pop pre-loaded chunks and
// block once drained until Close tears the connection down.
type scriptedNetConn struct {
	mu        sync.Mutex
	written   []byte
	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptedNetConn(chunks ...[]byte) *scriptedNetConn {
	c := &scriptedNetConn{
		reads:  make(chan []byte, len(chunks)+1),
		closed: make(chan struct{}),
	}
	for _, chunk := range chunks {
		c.reads <- chunk
	}
	return c
}

func (c *scriptedNetConn) Read(p []byte) (int, error) {
	select {
	case chunk := <-c.reads:
		return copy(p, chunk), nil
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *scriptedNetConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *scriptedNetConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptedNetConn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written...)
}

func (c *scriptedNetConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *scriptedNetConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *scriptedNetConn) SetDeadline(time.Time) error      { return nil }
func (c *scriptedNetConn) SetReadDeadline(time.Time) error  { return nil }
func (c *scriptedNetConn) SetWriteDeadline(time.Time) error { return nil }

func bridgeTestConfig(initialState string) *config.RudicsConfig {
	return &config.RudicsConfig{
		Host:           "127.0.0.1",
		Port:           6565,
		ConnectTimeout: time.Second,
		IdleTimeout:    time.Hour,
		InitialState:   initialState,
		TriggerOn: []string{
			`behavior\s+surface_[0-9]+:\s+SUBSTATE\s+[0-9]+\s+->[0-9]+\s+:\s+Picking\s+iridium\s+or\s+freewave`,
		},
		TriggerOff:     []string{`surface_[0-9]+:\s+.*Waiting\s+for\s+final\s+GPS\s+fix`},
		LineTerminator: "\n",
	}
}

type harness struct {
	loop   *Loop
	stats  *Stats
	serial *pipeTransport
	mu     sync.Mutex
	conns  []*scriptedNetConn
}

func (h *harness) conn(i int) *scriptedNetConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.conns) {
		return nil
	}
	return h.conns[i]
}

func (h *harness) dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func newHarness(t *testing.T, cfg *config.RudicsConfig, serial *pipeTransport, connScript ...[]byte) *harness {
	t.Helper()

	logger := zap.NewNop()
	h := &harness{serial: serial}

	rudics := endpoint.NewRudics(cfg, logger)
	rudics.SetDial(func(addr string, timeout time.Duration) (net.Conn, error) {
		c := newScriptedNetConn(connScript...)
		h.mu.Lock()
		h.conns = append(h.conns, c)
		h.mu.Unlock()
		return c, nil
	})

	triggers, err := session.NewTriggerSet(cfg.TriggerOn, cfg.TriggerOff)
	require.NoError(t, err)

	ctrl := session.NewController(cfg, rudics, triggers, session.NewRateLimiter(cfg.BaudRateLimit), logger)
	h.stats = NewStats()
	ctrl.SetEventSink(h.stats)

	sp := endpoint.NewSerialWithTransport("sim", serial, logger)
	h.loop = NewLoop(sp, ctrl, h.stats, nil, 256, logger)
	return h
}

func runLoop(t *testing.T, l *Loop, ctx context.Context) error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("bridge loop did not stop")
		return nil
	}
}

func TestLoopForwardsSerialBytesAndStopsOnEOF(t *testing.T) {
	serial := newPipeTransport(true, []byte("hello"))
	h := newHarness(t, bridgeTestConfig("connected"), serial)

	err := runLoop(t, h.loop, context.Background())
	require.NoError(t, err)

	assert.Equal(t, []byte("hello"), h.conn(0).Written())

	snap := h.loop.Snapshot()
	assert.Equal(t, int64(5), snap.SerialBytesIn)
	assert.Equal(t, int64(5), snap.RudicsBytesOut)
	assert.Equal(t, int64(1), snap.Connects)
}

func TestLoopForwardsDockserverBytesToSerial(t *testing.T) {
	serial := newPipeTransport(false)
	h := newHarness(t, bridgeTestConfig("connected"), serial, []byte("DATA"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(serial.Written()) == 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("DATA"), serial.Written())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge loop did not stop")
	}

	snap := h.loop.Snapshot()
	assert.Equal(t, int64(4), snap.RudicsBytesIn)
	assert.Equal(t, int64(4), snap.SerialBytesOut)
}

func TestLoopConnectsOnTriggerAndForwardsLaterBytes(t *testing.T) {
	serial := newPipeTransport(false,
		[]byte("sci: sensors nominal\n"),
		[]byte("behavior surface_3: SUBSTATE 1 ->2 : Picking iridium or freewave\n"),
		[]byte("$GPGGA,fix\n"),
	)
	h := newHarness(t, bridgeTestConfig("disconnected"), serial)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		c := h.conn(0)
		return c != nil && len(c.Written()) == len("$GPGGA,fix\n")
	}, 2*time.Second, 5*time.Millisecond)

	// everything before the trigger line, and the trigger line itself, was
	// read while the session was in the disconnected state and dropped
	assert.Equal(t, []byte("$GPGGA,fix\n"), h.conn(0).Written())
	assert.Equal(t, 1, h.dials())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bridge loop did not stop")
	}
}

func TestLoopDisconnectsOnTriggerAndDrops(t *testing.T) {
	serial := newPipeTransport(false,
		[]byte("abc\n"),
		[]byte("surface_3: Waiting for final GPS fix\n"),
		[]byte("dropped after close\n"),
	)
	cfg := bridgeTestConfig("connected")
	cfg.ReconnectSpacing = 50 * time.Millisecond
	h := newHarness(t, cfg, serial)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		snap := h.loop.Snapshot()
		return snap.TriggersOff == 1 && snap.Desired == "closed"
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.loop.Snapshot().SerialBytesIn == int64(len("abc\n")+len("surface_3: Waiting for final GPS fix\n")+len("dropped after close\n"))
	}, 2*time.Second, 5*time.Millisecond)

	// only the pre-trigger line reached the dockserver: the trigger line was
	// still queued when the close landed, and the line after it was dropped
	assert.Equal(t, []byte("abc\n"), h.conn(0).Written())
	assert.Equal(t, 1, h.dials())

	// the close must stick: the dying connection's read error is not a
	// transport failure, so nothing redials once the spacing gap passes
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, h.dials())
	assert.Equal(t, "closed", h.loop.Snapshot().Desired)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bridge loop did not stop")
	}
}
