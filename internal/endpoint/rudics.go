// internal/endpoint/rudics.go
package endpoint

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial2rudics/internal/config"
)

// DialFunc establishes the dockserver connection. Tests substitute their own.
type DialFunc func(addr string, timeout time.Duration) (net.Conn, error)

// Rudics wraps the TCP client leg to the dockserver's RUDICS listener. The
// outbound buffer outlives individual connections: bytes queued while the
// link is down are sent once it comes back.
type Rudics struct {
	addr   string
	cfg    *config.RudicsConfig
	logger *zap.Logger
	dial   DialFunc

	conn   net.Conn
	connID string
	gen    int

	out       []byte
	lastOpen  time.Time
	lastClose time.Time
	nextOpen  time.Time
}

// NewRudics creates the network endpoint in the CLOSED state; the session
// controller opens it lazily.
func NewRudics(cfg *config.RudicsConfig, logger *zap.Logger) *Rudics {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Rudics{
		addr:   addr,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "rudics"), zap.String("addr", addr)),
		dial:   defaultDial,
	}
}

func defaultDial(addr string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	return dialer.Dial("tcp", addr)
}

// SetDial overrides the dialer. Used by tests and the dockserver simulator.
func (r *Rudics) SetDial(dial DialFunc) {
	r.dial = dial
}

// IsOpen reports whether a connection is currently established
func (r *Rudics) IsOpen() bool {
	return r.conn != nil
}

// Blocked reports whether reconnection backoff still holds at now
func (r *Rudics) Blocked(now time.Time) bool {
	return now.Before(r.nextOpen)
}

// NextOpen returns the earliest time another open attempt is allowed
func (r *Rudics) NextOpen() time.Time {
	return r.nextOpen
}

// LastOpen returns the time the current or most recent connection opened
func (r *Rudics) LastOpen() time.Time {
	return r.lastOpen
}

// LastClose returns the time the most recent connection closed
func (r *Rudics) LastClose() time.Time {
	return r.lastClose
}

// Generation identifies the current connection; reads from a superseded
// connection are discarded by the bridge loop.
func (r *Rudics) Generation() int {
	return r.gen
}

// ConnID returns the log-correlation ID of the current connection
func (r *Rudics) ConnID() string {
	return r.connID
}

// Conn exposes the live connection for the bridge's read pump
func (r *Rudics) Conn() net.Conn {
	return r.conn
}

// Open connects to the dockserver. An attempt before the backoff deadline
// leaves the endpoint closed and returns false; a connect failure re-arms
// the backoff by the configured reconnect delay.
func (r *Rudics) Open(now time.Time) (bool, error) {
	if r.conn != nil {
		return true, nil
	}
	if now.Before(r.nextOpen) {
		return false, nil
	}

	conn, err := r.dial(r.addr, r.cfg.ConnectTimeout)
	if err != nil {
		r.pushNextOpen(now.Add(r.cfg.ReconnectDelay))
		r.logger.Warn("Connect failed",
			zap.Error(err),
			zap.Duration("retry_in", r.cfg.ReconnectDelay),
		)
		return false, fmt.Errorf("connect %s: %w", r.addr, err)
	}

	r.conn = conn
	r.connID = uuid.New().String()
	r.gen++
	r.lastOpen = now

	r.logger.Info("Connected to dockserver",
		zap.String("conn_id", r.connID),
		zap.Int("generation", r.gen),
	)
	return true, nil
}

// Close releases the connection; idempotent. The gap is the minimum delay
// before the next open attempt and never rolls an existing deadline back.
func (r *Rudics) Close(now time.Time, gap time.Duration) {
	if r.conn == nil {
		return
	}

	if err := r.conn.Close(); err != nil {
		r.logger.Warn("Error closing connection", zap.String("conn_id", r.connID), zap.Error(err))
	} else {
		r.logger.Info("Closed dockserver connection", zap.String("conn_id", r.connID))
	}

	// Supersede the generation so late results from the dying connection's
	// reader are discarded instead of being misread as a transport failure.
	r.gen++
	r.conn = nil
	r.lastClose = now
	r.pushNextOpen(now.Add(gap))
}

// pushNextOpen keeps nextOpen monotonically non-decreasing across closes
func (r *Rudics) pushNextOpen(t time.Time) {
	if t.After(r.nextOpen) {
		r.nextOpen = t
	}
}

// Pending returns the number of buffered outbound bytes
func (r *Rudics) Pending() int {
	return len(r.out)
}

// EnqueueOut appends to the outbound buffer
func (r *Rudics) EnqueueOut(p []byte) {
	r.out = append(r.out, p...)
}

// WriteFront sends at most n bytes from the front of the outbound buffer and
// advances it by what the transport accepted.
func (r *Rudics) WriteFront(n int) (int, error) {
	if r.conn == nil || len(r.out) == 0 || n <= 0 {
		return 0, nil
	}
	if n > len(r.out) {
		n = len(r.out)
	}

	m, err := r.conn.Write(r.out[:n])
	r.out = r.out[m:]
	if err != nil {
		return m, fmt.Errorf("rudics write: %w", err)
	}
	return m, nil
}
