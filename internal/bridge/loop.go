// internal/bridge/loop.go

// Package bridge ties the serial and RUDICS endpoints together: a single
// goroutine owns every piece of mutable state and multiplexes over one pump
// goroutine per transport read direction, a timer supplied by the session
// controller, and cancellation. This preserves the total ordering of
// open/close decisions a select-based single-threaded loop would give.
package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"serial2rudics/internal/endpoint"
	"serial2rudics/internal/session"
)

type ioResult struct {
	data []byte
	err  error
}

type netResult struct {
	gen  int
	data []byte
	err  error
}

// Loop is the bridge multiplexing loop
type Loop struct {
	serial    *endpoint.Serial
	ctrl      *session.Controller
	logger    *zap.Logger
	capture   *Capture
	stats     *Stats
	readChunk int

	serialIn chan ioResult
	netIn    chan netResult
	done     chan struct{}
	netGen   int
}

// NewLoop creates the bridge loop. capture may be nil.
func NewLoop(
	serial *endpoint.Serial,
	ctrl *session.Controller,
	stats *Stats,
	capture *Capture,
	readChunk int,
	logger *zap.Logger,
) *Loop {
	return &Loop{
		serial:    serial,
		ctrl:      ctrl,
		logger:    logger.With(zap.String("component", "bridge")),
		capture:   capture,
		stats:     stats,
		readChunk: readChunk,
		serialIn:  make(chan ioResult, 1),
		netIn:     make(chan netResult, 1),
		done:      make(chan struct{}),
	}
}

// Run drives the bridge until the serial side closes with nothing left to
// drain toward the dockserver, or the context is cancelled. Both transports
// are released on every exit path.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		close(l.done)
		l.serial.Close()
		l.ctrl.Rudics().Close(time.Now(), 0)
	}()

	go l.serialPump()

	for l.serial.Alive() || l.ctrl.Draining() {
		select {
		case <-ctx.Done():
			l.logger.Info("Shutdown requested")
			return ctx.Err()
		default:
		}

		now := time.Now()

		// Retry a desired-but-blocked open; a fresh connection needs a pump.
		l.ctrl.MaybeOpen(now)
		l.ensureNetPump()

		// Writes first, so a freed buffer slot exists before new bytes append.
		progress := false
		if l.serial.Writable() {
			if err := l.serial.SendOne(); err == nil {
				l.stats.addSerialOut(1)
				progress = true
			}
		}
		if n := l.ctrl.Send(now); n > 0 {
			l.stats.addRudicsOut(n)
			progress = true
		}

		l.publishSession()

		if progress {
			// Output is still flowing: poll inputs without blocking and
			// come straight back for the next write.
			select {
			case r := <-l.serialIn:
				l.handleSerial(r)
			case r := <-l.netIn:
				l.handleNet(r)
			default:
			}
			continue
		}

		wait := l.ctrl.Timeout(now)
		select {
		case r := <-l.serialIn:
			l.handleSerial(r)
		case r := <-l.netIn:
			l.handleNet(r)
		case <-time.After(wait):
			l.ctrl.TimedOut(time.Now())
		case <-ctx.Done():
			l.logger.Info("Shutdown requested")
			return ctx.Err()
		}
	}

	l.logger.Info("Serial side closed and outbound drained, stopping")
	return nil
}

// Snapshot returns the current counters for the status surface
func (l *Loop) Snapshot() Snapshot {
	return l.stats.Snapshot()
}

func (l *Loop) publishSession() {
	r := l.ctrl.Rudics()
	desired := "closed"
	if l.ctrl.WantOpen() {
		desired = "open"
	}
	l.stats.setSession(desired, r.IsOpen(), r.Pending(), r.NextOpen(), l.ctrl.LastActivity())
}

// handleSerial moves bytes from the serial line into the session controller
// one at a time so trigger lines are accumulated exactly as they arrived.
// A read failure is an unexpected close of the serial endpoint.
func (l *Loop) handleSerial(r ioResult) {
	now := time.Now()

	if len(r.data) > 0 {
		l.capture.Serial(r.data)
		l.stats.addSerialIn(len(r.data))
		for _, b := range r.data {
			l.ctrl.Put(b, now)
		}
	}

	if r.err != nil {
		if errors.Is(r.err, io.EOF) {
			l.logger.Info("Serial EOF")
		} else {
			l.logger.Warn("Serial read failed", zap.Error(r.err))
		}
		l.serial.Close()
	}
}

// handleNet appends dockserver bytes straight to the serial outbound buffer;
// no trigger logic runs on this direction. Results from a superseded
// connection are dropped.
func (l *Loop) handleNet(r netResult) {
	if r.gen != l.ctrl.Rudics().Generation() {
		return
	}
	now := time.Now()

	if len(r.data) > 0 {
		l.ctrl.Touch(now)
		l.capture.Rudics(r.data)
		l.stats.addRudicsIn(len(r.data))
		l.serial.EnqueueOut(r.data)
	}

	if r.err != nil {
		l.ctrl.HandleNetworkError(now, r.err)
	}
}

// ensureNetPump starts a read pump for a connection generation that does not
// have one yet.
func (l *Loop) ensureNetPump() {
	r := l.ctrl.Rudics()
	if !r.IsOpen() || r.Generation() == l.netGen {
		return
	}
	l.netGen = r.Generation()
	go l.netPump(r.Conn(), l.netGen)
}

// serialPump ships serial reads to the loop. It owns no state: errors and
// EOF are delivered as results for the loop to act on.
func (l *Loop) serialPump() {
	t := l.serial.Transport()
	for {
		buf := make([]byte, l.readChunk)
		n, err := t.Read(buf)
		if n == 0 && err == nil {
			err = io.EOF
		}

		select {
		case l.serialIn <- ioResult{data: buf[:n], err: err}:
		case <-l.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// netPump ships dockserver reads to the loop, tagged with the connection
// generation. It exits on the first error, which includes the connection
// being closed under it.
func (l *Loop) netPump(conn net.Conn, gen int) {
	for {
		buf := make([]byte, l.readChunk)
		n, err := conn.Read(buf)
		if n == 0 && err == nil {
			err = io.EOF
		}

		select {
		case l.netIn <- netResult{gen: gen, data: buf[:n], err: err}:
		case <-l.done:
			return
		}
		if err != nil {
			return
		}
	}
}
