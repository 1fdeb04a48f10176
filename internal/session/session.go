// internal/session/session.go
package session

import (
	"time"

	"go.uber.org/zap"

	"serial2rudics/internal/config"
	"serial2rudics/internal/endpoint"
)

// EventSink receives session lifecycle events for the status surface. Nil is
// allowed; publishing must never block the loop.
type EventSink interface {
	Publish(eventType string, data map[string]interface{})
}

// MultiSink fans one event out to several sinks
type MultiSink []EventSink

func (m MultiSink) Publish(eventType string, data map[string]interface{}) {
	for _, s := range m {
		s.Publish(eventType, data)
	}
}

// Controller owns the network endpoint's lifecycle. It mirrors the glider's
// dive/surface cycle: trigger lines in the serial stream flip the desired
// state, which is deliberately decoupled from the endpoint's physical state
// (the controller can want the link open while backoff still blocks it).
//
// All methods are called from the bridge loop goroutine only.
type Controller struct {
	rudics   *endpoint.Rudics
	triggers *TriggerSet
	limiter  *RateLimiter
	logger   *zap.Logger
	events   EventSink

	idleTimeout time.Duration
	spacing     time.Duration
	delay       time.Duration
	terminator  byte

	wantOpen     bool
	line         []byte
	lastActivity time.Time
}

// NewController creates the session controller. The initial desired state
// comes from configuration so a bridge started while the glider is already
// surfaced connects immediately.
func NewController(
	cfg *config.RudicsConfig,
	rudics *endpoint.Rudics,
	triggers *TriggerSet,
	limiter *RateLimiter,
	logger *zap.Logger,
) *Controller {
	terminator := byte('\n')
	if len(cfg.LineTerminator) == 1 {
		terminator = cfg.LineTerminator[0]
	}

	return &Controller{
		rudics:       rudics,
		triggers:     triggers,
		limiter:      limiter,
		logger:       logger.With(zap.String("component", "session")),
		idleTimeout:  cfg.IdleTimeout,
		spacing:      cfg.ReconnectSpacing,
		delay:        cfg.ReconnectDelay,
		terminator:   terminator,
		wantOpen:     cfg.InitialState == "connected",
		lastActivity: time.Now(),
	}
}

// SetEventSink attaches the status event feed
func (c *Controller) SetEventSink(events EventSink) {
	c.events = events
}

// WantOpen reports the desired state of the network leg
func (c *Controller) WantOpen() bool {
	return c.wantOpen
}

// Rudics returns the owned network endpoint
func (c *Controller) Rudics() *endpoint.Rudics {
	return c.rudics
}

// LastActivity returns the time of the last byte seen on either leg
func (c *Controller) LastActivity() time.Time {
	return c.lastActivity
}

// Put feeds one byte read from the serial line. While the session wants the
// link open the byte is queued for the dockserver; either way it feeds the
// line accumulator, and a completed line is searched for the trigger that
// would flip the current desired state. The accumulator clears on every
// terminator whether or not anything matched.
func (c *Controller) Put(b byte, now time.Time) {
	c.lastActivity = now

	if c.wantOpen {
		c.rudics.EnqueueOut([]byte{b})
	}

	c.line = append(c.line, b)
	if b != c.terminator {
		return
	}

	if c.wantOpen {
		if c.triggers.MatchOff(c.line) {
			c.logger.Info("Disconnect trigger matched", zap.ByteString("line", c.line))
			c.wantOpen = false
			c.rudics.Close(now, c.spacing)
			c.publish("trigger_off", map[string]interface{}{"line": string(c.line)})
		}
	} else if c.triggers.MatchOn(c.line) {
		c.logger.Info("Connect trigger matched", zap.ByteString("line", c.line))
		c.wantOpen = true
		c.publish("trigger_on", map[string]interface{}{"line": string(c.line)})
		c.MaybeOpen(now)
	}

	c.line = c.line[:0]
}

// Touch records activity on the network leg
func (c *Controller) Touch(now time.Time) {
	c.lastActivity = now
}

// MaybeOpen attempts to open the network leg when it is desired, closed, and
// past its backoff deadline. Returns true when a new connection came up. A
// connect failure only logs; the endpoint already re-armed its backoff.
func (c *Controller) MaybeOpen(now time.Time) bool {
	if !c.wantOpen || c.rudics.IsOpen() {
		return false
	}

	opened, err := c.rudics.Open(now)
	if err != nil {
		return false
	}
	if opened {
		c.publish("connected", map[string]interface{}{"conn_id": c.rudics.ConnID()})
	}
	return opened
}

// Send performs at most one rate-limited transmission toward the dockserver.
// Returns the number of bytes moved. A transport failure closes the endpoint
// and re-arms the desire to open so a later iteration reconnects.
func (c *Controller) Send(now time.Time) int {
	if !c.rudics.IsOpen() || c.rudics.Pending() == 0 {
		return 0
	}

	n := c.limiter.Grant(now, c.rudics.Pending())
	if n <= 0 {
		return 0
	}

	m, err := c.rudics.WriteFront(n)
	if err != nil || m == 0 {
		c.HandleNetworkError(now, err)
		return m
	}

	c.limiter.MarkSent(now)
	return m
}

// HandleNetworkError recovers from a transport failure on the network leg:
// close, back off by the reconnect delay, and keep wanting the link so a
// later eligible iteration retries. The loop never aborts for this.
func (c *Controller) HandleNetworkError(now time.Time, err error) {
	c.logger.Warn("Network transport error, closing connection", zap.Error(err))
	c.rudics.Close(now, c.delay)
	c.wantOpen = true
	c.publish("disconnected", map[string]interface{}{"reason": "transport error"})
}

// Timeout computes the bridge loop's wait bound: the idle budget, shortened
// to the next rate-limit release or backoff expiry when bytes are queued, so
// the loop wakes exactly when the next time-gated action becomes possible.
func (c *Controller) Timeout(now time.Time) time.Duration {
	d := c.idleTimeout - now.Sub(c.lastActivity)
	if d < time.Second {
		d = time.Second
	}

	if c.rudics.Pending() > 0 {
		if c.wantOpen && !c.rudics.IsOpen() && c.rudics.Blocked(now) {
			if w := c.rudics.NextOpen().Sub(now); w < d {
				d = w
			}
		}
		if c.rudics.IsOpen() {
			if ns := c.limiter.NextSend(); ns.After(now) {
				if w := ns.Sub(now); w < d {
					d = w
				}
			}
		}
	}

	return d
}

// TimedOut is invoked when a wait produced nothing ready. If the idle budget
// has truly expired the connection is presumed silently dead and closed;
// wake-ups scheduled for backoff or rate-limit deadlines fall through.
// Idle time is measured from the last activity on either leg.
func (c *Controller) TimedOut(now time.Time) bool {
	if now.Sub(c.lastActivity) < c.idleTimeout {
		return false
	}

	c.logger.Info("Idle timeout",
		zap.Duration("idle_timeout", c.idleTimeout),
		zap.Bool("was_open", c.rudics.IsOpen()),
	)
	c.rudics.Close(now, c.spacing)
	c.wantOpen = false
	c.lastActivity = now
	c.publish("idle_timeout", nil)
	return true
}

// Draining reports whether queued bytes still have a path to the dockserver,
// over the live connection or a desired reconnect. The loop keeps running for
// these even after the serial side is gone; an idle timeout clears the desire
// and ends the wait.
func (c *Controller) Draining() bool {
	return c.rudics.Pending() > 0 && (c.rudics.IsOpen() || c.wantOpen)
}

func (c *Controller) publish(eventType string, data map[string]interface{}) {
	if c.events != nil {
		c.events.Publish(eventType, data)
	}
}
