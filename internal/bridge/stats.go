// internal/bridge/stats.go
package bridge

import (
	"sync"
	"time"
)

// Stats collects bridge counters. The loop goroutine writes, the status
// server reads snapshots; it also serves as an event sink so session
// lifecycle transitions are counted without the loop knowing about them.
type Stats struct {
	mu        sync.Mutex
	startTime time.Time

	serialBytesIn  int64
	serialBytesOut int64
	rudicsBytesIn  int64
	rudicsBytesOut int64

	connects    int64
	disconnects int64
	triggersOn  int64
	triggersOff int64
	idleCloses  int64

	desired      string
	open         bool
	pendingOut   int
	nextOpen     time.Time
	lastActivity time.Time
}

// Snapshot is the JSON view served by the status endpoint
type Snapshot struct {
	Uptime         string    `json:"uptime"`
	SerialBytesIn  int64     `json:"serial_bytes_in"`
	SerialBytesOut int64     `json:"serial_bytes_out"`
	RudicsBytesIn  int64     `json:"rudics_bytes_in"`
	RudicsBytesOut int64     `json:"rudics_bytes_out"`
	Connects       int64     `json:"connects"`
	Disconnects    int64     `json:"disconnects"`
	TriggersOn     int64     `json:"triggers_on"`
	TriggersOff    int64     `json:"triggers_off"`
	IdleCloses     int64     `json:"idle_closes"`
	Desired        string    `json:"desired_state"`
	Open           bool      `json:"connection_open"`
	PendingOut     int       `json:"pending_out_bytes"`
	NextOpen       time.Time `json:"next_allowed_open"`
	LastActivity   time.Time `json:"last_activity"`
}

// NewStats creates a stats collector with uptime anchored at now
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// Publish implements session.EventSink by counting lifecycle transitions
func (s *Stats) Publish(eventType string, _ map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch eventType {
	case "connected":
		s.connects++
	case "disconnected":
		s.disconnects++
	case "trigger_on":
		s.triggersOn++
	case "trigger_off":
		s.triggersOff++
		s.disconnects++
	case "idle_timeout":
		s.idleCloses++
		s.disconnects++
	}
}

func (s *Stats) addSerialIn(n int) {
	s.mu.Lock()
	s.serialBytesIn += int64(n)
	s.mu.Unlock()
}

func (s *Stats) addSerialOut(n int) {
	s.mu.Lock()
	s.serialBytesOut += int64(n)
	s.mu.Unlock()
}

func (s *Stats) addRudicsIn(n int) {
	s.mu.Lock()
	s.rudicsBytesIn += int64(n)
	s.mu.Unlock()
}

func (s *Stats) addRudicsOut(n int) {
	s.mu.Lock()
	s.rudicsBytesOut += int64(n)
	s.mu.Unlock()
}

func (s *Stats) setSession(desired string, open bool, pendingOut int, nextOpen, lastActivity time.Time) {
	s.mu.Lock()
	s.desired = desired
	s.open = open
	s.pendingOut = pendingOut
	s.nextOpen = nextOpen
	s.lastActivity = lastActivity
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Uptime:         time.Since(s.startTime).String(),
		SerialBytesIn:  s.serialBytesIn,
		SerialBytesOut: s.serialBytesOut,
		RudicsBytesIn:  s.rudicsBytesIn,
		RudicsBytesOut: s.rudicsBytesOut,
		Connects:       s.connects,
		Disconnects:    s.disconnects,
		TriggersOn:     s.triggersOn,
		TriggersOff:    s.triggersOff,
		IdleCloses:     s.idleCloses,
		Desired:        s.desired,
		Open:           s.open,
		PendingOut:     s.pendingOut,
		NextOpen:       s.nextOpen,
		LastActivity:   s.lastActivity,
	}
}
