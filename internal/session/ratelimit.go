// internal/session/ratelimit.go
package session

import "time"

// bitsPerByte is the wire cost of one byte under 8N1 framing: one start bit,
// eight data bits, one stop bit.
const bitsPerByte = 9

// RateLimiter paces network sends to the configured baud rate using only the
// bridge loop's polling cadence as its clock. Pure policy: it never performs
// I/O, it only hands out byte budgets.
type RateLimiter struct {
	perByte  time.Duration // 0 means unthrottled
	lastSend time.Time
	nextSend time.Time
}

// NewRateLimiter derives the byte pacing from a baud rate. A rate below 1
// disables throttling entirely.
func NewRateLimiter(baudRate int) *RateLimiter {
	r := &RateLimiter{}
	if baudRate >= 1 {
		r.perByte = time.Duration(float64(time.Second) * bitsPerByte / float64(baudRate))
	}
	return r
}

// Unthrottled reports whether no baud limit is configured
func (r *RateLimiter) Unthrottled() bool {
	return r.perByte == 0
}

// Grant returns how many of the queued bytes may be sent now: the whole queue
// when unthrottled, otherwise floor(elapsed/perByte) capped at the queue. A
// second call before the pacing interval elapses is refused.
func (r *RateLimiter) Grant(now time.Time, queued int) int {
	if queued <= 0 {
		return 0
	}
	if r.perByte == 0 {
		return queued
	}
	if now.Before(r.nextSend) {
		return 0
	}
	r.nextSend = now.Add(r.perByte)

	if r.lastSend.IsZero() {
		return queued
	}
	n := int(now.Sub(r.lastSend) / r.perByte)
	if n > queued {
		n = queued
	}
	return n
}

// MarkSent records a successful transmission at now
func (r *RateLimiter) MarkSent(now time.Time) {
	r.lastSend = now
}

// NextSend returns the earliest time another grant can succeed
func (r *RateLimiter) NextSend() time.Time {
	return r.nextSend
}
