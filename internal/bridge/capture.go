// internal/bridge/capture.go
package bridge

import (
	"fmt"
	"os"
)

// Capture is the optional binary tap: every chunk moved by the loop is
// appended to a file with a direction prefix, for post-mission debugging.
// A nil *Capture is a no-op.
type Capture struct {
	f *os.File
}

// NewCapture opens (or creates) the capture file for appending
func NewCapture(path string) (*Capture, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	return &Capture{f: f}, nil
}

// Serial records a chunk read from the serial line
func (c *Capture) Serial(p []byte) {
	c.record("SERIAL", p)
}

// Rudics records a chunk read from the dockserver
func (c *Capture) Rudics(p []byte) {
	c.record("RUDICS", p)
}

func (c *Capture) record(direction string, p []byte) {
	if c == nil || len(p) == 0 {
		return
	}
	fmt.Fprintf(c.f, "%s %d : ", direction, len(p))
	c.f.Write(p)
	c.f.Write([]byte{'\n'})
}

// Close closes the capture file
func (c *Capture) Close() error {
	if c == nil {
		return nil
	}
	return c.f.Close()
}
