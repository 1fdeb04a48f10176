// internal/endpoint/serial.go
package endpoint

import (
	"fmt"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"serial2rudics/internal/config"
)

// Serial wraps the glider-facing serial line. The bridge loop owns all calls
// into it; only the transport's Read is exercised from the read pump.
type Serial struct {
	device string
	port   Transport
	logger *zap.Logger
	out    []byte
	open   bool
}

// NewSerial opens the configured serial device
func NewSerial(cfg *config.SerialConfig, logger *zap.Logger) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}

	switch cfg.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}

	switch cfg.StopBits {
	case "1.5":
		mode.StopBits = serial.OnePointFiveStopBits
	case "2":
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	logger.Info("Serial port opened",
		zap.String("device", cfg.Device),
		zap.Int("baud_rate", cfg.BaudRate),
		zap.Int("data_bits", cfg.DataBits),
		zap.String("parity", cfg.Parity),
		zap.String("stop_bits", cfg.StopBits),
	)

	return NewSerialWithTransport(cfg.Device, port, logger), nil
}

// NewSerialWithTransport wraps an already-open transport. Used by NewSerial
// and by tests that substitute a mock.
func NewSerialWithTransport(device string, t Transport, logger *zap.Logger) *Serial {
	return &Serial{
		device: device,
		port:   t,
		logger: logger.With(zap.String("component", "serial"), zap.String("device", device)),
		open:   true,
	}
}

// Alive reports whether the transport is still open
func (s *Serial) Alive() bool {
	return s.open
}

// Readable reports whether the endpoint is open and willing to accept input
func (s *Serial) Readable() bool {
	return s.open
}

// Writable reports whether there is buffered output for an open transport
func (s *Serial) Writable() bool {
	return s.open && len(s.out) > 0
}

// Pending returns the number of buffered outbound bytes
func (s *Serial) Pending() int {
	return len(s.out)
}

// EnqueueOut appends to the outbound buffer
func (s *Serial) EnqueueOut(p []byte) {
	if !s.open {
		return
	}
	s.out = append(s.out, p...)
}

// SendOne writes the front of the outbound buffer a single byte at a time so
// a slow physical line is never overrun. A write error closes the endpoint.
func (s *Serial) SendOne() error {
	if !s.open || len(s.out) == 0 {
		return nil
	}

	n, err := s.port.Write(s.out[:1])
	if err != nil {
		s.logger.Warn("Serial write failed, closing", zap.Error(err))
		s.Close()
		return fmt.Errorf("serial write: %w", err)
	}
	s.out = s.out[n:]
	return nil
}

// Transport exposes the owned transport for the bridge's read pump
func (s *Serial) Transport() Transport {
	return s.port
}

// Close releases the transport exactly once; later calls are no-ops
func (s *Serial) Close() {
	if !s.open {
		return
	}
	s.open = false

	if err := s.port.Close(); err != nil {
		s.logger.Warn("Error closing serial port", zap.Error(err))
	} else {
		s.logger.Info("Serial port closed")
	}
}
