// internal/sim/fauxserial.go

// Package sim provides the test-harness stand-ins for the bridge's two
// external collaborators: a pseudo-terminal that plays back a recorded
// glider session as if it were the serial line, and a local listener that
// stands in for the shore-side dockserver. The bridge core talks to both
// through its normal endpoint contracts and cannot tell the difference.
package sim

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"serial2rudics/internal/config"
)

// closeGrace is how long the pseudo-terminal stays up after the input file
// is exhausted, so late traffic from the bridge still reaches the sink.
const closeGrace = 10 * time.Second

// FauxSerial emulates a serial device on a pseudo-terminal pair: an input
// file streams to the pty master, and whatever the bridge writes to the tty
// lands in the sink file.
type FauxSerial struct {
	master *os.File
	tty    *os.File
	logger *zap.Logger
}

// StartFauxSerial opens the pty pair and starts the file pumps. The returned
// device path is handed to the serial endpoint as if it were real hardware.
func StartFauxSerial(cfg *config.SimConfig, logger *zap.Logger) (*FauxSerial, string, error) {
	master, tty, err := pty.Open()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open pty pair: %w", err)
	}

	fs := &FauxSerial{
		master: master,
		tty:    tty,
		logger: logger.With(zap.String("component", "faux-serial"), zap.String("tty", tty.Name())),
	}

	input, err := os.Open(cfg.SerialInput)
	if err != nil {
		master.Close()
		tty.Close()
		return nil, "", fmt.Errorf("failed to open simulator input %s: %w", cfg.SerialInput, err)
	}

	output, err := os.OpenFile(cfg.SerialOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		input.Close()
		master.Close()
		tty.Close()
		return nil, "", fmt.Errorf("failed to open simulator output %s: %w", cfg.SerialOutput, err)
	}

	fs.logger.Info("Faux serial started",
		zap.String("input", cfg.SerialInput),
		zap.String("output", cfg.SerialOutput),
	)

	go fs.pumpInput(input)
	go fs.pumpOutput(output)

	return fs, tty.Name(), nil
}

// pumpInput copies the input file onto the pty master; when the recording
// runs out the master closes after a grace period so the bridge observes a
// serial EOF.
func (fs *FauxSerial) pumpInput(input *os.File) {
	defer input.Close()

	if _, err := io.Copy(fs.master, input); err != nil {
		fs.logger.Warn("Faux serial input pump stopped", zap.Error(err))
		return
	}

	fs.logger.Info("Faux serial input exhausted", zap.Duration("grace", closeGrace))
	time.Sleep(closeGrace)
	fs.master.Close()
}

// pumpOutput copies everything the bridge writes to the tty into the sink
func (fs *FauxSerial) pumpOutput(output *os.File) {
	defer output.Close()

	if _, err := io.Copy(output, fs.master); err != nil {
		fs.logger.Debug("Faux serial output pump stopped", zap.Error(err))
	}
}

// Close tears the pty pair down
func (fs *FauxSerial) Close() {
	fs.master.Close()
	fs.tty.Close()
}
