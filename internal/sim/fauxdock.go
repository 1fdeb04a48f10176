// internal/sim/fauxdock.go
package sim

import (
	"fmt"
	"io"
	"net"
	"os"

	"go.uber.org/zap"

	"serial2rudics/internal/config"
)

// FauxDockserver listens on an ephemeral localhost port, accepts a single
// RUDICS connection, and bridges it to a pair of files: the input file is
// what the "shore side" sends, the output file collects what arrives.
type FauxDockserver struct {
	listener net.Listener
	cfg      *config.SimConfig
	logger   *zap.Logger
}

// StartFauxDockserver starts the listener and returns the host and port the
// RUDICS endpoint should dial.
func StartFauxDockserver(cfg *config.SimConfig, logger *zap.Logger) (*FauxDockserver, string, int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to start dockserver listener: %w", err)
	}

	fd := &FauxDockserver{
		listener: listener,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "faux-dockserver")),
	}

	addr := listener.Addr().(*net.TCPAddr)
	fd.logger.Info("Faux dockserver listening",
		zap.String("host", addr.IP.String()),
		zap.Int("port", addr.Port),
	)

	go fd.serve()

	return fd, addr.IP.String(), addr.Port, nil
}

// serve accepts one connection and pumps it against the configured files
func (fd *FauxDockserver) serve() {
	conn, err := fd.listener.Accept()
	if err != nil {
		fd.logger.Warn("Faux dockserver accept failed", zap.Error(err))
		return
	}
	fd.logger.Info("Faux dockserver connection accepted",
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	output, err := os.OpenFile(fd.cfg.DockserverOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fd.logger.Error("Failed to open dockserver output", zap.Error(err))
		conn.Close()
		return
	}

	if fd.cfg.DockserverInput != "" {
		go func() {
			input, err := os.Open(fd.cfg.DockserverInput)
			if err != nil {
				fd.logger.Error("Failed to open dockserver input", zap.Error(err))
				return
			}
			defer input.Close()
			io.Copy(conn, input)
		}()
	}

	defer output.Close()
	defer conn.Close()
	if _, err := io.Copy(output, conn); err != nil {
		fd.logger.Debug("Faux dockserver pump stopped", zap.Error(err))
	}
	fd.logger.Info("Faux dockserver connection closed")
}

// Close stops the listener
func (fd *FauxDockserver) Close() {
	fd.listener.Close()
}
