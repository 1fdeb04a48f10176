// cmd/serial2rudics/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"serial2rudics/internal/bridge"
	"serial2rudics/internal/config"
	"serial2rudics/internal/endpoint"
	"serial2rudics/internal/handler"
	"serial2rudics/internal/routes"
	"serial2rudics/internal/session"
	"serial2rudics/internal/sim"
	"serial2rudics/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	serial  *endpoint.Serial
	rudics  *endpoint.Rudics
	ctrl    *session.Controller
	loop    *bridge.Loop
	stats   *bridge.Stats
	capture *bridge.Capture

	eventBus   *handler.EventBus
	fauxSerial *sim.FauxSerial
	fauxDock   *sim.FauxDockserver
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer utils.CloseLogger(app.logger)

	if err := app.Run(); err != nil {
		app.logger.Fatal("Bridge terminated abnormally", zap.Error(err))
	}
}

// NewApplication loads configuration and wires every component
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeSimulators(); err != nil {
		return nil, fmt.Errorf("failed to initialize simulators: %w", err)
	}

	if err := app.initializeEndpoints(); err != nil {
		return nil, fmt.Errorf("failed to initialize endpoints: %w", err)
	}

	if err := app.initializeBridge(); err != nil {
		return nil, fmt.Errorf("failed to initialize bridge: %w", err)
	}

	if err := app.initializeStatusServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize status server: %w", err)
	}

	return app, nil
}

// initializeSimulators starts the test-harness stand-ins when configured,
// rewriting the endpoint configuration to point at them.
func (app *Application) initializeSimulators() error {
	if app.config.Sim.SerialInput != "" {
		fauxSerial, device, err := sim.StartFauxSerial(&app.config.Sim, app.logger)
		if err != nil {
			return err
		}
		app.fauxSerial = fauxSerial
		app.config.Serial.Device = device
		app.logger.Info("Using simulated serial device", zap.String("device", device))
	}

	if app.config.Sim.Dockserver {
		fauxDock, host, port, err := sim.StartFauxDockserver(&app.config.Sim, app.logger)
		if err != nil {
			return err
		}
		app.fauxDock = fauxDock
		app.config.Rudics.Host = host
		app.config.Rudics.Port = port
		app.logger.Info("Using simulated dockserver",
			zap.String("host", host),
			zap.Int("port", port),
		)
	}

	return nil
}

// initializeEndpoints opens the serial line and prepares the network leg.
// A device that cannot be opened is an unrecoverable setup error.
func (app *Application) initializeEndpoints() error {
	serial, err := endpoint.NewSerial(&app.config.Serial, app.logger)
	if err != nil {
		return err
	}
	app.serial = serial
	app.rudics = endpoint.NewRudics(&app.config.Rudics, app.logger)

	return nil
}

// initializeBridge builds the session controller and the loop around the
// endpoints. Trigger patterns that fail to compile are fatal here.
func (app *Application) initializeBridge() error {
	triggers, err := session.NewTriggerSet(app.config.Rudics.TriggerOn, app.config.Rudics.TriggerOff)
	if err != nil {
		return err
	}

	limiter := session.NewRateLimiter(app.config.Rudics.BaudRateLimit)
	app.ctrl = session.NewController(&app.config.Rudics, app.rudics, triggers, limiter, app.logger)

	app.stats = bridge.NewStats()
	app.eventBus = handler.NewEventBus(app.logger)
	go app.eventBus.Start()
	app.ctrl.SetEventSink(session.MultiSink{app.stats, app.eventBus})

	if app.config.Bridge.Capture != "" {
		capture, err := bridge.NewCapture(app.config.Bridge.Capture)
		if err != nil {
			return err
		}
		app.capture = capture
	}

	app.loop = bridge.NewLoop(
		app.serial,
		app.ctrl,
		app.stats,
		app.capture,
		app.config.Bridge.ReadChunk,
		app.logger,
	)

	return nil
}

// initializeStatusServer sets up the operator HTTP surface
func (app *Application) initializeStatusServer() error {
	if !app.config.Status.Enabled {
		return nil
	}

	statusHandler := handler.NewStatusHandler(app.config, app.loop, app.logger)
	websocketHandler := handler.NewWebSocketHandler(app.eventBus, app.logger)

	router := routes.NewRouter(app.config, app.logger, statusHandler, websocketHandler)

	app.server = &http.Server{
		Addr:    app.config.GetStatusAddr(),
		Handler: router.SetupRouter(),
	}

	app.logger.Info("Status server initialized",
		zap.String("address", app.config.GetStatusAddr()),
	)

	return nil
}

// Run drives the bridge loop until the serial side is done or a signal
// arrives, then tears everything down.
func (app *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.handleSignals(cancel)

	if app.server != nil {
		go func() {
			if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				app.logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	err := app.loop.Run(ctx)

	app.shutdown()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// handleSignals cancels the bridge on SIGINT/SIGTERM
func (app *Application) handleSignals(cancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	app.logger.Info("Signal received, shutting down", zap.String("signal", sig.String()))
	cancel()
}

// shutdown releases everything the loop does not own itself
func (app *Application) shutdown() {
	if app.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.server.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn("Status server shutdown failed", zap.Error(err))
		}
	}

	if app.eventBus != nil {
		app.eventBus.Close()
	}
	if app.capture != nil {
		app.capture.Close()
	}
	if app.fauxSerial != nil {
		app.fauxSerial.Close()
	}
	if app.fauxDock != nil {
		app.fauxDock.Close()
	}

	utils.NewServiceLogger(app.logger, app.config.App.Name).LogServiceStop("bridge finished")
}
