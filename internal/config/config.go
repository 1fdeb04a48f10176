// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Rudics  RudicsConfig  `mapstructure:"rudics"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Status  StatusConfig  `mapstructure:"status"`
	Sim     SimConfig     `mapstructure:"sim"`
	Logging LoggingConfig `mapstructure:"logging"`
	App     AppConfig     `mapstructure:"app"`
}

// SerialConfig represents the glider-facing serial line configuration
type SerialConfig struct {
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits string `mapstructure:"stop_bits"`
}

// RudicsConfig represents the dockserver-facing network leg configuration
type RudicsConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	ReconnectSpacing time.Duration `mapstructure:"reconnect_spacing"`
	BaudRateLimit    int           `mapstructure:"baud_rate_limit"`
	InitialState     string        `mapstructure:"initial_state"`
	TriggerOn        []string      `mapstructure:"trigger_on"`
	TriggerOff       []string      `mapstructure:"trigger_off"`
	LineTerminator   string        `mapstructure:"line_terminator"`

	// Accepted for compatibility with deployed service files but consulted
	// by no behavior: a connection is never force-closed by age.
	MaxOpenTime      time.Duration `mapstructure:"max_open_time"`
	MaxOpenTimeDelay time.Duration `mapstructure:"max_open_time_delay"`
}

// BridgeConfig represents loop-level tunables
type BridgeConfig struct {
	ReadChunk int    `mapstructure:"read_chunk"`
	Capture   string `mapstructure:"capture"`
}

// StatusConfig represents the operator status HTTP server configuration
type StatusConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SimConfig represents the test-harness simulators. When SerialInput is set a
// pseudo-terminal replaces the real serial device; when Dockserver is true an
// in-process listener replaces the remote dockserver.
type SimConfig struct {
	SerialInput      string `mapstructure:"serial_input"`
	SerialOutput     string `mapstructure:"serial_output"`
	Dockserver       bool   `mapstructure:"dockserver"`
	DockserverInput  string `mapstructure:"dockserver_input"`
	DockserverOutput string `mapstructure:"dockserver_output"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/serial2rudics")

	// Environment variable support
	viper.SetEnvPrefix("SERIAL2RUDICS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Every key has a default, so a missing config file is not an error
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Serial defaults
	viper.SetDefault("serial.device", "")
	viper.SetDefault("serial.baud_rate", 115200)
	viper.SetDefault("serial.data_bits", 8)
	viper.SetDefault("serial.parity", "none")
	viper.SetDefault("serial.stop_bits", "1")

	// RUDICS defaults
	viper.SetDefault("rudics.host", "")
	viper.SetDefault("rudics.port", 6565)
	viper.SetDefault("rudics.connect_timeout", "30s")
	viper.SetDefault("rudics.idle_timeout", "3600s")
	viper.SetDefault("rudics.reconnect_delay", "120s")
	viper.SetDefault("rudics.reconnect_spacing", "10s")
	viper.SetDefault("rudics.baud_rate_limit", 0)
	viper.SetDefault("rudics.initial_state", "connected")
	viper.SetDefault("rudics.trigger_on", []string{
		`behavior\s+surface_[0-9]+:\s+SUBSTATE\s+[0-9]+\s+->[0-9]+\s+:\s+Picking\s+iridium\s+or\s+freewave`,
		`:\s+abort_the_mission`,
	})
	viper.SetDefault("rudics.trigger_off", []string{
		`surface_[0-9]+:\s+.*Waiting\s+for\s+final\s+GPS\s+fix`,
	})
	viper.SetDefault("rudics.line_terminator", "\n")
	viper.SetDefault("rudics.max_open_time", "86400s")
	viper.SetDefault("rudics.max_open_time_delay", "1800s")

	// Bridge defaults
	viper.SetDefault("bridge.read_chunk", 8192)
	viper.SetDefault("bridge.capture", "")

	// Status server defaults
	viper.SetDefault("status.enabled", true)
	viper.SetDefault("status.host", "127.0.0.1")
	viper.SetDefault("status.port", 8080)
	viper.SetDefault("status.allowed_origins", []string{"*"})

	// Simulator defaults
	viper.SetDefault("sim.serial_input", "")
	viper.SetDefault("sim.serial_output", "/dev/null")
	viper.SetDefault("sim.dockserver", false)
	viper.SetDefault("sim.dockserver_input", "")
	viper.SetDefault("sim.dockserver_output", "/dev/null")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 10)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
	viper.SetDefault("logging.compress", true)

	// App defaults
	viper.SetDefault("app.name", "serial2rudics")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "production")
	viper.SetDefault("app.debug", false)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Serial.Device == "" && config.Sim.SerialInput == "" {
		return fmt.Errorf("either serial.device or sim.serial_input is required")
	}
	if config.Serial.Device != "" && config.Sim.SerialInput != "" {
		return fmt.Errorf("serial.device and sim.serial_input are mutually exclusive")
	}
	if config.Rudics.Host == "" && !config.Sim.Dockserver {
		return fmt.Errorf("either rudics.host or sim.dockserver is required")
	}
	if config.Rudics.Host != "" && config.Sim.Dockserver {
		return fmt.Errorf("rudics.host and sim.dockserver are mutually exclusive")
	}
	if config.Rudics.Port < 1 || config.Rudics.Port > 65535 {
		return fmt.Errorf("rudics.port must be in 1..65535")
	}

	switch config.Serial.Parity {
	case "none", "odd", "even", "mark", "space":
	default:
		return fmt.Errorf("serial.parity must be one of: none, odd, even, mark, space")
	}
	if config.Serial.DataBits < 5 || config.Serial.DataBits > 8 {
		return fmt.Errorf("serial.data_bits must be in 5..8")
	}
	switch config.Serial.StopBits {
	case "1", "1.5", "2":
	default:
		return fmt.Errorf("serial.stop_bits must be one of: 1, 1.5, 2")
	}

	switch config.Rudics.InitialState {
	case "connected", "disconnected":
	default:
		return fmt.Errorf("rudics.initial_state must be connected or disconnected")
	}
	if len(config.Rudics.TriggerOn) == 0 || len(config.Rudics.TriggerOff) == 0 {
		return fmt.Errorf("rudics.trigger_on and rudics.trigger_off must not be empty")
	}
	if len(config.Rudics.LineTerminator) != 1 {
		return fmt.Errorf("rudics.line_terminator must be a single byte")
	}
	if config.Rudics.BaudRateLimit < 0 {
		return fmt.Errorf("rudics.baud_rate_limit must not be negative")
	}
	if config.Bridge.ReadChunk < 1 {
		return fmt.Errorf("bridge.read_chunk must be positive")
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// GetRudicsAddr returns the dockserver address
func (c *Config) GetRudicsAddr() string {
	return fmt.Sprintf("%s:%d", c.Rudics.Host, c.Rudics.Port)
}

// GetStatusAddr returns the status server address
func (c *Config) GetStatusAddr() string {
	return fmt.Sprintf("%s:%d", c.Status.Host, c.Status.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == "development"
}
