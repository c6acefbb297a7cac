// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ppp-gateway/internal/ppp"
	"ppp-gateway/internal/supervisor"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Connection ConnectionConfig `mapstructure:"connection"`
	ModemReset ModemResetConfig `mapstructure:"modem_reset"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	App        AppConfig        `mapstructure:"app"`
}

// ServerConfig represents HTTP control API configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	TLS            TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig represents session history storage
type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver"`
	Path         string        `mapstructure:"path"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
	Retention    time.Duration `mapstructure:"retention"`
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

// ConnectionConfig describes the dial-up link
type ConnectionConfig struct {
	Device               string        `mapstructure:"device"`
	BaudRate             int           `mapstructure:"baud_rate"`
	Interface            string        `mapstructure:"interface"`
	Engine               string        `mapstructure:"engine"`
	ConnectScript        string        `mapstructure:"connect_script"`
	ConnectScriptFile    string        `mapstructure:"connect_script_file"`
	DisconnectScript     string        `mapstructure:"disconnect_script"`
	DisconnectScriptFile string        `mapstructure:"disconnect_script_file"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	Holdoff              time.Duration `mapstructure:"holdoff"`
	Persist              bool          `mapstructure:"persist"`
	MaxConnectRetries    int           `mapstructure:"max_connect_retries"`
	ChatTimeout          time.Duration `mapstructure:"chat_timeout"`
	ChatEcho             bool          `mapstructure:"chat_echo"`
	ChatVerbose          bool          `mapstructure:"chat_verbose"`
	AutoStart            bool          `mapstructure:"auto_start"`
}

// ModemResetConfig configures the external modem reset command
type ModemResetConfig struct {
	Command []string      `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MQTTConfig configures state publishing
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	NodeID         string        `mapstructure:"node_id"`
	QoS            byte          `mapstructure:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load reads configuration from path, or from pppd.yaml in the working
// directory or /etc/pppd when path is empty. A missing default file is not
// an error. Environment variables prefixed with PPPD_ override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pppd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pppd")
	}

	// Environment variable support
	v.SetEnvPrefix("PPPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8086")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/pppd.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "pppd")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.retention", "720h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Connection defaults
	v.SetDefault("connection.device", "/dev/ttyUSB0")
	v.SetDefault("connection.baud_rate", 115200)
	v.SetDefault("connection.interface", "ppp%d")
	v.SetDefault("connection.engine", ppp.SimEngineName)
	v.SetDefault("connection.holdoff", "5s")
	v.SetDefault("connection.persist", true)
	v.SetDefault("connection.max_connect_retries", supervisor.DefaultMaxConnectRetries)
	v.SetDefault("connection.chat_timeout", "30s")
	v.SetDefault("connection.auto_start", false)

	// Modem reset defaults
	v.SetDefault("modem_reset.timeout", "20s")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "pppd")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", "30s")
	v.SetDefault("mqtt.connect_timeout", "10s")

	// App defaults
	v.SetDefault("app.name", "pppd")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "production")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Connection.Device == "" {
		return fmt.Errorf("connection.device is required")
	}
	engines := ppp.NewRegistry(zap.NewNop())
	ppp.RegisterDefaultEngines(engines)
	if !engines.IsSupported(config.Connection.Engine) {
		return fmt.Errorf("connection.engine must be one of: %v", engines.ListEngines())
	}
	if config.Connection.Holdoff < 0 {
		return fmt.Errorf("connection.holdoff must not be negative")
	}
	if config.Connection.ConnectScript != "" && config.Connection.ConnectScriptFile != "" {
		return fmt.Errorf("connection.connect_script and connection.connect_script_file are mutually exclusive")
	}
	if config.Connection.DisconnectScript != "" && config.Connection.DisconnectScriptFile != "" {
		return fmt.Errorf("connection.disconnect_script and connection.disconnect_script_file are mutually exclusive")
	}

	validDrivers := []string{"sqlite", "postgres", "none"}
	if !contains(validDrivers, config.Database.Driver) {
		return fmt.Errorf("database.driver must be one of: %v", validDrivers)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if config.MQTT.Enabled {
		if config.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if config.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Settings builds supervisor settings from the connection section, reading
// script files when configured
func (c *Config) Settings() (supervisor.Settings, error) {
	conn := c.Connection

	connectScript, err := scriptText(conn.ConnectScript, conn.ConnectScriptFile)
	if err != nil {
		return supervisor.Settings{}, err
	}
	disconnectScript, err := scriptText(conn.DisconnectScript, conn.DisconnectScriptFile)
	if err != nil {
		return supervisor.Settings{}, err
	}

	settings := supervisor.Settings{
		Device:            conn.Device,
		BaudRate:          conn.BaudRate,
		InterfaceTemplate: conn.Interface,
		Engine:            conn.Engine,
		ConnectScript:     connectScript,
		DisconnectScript:  disconnectScript,
		Credentials: ppp.Credentials{
			Username: conn.Username,
			Password: conn.Password,
		},
		Holdoff:           conn.Holdoff,
		Persist:           conn.Persist,
		MaxConnectRetries: conn.MaxConnectRetries,
		ChatTimeout:       conn.ChatTimeout,
		ChatEcho:          conn.ChatEcho,
		ChatVerbose:       conn.ChatVerbose,
	}
	if err := settings.Validate(); err != nil {
		return supervisor.Settings{}, err
	}
	return settings, nil
}

func scriptText(inline, file string) (string, error) {
	if file == "" {
		return inline, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read chat script %s: %w", file, err)
	}
	return string(data), nil
}

// GetDatabaseDSN returns the connection string for the configured driver
func (c *Config) GetDatabaseDSN() string {
	if c.Database.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Database.Host, c.Database.Port, c.Database.User,
			c.Database.Password, c.Database.DBName, c.Database.SSLMode)
	}
	return c.Database.Path
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == "development"
}
