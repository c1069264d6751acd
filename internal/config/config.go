// Package config loads the manager configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const insecureJWTSecret = "change-me-in-production"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Game      GameConfig      `yaml:"game" json:"game"`
	Download  DownloadConfig  `yaml:"download" json:"download"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls" json:"tls"`
}

// TLSConfig contains TLS/HTTPS settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// AuthConfig contains token verification settings
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" json:"-"`
	Issuer    string        `yaml:"issuer" json:"issuer"`
	Leeway    time.Duration `yaml:"leeway" json:"leeway"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
	SSH       SSHConfig       `yaml:"ssh" json:"ssh"`
}

// RateLimitConfig contains rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// CORSConfig contains CORS settings
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
}

// SSHConfig contains host key settings for sftp downloads
type SSHConfig struct {
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// GameConfig describes the managed game server process
type GameConfig struct {
	Command    []string          `yaml:"command" json:"command"`
	WorkingDir string            `yaml:"working_dir" json:"working_dir"`
	Env        map[string]string `yaml:"env" json:"env,omitempty"`
	AutoStart  bool              `yaml:"auto_start" json:"auto_start"`

	StopCommand       string        `yaml:"stop_command" json:"stop_command"`
	ReadyPattern      string        `yaml:"ready_pattern" json:"ready_pattern"`
	StartupTimeout    time.Duration `yaml:"startup_timeout" json:"startup_timeout"`
	StopTimeout       time.Duration `yaml:"stop_timeout" json:"stop_timeout"`
	ReadyPollInterval time.Duration `yaml:"ready_poll_interval" json:"ready_poll_interval"`

	QueueCapacity      int `yaml:"queue_capacity" json:"queue_capacity"`
	SubscriberCapacity int `yaml:"subscriber_capacity" json:"subscriber_capacity"`
	HistoryLines       int `yaml:"history_lines" json:"history_lines"`

	Status     StatusConfig     `yaml:"status" json:"status"`
	Console    ConsoleConfig    `yaml:"console" json:"console"`
	ConsoleLog ConsoleLogConfig `yaml:"console_log" json:"console_log"`
}

// StatusConfig locates the game status endpoint
type StatusConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ProtocolVersion int32         `yaml:"protocol_version" json:"protocol_version"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
}

// ConsoleConfig locates the remote console endpoint
type ConsoleConfig struct {
	Host     string        `yaml:"host" json:"host"`
	Port     int           `yaml:"port" json:"port"`
	Password string        `yaml:"password" json:"-"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// ConsoleLogConfig controls the on-disk console transcript
type ConsoleLogConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// DownloadConfig describes where the server executable comes from
type DownloadConfig struct {
	URI         string        `yaml:"uri" json:"uri"`
	Destination string        `yaml:"destination" json:"destination"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	SHA256      string        `yaml:"sha256" json:"sha256,omitempty"`
	S3          S3Config      `yaml:"s3" json:"s3"`
	SFTP        SFTPConfig    `yaml:"sftp" json:"sftp"`
}

// S3Config contains credentials for s3:// downloads
type S3Config struct {
	Region    string `yaml:"region" json:"region"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Endpoint  string `yaml:"endpoint" json:"endpoint,omitempty"`
}

// SFTPConfig contains credentials for sftp:// downloads
type SFTPConfig struct {
	Username   string `yaml:"username" json:"username"`
	Password   string `yaml:"password" json:"-"`
	KeyPath    string `yaml:"key_path" json:"key_path"`
	Passphrase string `yaml:"passphrase" json:"-"`
}

// SessionConfig controls console session expiry
type SessionConfig struct {
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	HistoryLines int           `yaml:"history_lines" json:"history_lines"`
	Cleanup      CleanupConfig `yaml:"cleanup" json:"cleanup"`
}

// CleanupConfig schedules the expired session sweep
type CleanupConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Delay   time.Duration `yaml:"delay" json:"delay"`
}

// TelemetryConfig contains event publishing settings
type TelemetryConfig struct {
	MQTT MQTTConfig `yaml:"mqtt" json:"mqtt"`
}

// MQTTConfig configures the MQTT publisher
type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Broker      string        `yaml:"broker" json:"broker"`
	ClientID    string        `yaml:"client_id" json:"client_id"`
	Username    string        `yaml:"username" json:"username"`
	Password    string        `yaml:"password" json:"-"`
	TopicPrefix string        `yaml:"topic_prefix" json:"topic_prefix"`
	QoS         byte          `yaml:"qos" json:"qos"`
	Retain      bool          `yaml:"retain" json:"retain"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// MetricsConfig controls process sampling
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Interval      time.Duration `yaml:"interval" json:"interval"`
	RetentionDays int           `yaml:"retention_days" json:"retention_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/mc-server-manager.db",
		},
		Auth: AuthConfig{
			JWTSecret: insecureJWTSecret,
			Leeway:    30 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			},
			SSH: SSHConfig{
				TrustOnFirstUse: true,
			},
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Game: GameConfig{
			Command:            []string{"java", "-Xmx2G", "-jar", "server.jar", "nogui"},
			StopCommand:        "stop",
			ReadyPattern:       `Done \(`,
			StartupTimeout:     120 * time.Second,
			StopTimeout:        60 * time.Second,
			ReadyPollInterval:  2 * time.Second,
			QueueCapacity:      1024,
			SubscriberCapacity: 256,
			HistoryLines:       200,
			Status: StatusConfig{
				Host:            "localhost",
				Port:            25565,
				ProtocolVersion: 754,
				Timeout:         5 * time.Second,
			},
			Console: ConsoleConfig{
				Host:    "localhost",
				Port:    25575,
				Timeout: 5 * time.Second,
			},
			ConsoleLog: ConsoleLogConfig{
				MaxSizeMB:  50,
				MaxBackups: 10,
				MaxAgeDays: 14,
			},
		},
		Download: DownloadConfig{
			Timeout: 10 * time.Minute,
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Session: SessionConfig{
			Timeout:      30 * time.Minute,
			HistoryLines: 100,
			Cleanup: CleanupConfig{
				Enabled: true,
				Delay:   time.Minute,
			},
		},
		Telemetry: TelemetryConfig{
			MQTT: MQTTConfig{
				ClientID:    "mc-server-manager",
				TopicPrefix: "mc-server-manager",
				QoS:         1,
				Timeout:     5 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			Interval:      30 * time.Second,
			RetentionDays: 7,
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom reads configPath when it exists, applies environment overrides
// and validates the result.
func LoadFrom(configPath string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalizeStoragePaths(configPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.Auth.JWTSecret = jwtSecret
	}

	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}

	if workingDir := os.Getenv("GAME_WORKING_DIR"); workingDir != "" {
		c.Game.WorkingDir = workingDir
	}

	if password := os.Getenv("RCON_PASSWORD"); password != "" {
		c.Game.Console.Password = password
	}

	if knownHostsPath := os.Getenv("KNOWN_HOSTS_PATH"); knownHostsPath != "" {
		c.Security.SSH.KnownHostsPath = knownHostsPath
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == insecureJWTSecret {
		return fmt.Errorf("JWT_SECRET must be set to a secure value")
	}

	// Check for unexpanded environment variables
	if strings.HasPrefix(c.Auth.JWTSecret, "${") {
		return fmt.Errorf("JWT_SECRET contains unexpanded environment variable")
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS is enabled but cert_file or key_file is missing")
		}
	}

	if err := validPort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := validPort("game.status.port", c.Game.Status.Port); err != nil {
		return err
	}
	if err := validPort("game.console.port", c.Game.Console.Port); err != nil {
		return err
	}

	if len(c.Game.Command) == 0 || strings.TrimSpace(c.Game.Command[0]) == "" {
		return fmt.Errorf("game.command must not be empty")
	}
	if _, err := regexp.Compile(c.Game.ReadyPattern); err != nil {
		return fmt.Errorf("game.ready_pattern is invalid: %w", err)
	}
	if c.Game.StartupTimeout <= 0 || c.Game.StopTimeout <= 0 {
		return fmt.Errorf("game startup and stop timeouts must be positive")
	}
	if c.Game.QueueCapacity <= 0 || c.Game.SubscriberCapacity <= 0 {
		return fmt.Errorf("game queue capacities must be positive")
	}

	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive")
	}
	if c.Session.Cleanup.Enabled && c.Session.Cleanup.Delay < time.Second {
		return fmt.Errorf("session.cleanup.delay must be at least 1s")
	}

	if c.Metrics.Enabled && c.Metrics.Interval < time.Second {
		return fmt.Errorf("metrics.interval must be at least 1s")
	}
	if c.Metrics.RetentionDays < 0 {
		return fmt.Errorf("metrics.retention_days must not be negative")
	}

	if c.Telemetry.MQTT.Enabled {
		if c.Telemetry.MQTT.Broker == "" {
			return fmt.Errorf("telemetry.mqtt.broker is required when MQTT is enabled")
		}
		if c.Telemetry.MQTT.QoS > 2 {
			return fmt.Errorf("telemetry.mqtt.qos must be 0, 1 or 2")
		}
	}

	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

func resolveConfigPath() string {
	candidates := []string{"../configs/config.yaml", "./configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

// normalizeStoragePaths resolves relative paths against the directory that
// contains configs/, and fills path defaults derived from the data dir.
func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = filepath.Join(c.Storage.DataDir, "mc-server-manager.db")
	}
	c.Database.Path = resolvePath(c.Database.Path)

	if strings.TrimSpace(c.Game.WorkingDir) == "" {
		c.Game.WorkingDir = filepath.Join(c.Storage.DataDir, "server")
	}
	c.Game.WorkingDir = resolvePath(c.Game.WorkingDir)

	if strings.TrimSpace(c.Download.Destination) == "" {
		c.Download.Destination = filepath.Join(c.Game.WorkingDir, "server.jar")
	}
	c.Download.Destination = resolvePath(c.Download.Destination)

	if strings.TrimSpace(c.Game.ConsoleLog.Path) == "" {
		c.Game.ConsoleLog.Path = filepath.Join(c.Storage.DataDir, "logs", "console.log")
	}
	c.Game.ConsoleLog.Path = resolvePath(c.Game.ConsoleLog.Path)

	if strings.TrimSpace(c.Security.SSH.KnownHostsPath) == "" {
		c.Security.SSH.KnownHostsPath = filepath.Join(c.Storage.DataDir, "known_hosts")
	}
	c.Security.SSH.KnownHostsPath = resolvePath(c.Security.SSH.KnownHostsPath)
}
