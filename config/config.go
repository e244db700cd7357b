// Package config provides the layered configuration system for the
// replication core: defaults, then an optional netherlink.yaml file,
// then a .env file, then the process environment, then command-line
// flags, each overriding the last.
package config

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReplicationConfig is the complete configuration surface for the
// replication core and its transport/persistence bindings.
// Priority: Flags > Environment Variables > .env File > Defaults
type ReplicationConfig struct {
	Interpolation   InterpolationConfig
	Input           InputConfig
	Reconciliation  ReconciliationConfig
	LagCompensation LagCompensationConfig
	Delta           DeltaConfig
	StateCache      StateCacheConfig
	TimeSync        TimeSyncConfig
	Reliable        ReliableConfig
	Entity          EntityConfig
	WebSocket       WebSocketConfig
	Server          ServerConfig
	Auth            AuthConfig
	Database        DatabaseConfig
	Logging         LoggingConfig
}

type InterpolationConfig struct {
	MaxSnapshots         int
	InterpolationDelay   time.Duration
	MaxExtrapolationTime time.Duration
	SnapshotExpiration   time.Duration
	AllowExtrapolation   bool
}

type InputConfig struct {
	MaxSize        int
	ExpirationTime time.Duration
}

type ReconciliationConfig struct {
	Threshold float64
}

type LagCompensationConfig struct {
	SnapThreshold          float64
	MinCorrectionThreshold float64
	SmoothingDuration      time.Duration
}

type DeltaConfig struct {
	PositionThreshold float64
	RotationThreshold float64
	MaxValue          float64
	QuantizationBits  int
}

type StateCacheConfig struct {
	KeyframeInterval time.Duration
	HistoryLength    int
}

type TimeSyncConfig struct {
	MaxSamples     int
	FilterAlpha    float64
	PingInterval   time.Duration
	PendingPingTTL time.Duration
}

type ReliableConfig struct {
	AckTimeout    time.Duration
	MaxRetries    int
	ReceiveWindow int
}

type EntityConfig struct {
	TTL time.Duration
}

type WebSocketConfig struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingPeriod      time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
}

type ServerConfig struct {
	Host string
	Port string
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type LoggingConfig struct {
	Level        string
	TraceModules []string
	LogDir       string
}

// Config is the process-wide configuration, set by Initialize.
var Config *ReplicationConfig

// Initialize loads configuration from all sources with proper priority.
func Initialize() error {
	c := &ReplicationConfig{}
	c.loadDefaults()
	c.loadConfigFile()
	c.loadEnvFile()
	c.loadEnvironmentVariables()
	c.loadFlags()

	if err := c.validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %v", err)
	}

	Config = c
	return nil
}

// loadDefaults sets the baseline tunables every other source overrides.
func (c *ReplicationConfig) loadDefaults() {
	c.Interpolation.MaxSnapshots = 30
	c.Interpolation.InterpolationDelay = 100 * time.Millisecond
	c.Interpolation.MaxExtrapolationTime = 500 * time.Millisecond
	c.Interpolation.SnapshotExpiration = 10 * time.Second
	c.Interpolation.AllowExtrapolation = true

	c.Input.MaxSize = 100
	c.Input.ExpirationTime = 5 * time.Second

	c.Reconciliation.Threshold = 0.1

	c.LagCompensation.SnapThreshold = 5.0
	c.LagCompensation.MinCorrectionThreshold = 0.001
	c.LagCompensation.SmoothingDuration = 100 * time.Millisecond

	c.Delta.PositionThreshold = 0.001
	c.Delta.RotationThreshold = 0.001
	c.Delta.MaxValue = 10.0
	c.Delta.QuantizationBits = 12

	c.StateCache.KeyframeInterval = 1000 * time.Millisecond
	c.StateCache.HistoryLength = 4

	c.TimeSync.MaxSamples = 20
	c.TimeSync.FilterAlpha = 0.8
	c.TimeSync.PingInterval = 1000 * time.Millisecond
	c.TimeSync.PendingPingTTL = 10 * time.Second

	c.Reliable.AckTimeout = 500 * time.Millisecond
	c.Reliable.MaxRetries = 5
	c.Reliable.ReceiveWindow = 1000

	c.Entity.TTL = 60 * time.Second

	c.WebSocket.WriteTimeout = 10 * time.Second
	c.WebSocket.PongTimeout = 60 * time.Second
	c.WebSocket.PingPeriod = 54 * time.Second
	c.WebSocket.MaxMessageSize = 1048576
	c.WebSocket.ReadBufferSize = 65536
	c.WebSocket.WriteBufferSize = 65536

	c.Server.Host = "0.0.0.0"
	c.Server.Port = "8080"

	c.Auth.JWTSecret = "dev-secret-change-me"
	c.Auth.JWTIssuer = "netherlink"

	c.Database.Host = "localhost"
	c.Database.Port = "5432"
	c.Database.User = "netherlink"
	c.Database.Password = "netherlink"
	c.Database.Name = "netherlink"
	c.Database.SSLMode = "disable"

	c.Logging.Level = "INFO"
	c.Logging.TraceModules = []string{}
	c.Logging.LogDir = "./logs"
}

// fileConfig is the YAML shape of an optional netherlink.yaml config
// file, sitting between the hard-coded defaults and the environment in
// the override chain. Only the sections an operator plausibly tunes per
// deployment are exposed here; per-component replication tunables stay
// on the environment.
type fileConfig struct {
	Server struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		JWTIssuer string `yaml:"jwt_issuer"`
	} `yaml:"auth"`
	Database struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"ssl_mode"`
	} `yaml:"database"`
	Logging struct {
		Level        string   `yaml:"level"`
		TraceModules []string `yaml:"trace_modules"`
		LogDir       string   `yaml:"log_dir"`
	} `yaml:"logging"`
}

// loadConfigFile overlays netherlink.yaml (if present) onto the
// defaults. A missing file is fine; a malformed one is ignored rather
// than fatal, since the environment and flags can still produce a valid
// configuration.
func (c *ReplicationConfig) loadConfigFile() {
	data, err := os.ReadFile("netherlink.yaml")
	if err != nil {
		return
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		fmt.Fprintf(os.Stderr, "WARN: ignoring malformed netherlink.yaml: %v\n", err)
		return
	}

	if fc.Server.Host != "" {
		c.Server.Host = fc.Server.Host
	}
	if fc.Server.Port != "" {
		c.Server.Port = fc.Server.Port
	}
	if fc.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = fc.Auth.JWTSecret
	}
	if fc.Auth.JWTIssuer != "" {
		c.Auth.JWTIssuer = fc.Auth.JWTIssuer
	}
	if fc.Database.Host != "" {
		c.Database.Host = fc.Database.Host
	}
	if fc.Database.Port != "" {
		c.Database.Port = fc.Database.Port
	}
	if fc.Database.User != "" {
		c.Database.User = fc.Database.User
	}
	if fc.Database.Password != "" {
		c.Database.Password = fc.Database.Password
	}
	if fc.Database.Name != "" {
		c.Database.Name = fc.Database.Name
	}
	if fc.Database.SSLMode != "" {
		c.Database.SSLMode = fc.Database.SSLMode
	}
	if fc.Logging.Level != "" {
		c.Logging.Level = fc.Logging.Level
	}
	if len(fc.Logging.TraceModules) > 0 {
		c.Logging.TraceModules = fc.Logging.TraceModules
	}
	if fc.Logging.LogDir != "" {
		c.Logging.LogDir = fc.Logging.LogDir
	}
}

// loadEnvFile reads KEY=VALUE pairs from a .env file if one exists,
// seeding the process environment for loadEnvironmentVariables.
func (c *ReplicationConfig) loadEnvFile() {
	f, err := os.Open(".env")
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"'")
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func (c *ReplicationConfig) loadEnvironmentVariables() {
	if v := os.Getenv("REP_MAX_SNAPSHOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Interpolation.MaxSnapshots = n
		}
	}
	if v := os.Getenv("REP_INTERPOLATION_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Interpolation.InterpolationDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("REP_ALLOW_EXTRAPOLATION"); v != "" {
		c.Interpolation.AllowExtrapolation = v == "true" || v == "1"
	}
	if v := os.Getenv("REP_RECONCILIATION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Reconciliation.Threshold = f
		}
	}
	if v := os.Getenv("REP_SNAP_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LagCompensation.SnapThreshold = f
		}
	}
	if v := os.Getenv("REP_DELTA_MAX_VALUE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Delta.MaxValue = f
		}
	}
	if v := os.Getenv("REP_ENTITY_TTL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Entity.TTL = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("REP_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("REP_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("REP_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("REP_JWT_ISSUER"); v != "" {
		c.Auth.JWTIssuer = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		c.Database.Port = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.Database.SSLMode = v
	}
	if v := os.Getenv("REP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("REP_LOG_DIR"); v != "" {
		c.Logging.LogDir = v
	}
	if v := os.Getenv("REP_TRACE_MODULES"); v != "" {
		c.Logging.TraceModules = strings.Split(v, ",")
	}
}

func (c *ReplicationConfig) loadFlags() {
	if flag.Parsed() {
		return
	}
	host := flag.String("host", c.Server.Host, "bind host")
	port := flag.String("port", c.Server.Port, "bind port")
	logLevel := flag.String("log-level", c.Logging.Level, "log level")
	flag.Parse()

	c.Server.Host = *host
	c.Server.Port = *port
	c.Logging.Level = *logLevel
}

func (c *ReplicationConfig) validate() error {
	if c.Interpolation.MaxSnapshots <= 0 {
		return fmt.Errorf("interpolation.max_snapshots must be positive")
	}
	if c.Input.MaxSize <= 0 {
		return fmt.Errorf("input.max_size must be positive")
	}
	if c.Delta.QuantizationBits <= 0 || c.Delta.QuantizationBits > 16 {
		return fmt.Errorf("delta.quantization_bits must be in (0,16]")
	}
	if c.Reliable.MaxRetries < 0 {
		return fmt.Errorf("reliable.max_retries must be non-negative")
	}
	return nil
}

// GetString returns an environment value as string, falling back when unset.
// Kept for packages (roomstore, rtctransport) that read ad-hoc env knobs
// outside the ReplicationConfig struct.
func GetString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
