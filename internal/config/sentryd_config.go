// Package config loads and validates sentryd's runtime configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wardenhq/sentryd/internal/core/anomaly"
	"github.com/wardenhq/sentryd/internal/core/pipeline"
)

// SentrydConfig is the complete configuration for a sentryd instance.
type SentrydConfig struct {
	InstanceID  string `mapstructure:"instance_id"`
	LogLevel    string `mapstructure:"log_level"`
	Environment string `mapstructure:"environment"` // production, development

	Interfaces InterfaceConfig `mapstructure:"interfaces"`
	Detection  DetectionConfig `mapstructure:"detection"`
	Output     OutputConfig    `mapstructure:"output"`
	API        APIConfig       `mapstructure:"api"`
	Resources  ResourceConfig  `mapstructure:"resources"`
}

// InterfaceConfig selects which interfaces to capture from and how.
type InterfaceConfig struct {
	Names       []string `mapstructure:"names"`
	Promiscuous bool     `mapstructure:"promiscuous"`
	Snaplen     int      `mapstructure:"snaplen"`
	BPFFilter   string   `mapstructure:"bpf_filter"`
	BufferSize  int32    `mapstructure:"buffer_size"`
	UseAFPacket bool     `mapstructure:"use_af_packet"`
}

// DetectionConfig mirrors the pipeline.Config fields the orchestrator
// consumes, plus the operator knobs spec §6 exposes for updating them.
type DetectionConfig struct {
	AnomalyEnabled   bool     `mapstructure:"anomaly_enabled"`
	PortScanEnabled  bool     `mapstructure:"port_scan_enabled"`
	FloodEnabled     bool     `mapstructure:"flood_enabled"`
	Sensitivity      string   `mapstructure:"sensitivity"` // low, medium, high
	AutoBlock        bool     `mapstructure:"auto_block"`
	MonitoredPorts   []int    `mapstructure:"monitored_ports"`
	ExcludedAddrs    []string `mapstructure:"excluded_addrs"`
	BaselinePeriod   int      `mapstructure:"baseline_period_seconds"`
	DedupeWindow     int      `mapstructure:"dedupe_window_seconds"`
	RulesFile        string   `mapstructure:"rules_file"`
}

// OutputConfig configures every downstream sink an alert or audit
// record can be mirrored to.
type OutputConfig struct {
	NATS       NATSConfig       `mapstructure:"nats"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	GeoIP      GeoIPConfig      `mapstructure:"geoip"`
}

// NATSConfig defines the alert-bus JetStream connection.
type NATSConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	URLs                 []string      `mapstructure:"urls"`
	Subject              string        `mapstructure:"subject"`
	BlockSubject         string        `mapstructure:"block_subject"`
	Stream               string        `mapstructure:"stream"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait        time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	CircuitBreakerTrip   int           `mapstructure:"circuit_breaker_trip"`
	CircuitBreakerReset  time.Duration `mapstructure:"circuit_breaker_reset"`
}

// PostgresConfig defines the audit mirror connection.
type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// ClickHouseConfig defines the traffic/metrics time-series sink.
type ClickHouseConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Hosts    []string `mapstructure:"hosts"`
	Database string   `mapstructure:"database"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
}

// RedisConfig defines the distributed access-list mirror.
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
}

// GeoIPConfig points at a MaxMind GeoLite2 database for dossier
// enrichment.
type GeoIPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DBPath   string `mapstructure:"db_path"`
}

// APIConfig configures the Fiber HTTP control surface.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ResourceConfig bounds memory/goroutine usage.
type ResourceConfig struct {
	IngestQueueSize int `mapstructure:"ingest_queue_size"`
	TickInterval    int `mapstructure:"tick_interval_seconds"`
}

// Load reads configuration from configPath (or the default search
// path when empty), layering environment variable overrides on top.
func Load(configPath string) (*SentrydConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sentryd")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/sentryd/")
		v.AddConfigPath("$HOME/.sentryd")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SENTRYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg SentrydConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	postProcess(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instance_id", generateInstanceID())
	v.SetDefault("log_level", "info")
	v.SetDefault("environment", "production")

	v.SetDefault("interfaces.promiscuous", true)
	v.SetDefault("interfaces.snaplen", 1600)
	v.SetDefault("interfaces.buffer_size", 1024*1024*10)
	v.SetDefault("interfaces.use_af_packet", false)

	v.SetDefault("detection.anomaly_enabled", true)
	v.SetDefault("detection.port_scan_enabled", true)
	v.SetDefault("detection.flood_enabled", true)
	v.SetDefault("detection.sensitivity", "medium")
	v.SetDefault("detection.auto_block", false)
	v.SetDefault("detection.baseline_period_seconds", 3600)
	v.SetDefault("detection.dedupe_window_seconds", 0)

	v.SetDefault("output.nats.enabled", true)
	v.SetDefault("output.nats.urls", []string{"nats://localhost:4222"})
	v.SetDefault("output.nats.subject", "sentryd.alerts")
	v.SetDefault("output.nats.block_subject", "sentryd.commands.block")
	v.SetDefault("output.nats.stream", "sentryd-alerts")
	v.SetDefault("output.nats.connect_timeout", 10*time.Second)
	v.SetDefault("output.nats.reconnect_wait", 5*time.Second)
	v.SetDefault("output.nats.max_reconnect_attempts", 10)
	v.SetDefault("output.nats.circuit_breaker_trip", 5)
	v.SetDefault("output.nats.circuit_breaker_reset", 30*time.Second)

	v.SetDefault("output.postgres.enabled", false)
	v.SetDefault("output.clickhouse.enabled", false)
	v.SetDefault("output.redis.enabled", false)
	v.SetDefault("output.redis.addr", "localhost:6379")
	v.SetDefault("output.geoip.enabled", false)

	v.SetDefault("api.listen_addr", ":8686")

	v.SetDefault("resources.ingest_queue_size", 4096)
	v.SetDefault("resources.tick_interval_seconds", 1)
}

func postProcess(cfg *SentrydConfig) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = generateInstanceID()
	}
	if len(cfg.Output.NATS.URLs) == 0 {
		cfg.Output.NATS.URLs = []string{"nats://localhost:4222"}
	}
	if cfg.Resources.IngestQueueSize < 1 {
		cfg.Resources.IngestQueueSize = 4096
	}
	if cfg.Resources.TickInterval < 1 {
		cfg.Resources.TickInterval = 1
	}
}

func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("sentryd-%s", hostname)
}

// Preset returns a named configuration profile: light, standard, or
// aggressive, trading detection sensitivity against resource use.
func Preset(name string) (*SentrydConfig, error) {
	v := viper.New()
	setDefaults(v)

	switch name {
	case "light":
		v.Set("detection.sensitivity", "low")
		v.Set("detection.flood_enabled", true)
		v.Set("detection.port_scan_enabled", true)
		v.Set("detection.anomaly_enabled", false)
		v.Set("resources.ingest_queue_size", 1024)
	case "standard":
		// already configured via setDefaults
	case "aggressive":
		v.Set("detection.sensitivity", "high")
		v.Set("detection.auto_block", true)
		v.Set("resources.ingest_queue_size", 8192)
	default:
		return nil, fmt.Errorf("unknown preset: %s", name)
	}

	var cfg SentrydConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling preset config: %w", err)
	}
	cfg.InstanceID = generateInstanceID()
	return &cfg, nil
}

func sensitivityFromString(s string) anomaly.Sensitivity {
	switch strings.ToLower(s) {
	case "low":
		return anomaly.Low
	case "high":
		return anomaly.High
	default:
		return anomaly.Medium
	}
}

// ToPipelineConfig translates the declarative detection settings into
// the pipeline.Config the Orchestrator consumes, deriving rule
// thresholds from the requested sensitivity level.
func (d DetectionConfig) ToPipelineConfig() pipeline.Config {
	sensitivity := sensitivityFromString(d.Sensitivity)
	ps, ddos := anomaly.RuleThresholdsFor(sensitivity)

	ports := make([]uint16, 0, len(d.MonitoredPorts))
	for _, p := range d.MonitoredPorts {
		ports = append(ports, uint16(p))
	}

	return pipeline.Config{
		PortScanThreshold: ps,
		DDoSThreshold:     ddos,
		Sensitivity:       sensitivity,
		AutoBlock:         d.AutoBlock,
		AnomalyEnabled:    d.AnomalyEnabled,
		PortScanEnabled:   d.PortScanEnabled,
		FloodEnabled:      d.FloodEnabled,
		MonitoredPorts:    ports,
		ExcludedAddrs:     d.ExcludedAddrs,
	}
}

// Save writes the configuration to path in YAML form.
func (c *SentrydConfig) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("instance_id", c.InstanceID)
	v.Set("log_level", c.LogLevel)
	v.Set("environment", c.Environment)
	v.Set("interfaces", c.Interfaces)
	v.Set("detection", c.Detection)
	v.Set("output", c.Output)
	v.Set("api", c.API)
	v.Set("resources", c.Resources)
	return v.SafeWriteConfigAs(path)
}
