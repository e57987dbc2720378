package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/pkg/dnsname"
	"gopkg.in/yaml.v2"
)

// Backend names the family of adapters wired at startup
const (
	BackendAWS    = "aws"
	BackendMemory = "memory"
)

// Config represents the main configuration structure
type Config struct {
	Backend      string             `yaml:"backend"`
	Server       ServerConfig       `yaml:"server"`
	AWS          AWSConfig          `yaml:"aws"`
	Regions      RegionsConfig      `yaml:"regions"`
	DNS          DNSConfig          `yaml:"dns"`
	Health       HealthConfig       `yaml:"health"`
	Override     OverrideConfig     `yaml:"override"`
	Controller   ControllerConfig   `yaml:"controller"`
	Notification NotificationConfig `yaml:"notification"`
	Reconcile    ReconcileConfig    `yaml:"reconcile"`
	Publisher    PublisherConfig    `yaml:"publisher"`
	Auth         AuthConfig         `yaml:"auth"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// ServerConfig contains HTTP server specific configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// HTTP2 enables HTTP/2: negotiated over TLS, or cleartext (h2c) without it
	HTTP2 bool      `yaml:"http2"`
	TLS   TLSConfig `yaml:"tls"`
}

// TLSConfig defines TLS configuration for the API listener
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"` // "1.2" or "1.3"
}

// AWSConfig selects the AWS account and endpoint used by every AWS adapter
type AWSConfig struct {
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// RegionsConfig holds the two candidate regions
type RegionsConfig struct {
	Primary   domain.Region `yaml:"primary"`
	Secondary domain.Region `yaml:"secondary"`
}

// DNSConfig describes the failover record pair
type DNSConfig struct {
	HostedZoneID      string        `yaml:"hosted_zone_id"`
	RecordName        string        `yaml:"record_name"`
	RecordType        string        `yaml:"record_type"`
	ChangeComment     string        `yaml:"change_comment"`
	WaitForSync       bool          `yaml:"wait_for_sync"`
	SyncTimeout       time.Duration `yaml:"sync_timeout"`
	SyncPollInterval  time.Duration `yaml:"sync_poll_interval"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// HealthConfig describes where health samples come from and how they age
type HealthConfig struct {
	Namespace        string        `yaml:"namespace"`
	MetricName       string        `yaml:"metric_name"`
	DimensionName    string        `yaml:"dimension_name"`
	Statistic        string        `yaml:"statistic"`
	Period           time.Duration `yaml:"period"`
	Lookback         time.Duration `yaml:"lookback"`
	HealthyThreshold float64       `yaml:"healthy_threshold"`
	StalenessWindow  time.Duration `yaml:"staleness_window"`
}

// OverrideConfig locates the operator override directive
type OverrideConfig struct {
	ParameterName string `yaml:"parameter_name"`
	Initial       string `yaml:"initial"`
}

// ControllerConfig bounds the work done by one decision cycle
type ControllerConfig struct {
	CallTimeout    time.Duration `yaml:"call_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// minSecretBytes is the shortest accepted HMAC secret for operator tokens
const minSecretBytes = 32

// NotificationConfig controls how inbound alarm notifications are interpreted
type NotificationConfig struct {
	// AlarmRegions maps alarm names to the region they watch. Alarms not listed
	// are matched by region label appearing in the alarm name.
	AlarmRegions         map[string]domain.RegionID `yaml:"alarm_regions"`
	ConfirmSubscriptions bool                       `yaml:"confirm_subscriptions"`
	TopicARN             string                     `yaml:"topic_arn"`
	MaxBodyBytes         int64                      `yaml:"max_body_bytes"`

	// VerifySignatures checks SNS envelope signatures against the SNS signing certificate
	VerifySignatures bool `yaml:"verify_signatures"`
}

// ReconcileConfig enables the periodic re-evaluation loop
type ReconcileConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// PublisherConfig controls where cycle results are sent
type PublisherConfig struct {
	TopicARN     string `yaml:"topic_arn"`
	PublishNoOps bool   `yaml:"publish_no_ops"`
}

// AuthConfig protects the mutating admin endpoints
type AuthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Secret       string        `yaml:"secret"`
	Issuer       string        `yaml:"issuer"`
	RequiredRole string        `yaml:"required_role"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// RateLimitConfig limits inbound notification and admin traffic
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Exporter    string `yaml:"exporter"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendMemory,
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HTTP2:           true,
			TLS: TLSConfig{
				MinVersion: "1.2",
			},
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Regions: RegionsConfig{
			Primary: domain.Region{
				ID:            domain.RegionPrimary,
				Label:         "us-east-1",
				SetIdentifier: "primary",
				Alias: domain.AliasTarget{
					DNSName: "primary.lb.local.",
				},
			},
			Secondary: domain.Region{
				ID:            domain.RegionSecondary,
				Label:         "us-west-2",
				SetIdentifier: "secondary",
				Alias: domain.AliasTarget{
					DNSName: "secondary.lb.local.",
				},
			},
		},
		DNS: DNSConfig{
			RecordName:        "app.failover.local.",
			RecordType:        "A",
			ChangeComment:     "Failover swap by region-failover",
			SyncTimeout:       2 * time.Minute,
			SyncPollInterval:  30 * time.Second,
			RequestsPerSecond: 5,
		},
		Health: HealthConfig{
			Namespace:        "MyApp/Failover",
			MetricName:       "RegionHealth",
			DimensionName:    "Region",
			Statistic:        "Average",
			Period:           60 * time.Second,
			Lookback:         5 * time.Minute,
			HealthyThreshold: 0.5,
			StalenessWindow:  5 * time.Minute,
		},
		Override: OverrideConfig{
			ParameterName: "/region-failover/override",
			Initial:       string(domain.OverrideAuto),
		},
		Controller: ControllerConfig{
			CallTimeout:    5 * time.Second,
			MaxAttempts:    4,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Notification: NotificationConfig{
			ConfirmSubscriptions: true,
			MaxBodyBytes:         256 * 1024,
			VerifySignatures:     true,
		},
		Reconcile: ReconcileConfig{
			Enabled:  false,
			Interval: time.Minute,
		},
		Auth: AuthConfig{
			Enabled:      false,
			Issuer:       "region-failover",
			RequiredRole: "operator",
			TokenTTL:     time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			BurstSize:         40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "region-failover",
			Exporter:    "stdout",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	config := DefaultConfig()
	if err := config.mergeFile(filename); err != nil {
		return nil, err
	}

	if err := config.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) mergeFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

// Normalize pins region IDs to their slots and canonicalises DNS names
func (c *Config) Normalize() error {
	c.Regions.Primary.ID = domain.RegionPrimary
	c.Regions.Secondary.ID = domain.RegionSecondary

	if c.DNS.RecordName != "" {
		name, err := dnsname.Canonical(c.DNS.RecordName)
		if err != nil {
			return fmt.Errorf("dns.record_name: %w", err)
		}
		c.DNS.RecordName = name
	}

	for _, region := range []*domain.Region{&c.Regions.Primary, &c.Regions.Secondary} {
		if region.Alias.DNSName == "" {
			continue
		}
		name, err := dnsname.Canonical(region.Alias.DNSName)
		if err != nil {
			return fmt.Errorf("regions.%s.alias.dns_name: %w", region.ID, err)
		}
		region.Alias.DNSName = name
	}

	return nil
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAWS, BackendMemory:
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls requires cert_file and key_file")
		}
		switch c.Server.TLS.MinVersion {
		case "", "1.2", "1.3":
		default:
			return fmt.Errorf("unsupported server.tls.min_version: %s", c.Server.TLS.MinVersion)
		}
	}

	// Validate regions
	primary, secondary := c.Regions.Primary, c.Regions.Secondary
	for _, region := range []domain.Region{primary, secondary} {
		if region.Label == "" {
			return fmt.Errorf("regions.%s.label cannot be empty", region.ID)
		}
		if region.SetIdentifier == "" {
			return fmt.Errorf("regions.%s.set_identifier cannot be empty", region.ID)
		}
		if region.Alias.DNSName == "" {
			return fmt.Errorf("regions.%s.alias.dns_name cannot be empty", region.ID)
		}
		if c.Backend == BackendAWS && region.Alias.HostedZoneID == "" {
			return fmt.Errorf("regions.%s.alias.hosted_zone_id cannot be empty", region.ID)
		}
	}
	if primary.Label == secondary.Label {
		return fmt.Errorf("region labels must differ: both are %q", primary.Label)
	}
	if primary.SetIdentifier == secondary.SetIdentifier {
		return fmt.Errorf("set identifiers must differ: both are %q", primary.SetIdentifier)
	}

	// Validate DNS
	if c.DNS.RecordName == "" {
		return fmt.Errorf("dns.record_name cannot be empty")
	}
	if c.Backend == BackendAWS && c.DNS.HostedZoneID == "" {
		return fmt.Errorf("dns.hosted_zone_id cannot be empty")
	}
	switch c.DNS.RecordType {
	case "A", "AAAA", "CNAME":
	default:
		return fmt.Errorf("unsupported dns.record_type: %s", c.DNS.RecordType)
	}
	if c.DNS.WaitForSync && (c.DNS.SyncTimeout <= 0 || c.DNS.SyncPollInterval <= 0) {
		return fmt.Errorf("dns.sync_timeout and sync_poll_interval must be positive when wait_for_sync is set")
	}
	if c.DNS.RequestsPerSecond <= 0 {
		return fmt.Errorf("dns.requests_per_second must be positive")
	}

	// Validate health
	if c.Health.Namespace == "" || c.Health.MetricName == "" || c.Health.DimensionName == "" {
		return fmt.Errorf("health.namespace, metric_name and dimension_name are required")
	}
	if c.Health.Period < time.Second {
		return fmt.Errorf("health.period must be at least 1s")
	}
	if c.Health.StalenessWindow <= 0 {
		return fmt.Errorf("health.staleness_window must be positive")
	}
	if c.Health.Lookback < c.Health.StalenessWindow {
		return fmt.Errorf("health.lookback (%v) must cover staleness_window (%v)", c.Health.Lookback, c.Health.StalenessWindow)
	}
	switch c.Health.Statistic {
	case "Average", "Minimum", "Maximum", "Sum", "SampleCount":
	default:
		return fmt.Errorf("unsupported health.statistic: %s", c.Health.Statistic)
	}

	if _, err := domain.ParseOverride(c.Override.Initial); err != nil {
		return fmt.Errorf("override.initial: %w", err)
	}
	if c.Backend == BackendAWS && c.Override.ParameterName == "" {
		return fmt.Errorf("override.parameter_name cannot be empty")
	}

	// Validate controller
	if c.Controller.CallTimeout <= 0 {
		return fmt.Errorf("controller.call_timeout must be positive")
	}
	if c.Controller.MaxAttempts < 1 {
		return fmt.Errorf("controller.max_attempts must be at least 1")
	}
	if c.Controller.InitialBackoff <= 0 || c.Controller.MaxBackoff < c.Controller.InitialBackoff {
		return fmt.Errorf("controller backoff must satisfy 0 < initial_backoff <= max_backoff")
	}

	for alarm, region := range c.Notification.AlarmRegions {
		if !region.Valid() {
			return fmt.Errorf("notification.alarm_regions[%s]: unknown region %q", alarm, region)
		}
	}

	if c.Reconcile.Enabled && c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive")
	}

	if c.Auth.Enabled && len(c.Auth.Secret) < minSecretBytes {
		return fmt.Errorf("auth.secret must be at least %d bytes when auth is enabled", minSecretBytes)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive")
		}
		if c.RateLimit.BurstSize <= 0 {
			return fmt.Errorf("rate_limit.burst_size must be positive")
		}
	}

	// Validate logging configuration
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "none":
		default:
			return fmt.Errorf("unsupported tracing.exporter: %s", c.Tracing.Exporter)
		}
	}

	return nil
}

// RegionList returns both regions, primary first
func (c *Config) RegionList() []domain.Region {
	return []domain.Region{c.Regions.Primary, c.Regions.Secondary}
}

// Region returns the configured region for id
func (c *Config) Region(id domain.RegionID) (domain.Region, bool) {
	switch id {
	case domain.RegionPrimary:
		return c.Regions.Primary, true
	case domain.RegionSecondary:
		return c.Regions.Secondary, true
	default:
		return domain.Region{}, false
	}
}

// SaveToFile saves the configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}
