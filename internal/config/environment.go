package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mir00r/region-failover/internal/domain"
)

// LoadFromEnvironment loads configuration from environment variables on top of
// the defaults. This implements 12-Factor App methodology - Factor #3: Config
func LoadFromEnvironment() *Config {
	config := DefaultConfig()
	config.applyEnvironment()
	return config
}

// applyEnvironment overrides fields whose variables are set. Variables without
// the FAILOVER_ prefix are the names used by the Lambda deployment.
func (c *Config) applyEnvironment() {
	if backend := getEnv("FAILOVER_BACKEND", ""); backend != "" {
		c.Backend = strings.ToLower(backend)
	}

	// Server Configuration
	if port := getEnv("FAILOVER_PORT", ""); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 && p <= 65535 {
			c.Server.Port = p
		}
	}
	c.Server.ShutdownTimeout = getEnvDuration("FAILOVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HTTP2 = getEnvBool("FAILOVER_HTTP2", c.Server.HTTP2)
	c.Server.TLS.Enabled = getEnvBool("FAILOVER_TLS_ENABLED", c.Server.TLS.Enabled)
	c.Server.TLS.CertFile = getEnv("FAILOVER_TLS_CERT_FILE", c.Server.TLS.CertFile)
	c.Server.TLS.KeyFile = getEnv("FAILOVER_TLS_KEY_FILE", c.Server.TLS.KeyFile)

	// AWS Configuration
	c.AWS.Region = getEnv("FAILOVER_AWS_REGION", getEnv("AWS_REGION", c.AWS.Region))
	c.AWS.Profile = getEnv("FAILOVER_AWS_PROFILE", c.AWS.Profile)
	c.AWS.Endpoint = getEnv("FAILOVER_AWS_ENDPOINT", c.AWS.Endpoint)

	// Region and DNS Configuration
	c.DNS.HostedZoneID = getEnv("HOSTED_ZONE_ID", c.DNS.HostedZoneID)
	c.DNS.RecordName = getEnv("RECORD_NAME", c.DNS.RecordName)
	c.DNS.RecordType = getEnv("FAILOVER_RECORD_TYPE", c.DNS.RecordType)
	c.DNS.ChangeComment = getEnv("FAILOVER_CHANGE_COMMENT", c.DNS.ChangeComment)
	c.DNS.WaitForSync = getEnvBool("FAILOVER_WAIT_FOR_SYNC", c.DNS.WaitForSync)
	c.DNS.SyncTimeout = getEnvDuration("FAILOVER_SYNC_TIMEOUT", c.DNS.SyncTimeout)
	c.DNS.SyncPollInterval = getEnvDuration("FAILOVER_SYNC_POLL_INTERVAL", c.DNS.SyncPollInterval)
	c.DNS.RequestsPerSecond = getEnvFloat("FAILOVER_DNS_RPS", c.DNS.RequestsPerSecond)

	applyRegionEnvironment(&c.Regions.Primary, "PRIMARY")
	applyRegionEnvironment(&c.Regions.Secondary, "SECONDARY")

	// Health Configuration
	c.Health.Namespace = getEnv("FAILOVER_HEALTH_NAMESPACE", c.Health.Namespace)
	c.Health.MetricName = getEnv("FAILOVER_HEALTH_METRIC", c.Health.MetricName)
	c.Health.DimensionName = getEnv("FAILOVER_HEALTH_DIMENSION", c.Health.DimensionName)
	c.Health.Lookback = getEnvDuration("FAILOVER_HEALTH_LOOKBACK", c.Health.Lookback)
	c.Health.HealthyThreshold = getEnvFloat("FAILOVER_HEALTHY_THRESHOLD", c.Health.HealthyThreshold)
	c.Health.StalenessWindow = getEnvDuration("FAILOVER_STALENESS_WINDOW", c.Health.StalenessWindow)

	// Override Configuration
	c.Override.ParameterName = getEnv("FAILOVER_OVERRIDE_PARAMETER", c.Override.ParameterName)
	c.Override.Initial = getEnv("FAILOVER_OVERRIDE", c.Override.Initial)

	// Controller Configuration
	c.Controller.CallTimeout = getEnvDuration("FAILOVER_CALL_TIMEOUT", c.Controller.CallTimeout)
	c.Controller.MaxAttempts = getEnvInt("FAILOVER_MAX_ATTEMPTS", c.Controller.MaxAttempts)
	c.Controller.InitialBackoff = getEnvDuration("FAILOVER_INITIAL_BACKOFF", c.Controller.InitialBackoff)
	c.Controller.MaxBackoff = getEnvDuration("FAILOVER_MAX_BACKOFF", c.Controller.MaxBackoff)

	// Notification Configuration
	if alarms := getEnv("FAILOVER_ALARM_REGIONS", ""); alarms != "" {
		c.Notification.AlarmRegions = parseAlarmRegions(alarms)
	}
	c.Notification.ConfirmSubscriptions = getEnvBool("FAILOVER_CONFIRM_SUBSCRIPTIONS", c.Notification.ConfirmSubscriptions)
	c.Notification.TopicARN = getEnv("FAILOVER_ALARM_TOPIC_ARN", c.Notification.TopicARN)
	c.Notification.VerifySignatures = getEnvBool("FAILOVER_VERIFY_SNS_SIGNATURES", c.Notification.VerifySignatures)

	// Reconcile Configuration
	c.Reconcile.Enabled = getEnvBool("FAILOVER_RECONCILE_ENABLED", c.Reconcile.Enabled)
	c.Reconcile.Interval = getEnvDuration("FAILOVER_RECONCILE_INTERVAL", c.Reconcile.Interval)

	// Publisher Configuration
	c.Publisher.TopicARN = getEnv("FAILOVER_RESULT_TOPIC_ARN", c.Publisher.TopicARN)
	c.Publisher.PublishNoOps = getEnvBool("FAILOVER_PUBLISH_NO_OPS", c.Publisher.PublishNoOps)

	// Auth Configuration
	c.Auth.Enabled = getEnvBool("FAILOVER_AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.Secret = getEnv("FAILOVER_JWT_SECRET", c.Auth.Secret)
	c.Auth.Issuer = getEnv("FAILOVER_JWT_ISSUER", c.Auth.Issuer)

	// Rate Limiting Configuration
	c.RateLimit.Enabled = getEnvBool("FAILOVER_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerSecond = getEnvFloat("FAILOVER_RATE_LIMIT_RPS", c.RateLimit.RequestsPerSecond)
	c.RateLimit.BurstSize = getEnvInt("FAILOVER_RATE_LIMIT_BURST", c.RateLimit.BurstSize)

	// Logging Configuration
	c.Logging.Level = getEnv("FAILOVER_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("FAILOVER_LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("FAILOVER_LOG_OUTPUT", c.Logging.Output)
	c.Logging.File = getEnv("FAILOVER_LOG_FILE", c.Logging.File)

	// Tracing Configuration
	c.Tracing.Enabled = getEnvBool("FAILOVER_TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Exporter = getEnv("FAILOVER_TRACING_EXPORTER", c.Tracing.Exporter)
}

// applyRegionEnvironment reads <PREFIX>_REGION_LABEL, <PREFIX>_SET_ID,
// <PREFIX>_ALB_DNS and <PREFIX>_ALB_ZONE_ID
func applyRegionEnvironment(region *domain.Region, prefix string) {
	region.Label = getEnv(prefix+"_REGION_LABEL", region.Label)
	region.SetIdentifier = getEnv(prefix+"_SET_ID", region.SetIdentifier)
	region.Alias.DNSName = getEnv(prefix+"_ALB_DNS", region.Alias.DNSName)
	region.Alias.HostedZoneID = getEnv(prefix+"_ALB_ZONE_ID", region.Alias.HostedZoneID)
	region.Alias.EvaluateTargetHealth = getEnvBool(prefix+"_EVALUATE_TARGET_HEALTH", region.Alias.EvaluateTargetHealth)
}

// getEnv gets environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as integer with fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets environment variable as float with fallback
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool gets environment variable as bool with fallback
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration gets environment variable as duration with fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseAlarmRegions parses alarm-to-region pairs
// Format: "alarm-name=primary,other-alarm=secondary"
func parseAlarmRegions(value string) map[string]domain.RegionID {
	result := make(map[string]domain.RegionID)
	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		result[parts[0]] = domain.RegionID(strings.ToLower(strings.TrimSpace(parts[1])))
	}
	return result
}

// LoadConfig loads configuration with priority: env vars > config file > defaults
// This implements 12-Factor App methodology - Factor #3: Config
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(getEnv("CONFIG_FILE", "config.yaml"))
}

// LoadConfigFrom is LoadConfig with an explicit file path. A missing file is
// not an error; an unreadable or malformed one is.
func LoadConfigFrom(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			if err := config.mergeFile(configFile); err != nil {
				return nil, err
			}
		}
	}

	// Override with environment variables (highest priority)
	config.applyEnvironment()

	if err := config.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
