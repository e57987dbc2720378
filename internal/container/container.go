// Package container is the composition root of the failover controller.
// It builds the adapters selected by configuration and wires them into the
// controller, the reconcile loop and the HTTP surface.
//
// The container:
// - Selects the AWS or in-memory adapter family from config.Backend
// - Fans cycle results out to the log, the in-process history and SNS
// - Owns the lifecycle of the reconcile loop
package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mir00r/region-failover/internal/config"
	"github.com/mir00r/region-failover/internal/handler"
	"github.com/mir00r/region-failover/internal/infrastructure"
	"github.com/mir00r/region-failover/internal/middleware"
	"github.com/mir00r/region-failover/internal/notification"
	"github.com/mir00r/region-failover/internal/ports"
	"github.com/mir00r/region-failover/internal/repository"
	"github.com/mir00r/region-failover/internal/service"
	"github.com/mir00r/region-failover/pkg/logger"
)

// historySize is how many recent cycle results the admin API can list
const historySize = 100

// Adapters are the secondary adapters behind the controller. Publisher is
// optional; results always reach the log and the in-process history.
type Adapters struct {
	Health    ports.HealthSnapshotStore
	Overrides ports.OverrideStore
	DNS       ports.DNSProvider
	Publisher ports.ResultPublisher
}

// Container holds the wired application
type Container struct {
	config  *config.Config
	version string
	logger  *logger.Logger

	// Secondary adapters
	adapters Adapters
	history  *repository.InMemoryResultStore

	// Services
	parser     *notification.Parser
	metrics    *service.Metrics
	controller *service.Controller
	reconciler *service.Reconciler

	// HTTP surface
	auth        *middleware.JWTAuthMiddleware
	rateLimiter *middleware.RateLimiter
	router      http.Handler

	// Lifecycle management
	mutex     sync.RWMutex
	isStarted bool
}

// New builds the adapters named by cfg.Backend and wires the application
func New(ctx context.Context, cfg *config.Config, version string, log *logger.Logger) (*Container, error) {
	adapters, err := buildAdapters(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return NewWithAdapters(cfg, version, adapters, log), nil
}

// NewWithAdapters wires the application around the given adapters
func NewWithAdapters(cfg *config.Config, version string, adapters Adapters, log *logger.Logger) *Container {
	c := &Container{
		config:   cfg,
		version:  version,
		logger:   log.WithField("component", "container"),
		adapters: adapters,
		history:  repository.NewInMemoryResultStore(historySize),
	}
	c.initializeServices(log)
	c.initializeHTTP(log)
	return c
}

func buildAdapters(ctx context.Context, cfg *config.Config, log *logger.Logger) (Adapters, error) {
	primary, secondary := cfg.Regions.Primary, cfg.Regions.Secondary

	switch cfg.Backend {
	case config.BackendMemory, "":
		log.Warn("Using in-memory adapters; DNS changes are not persisted")
		return Adapters{
			Health:    repository.NewInMemoryHealthStore(cfg.Health.HealthyThreshold),
			Overrides: repository.NewInMemoryOverrideStore(cfg.Override.Initial),
			DNS:       repository.NewInMemoryDNSProvider(cfg.DNS.RecordName, cfg.DNS.RecordType, primary, secondary),
		}, nil

	case config.BackendAWS:
		awsCfg, err := infrastructure.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return Adapters{}, err
		}
		clients := infrastructure.NewClients(awsCfg, cfg.AWS.Endpoint)

		adapters := Adapters{
			Health: infrastructure.NewCloudWatchHealthStore(clients.CloudWatch, infrastructure.CloudWatchOptions{
				Namespace:        cfg.Health.Namespace,
				MetricName:       cfg.Health.MetricName,
				DimensionName:    cfg.Health.DimensionName,
				Statistic:        cfg.Health.Statistic,
				Period:           cfg.Health.Period,
				Lookback:         cfg.Health.Lookback,
				HealthyThreshold: cfg.Health.HealthyThreshold,
			}, log),
			Overrides: infrastructure.NewSSMOverrideStore(clients.SSM, cfg.Override.ParameterName, log),
			DNS: infrastructure.NewRoute53Provider(clients.Route53, infrastructure.Route53Options{
				HostedZoneID:      cfg.DNS.HostedZoneID,
				RecordName:        cfg.DNS.RecordName,
				RecordType:        cfg.DNS.RecordType,
				Comment:           cfg.DNS.ChangeComment,
				Primary:           primary,
				Secondary:         secondary,
				WaitForSync:       cfg.DNS.WaitForSync,
				SyncTimeout:       cfg.DNS.SyncTimeout,
				SyncPollInterval:  cfg.DNS.SyncPollInterval,
				RequestsPerSecond: cfg.DNS.RequestsPerSecond,
			}, log),
		}
		if cfg.Publisher.TopicARN != "" {
			adapters.Publisher = infrastructure.NewSNSResultPublisher(clients.SNS, cfg.Publisher.TopicARN, cfg.Publisher.PublishNoOps, log)
		}
		return adapters, nil

	default:
		return Adapters{}, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (c *Container) initializeServices(log *logger.Logger) {
	cfg := c.config

	c.parser = notification.NewParser(cfg.Regions.Primary, cfg.Regions.Secondary,
		cfg.Notification.AlarmRegions, cfg.Health.DimensionName)
	c.metrics = service.NewMetrics()

	publishers := infrastructure.MultiPublisher{infrastructure.NewLogPublisher(log), c.history}
	if c.adapters.Publisher != nil {
		publishers = append(publishers, c.adapters.Publisher)
	}

	c.controller = service.NewController(service.ControllerDeps{
		Health:    c.adapters.Health,
		Overrides: c.adapters.Overrides,
		DNS:       c.adapters.DNS,
		Parser:    c.parser,
		Publisher: publishers,
		Metrics:   c.metrics,
	}, service.ControllerOptions{
		Regions:         cfg.RegionList(),
		StalenessWindow: cfg.Health.StalenessWindow,
		CallTimeout:     cfg.Controller.CallTimeout,
		MaxAttempts:     cfg.Controller.MaxAttempts,
		InitialBackoff:  cfg.Controller.InitialBackoff,
		MaxBackoff:      cfg.Controller.MaxBackoff,
	}, log)

	interval := cfg.Reconcile.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	c.reconciler = service.NewReconciler(c.controller, interval, c.metrics, log)
}

func (c *Container) initializeHTTP(log *logger.Logger) {
	cfg := c.config

	c.auth = middleware.NewJWTAuthMiddleware(cfg.Auth, log)
	if cfg.RateLimit.Enabled {
		c.rateLimiter = middleware.NewRateLimiter(cfg.RateLimit, log)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	confirmer := handler.HTTPConfirmer{Client: client}

	var verifier handler.SignatureVerifier
	if cfg.Notification.VerifySignatures {
		verifier = notification.NewSignatureVerifier(notification.HTTPCertFetcher{Client: client}, log)
	} else {
		c.logger.Warn("SNS signature verification is disabled")
	}

	c.router = handler.NewRouter(handler.RouterDeps{
		Notifications: handler.NewNotificationHandler(c.controller, confirmer, handler.NotificationOptions{
			MaxBodyBytes:         cfg.Notification.MaxBodyBytes,
			ConfirmSubscriptions: cfg.Notification.ConfirmSubscriptions,
			TopicARN:             cfg.Notification.TopicARN,
			Verifier:             verifier,
			DirectAuth:           c.auth.Require(),
		}, log),
		Admin: handler.NewAdminHandler(handler.AdminDeps{
			Status:    c.controller,
			Overrides: c.adapters.Overrides,
			Evaluator: c.controller,
			Parser:    c.parser,
			Reconcile: c.reconciler,
			History:   c.history,
		}, log),
		Health:      handler.NewHealthHandler(c.version, c.HealthCheck, cfg.Controller.CallTimeout, log),
		Metrics:     c.metrics.Handler(),
		Auth:        c.auth,
		RateLimiter: c.rateLimiter,
	}, log)
}

// Controller returns the decision cycle runner
func (c *Container) Controller() *service.Controller {
	return c.controller
}

// Reconciler returns the reconcile loop
func (c *Container) Reconciler() *service.Reconciler {
	return c.reconciler
}

// Router returns the HTTP handler for the whole API
func (c *Container) Router() http.Handler {
	return c.router
}

// Metrics returns the Prometheus metrics
func (c *Container) Metrics() *service.Metrics {
	return c.metrics
}

// Auth returns the operator token middleware
func (c *Container) Auth() *middleware.JWTAuthMiddleware {
	return c.auth
}

// Overrides returns the override store
func (c *Container) Overrides() ports.OverrideStore {
	return c.adapters.Overrides
}

// History returns recently published cycle results
func (c *Container) History() ports.ResultHistory {
	return c.history
}

// Start starts the reconcile loop when it is enabled
func (c *Container) Start(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isStarted {
		return fmt.Errorf("container is already started")
	}

	if c.config.Reconcile.Enabled {
		if err := c.reconciler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start reconciler: %w", err)
		}
	}

	c.isStarted = true
	c.logger.WithFields(map[string]interface{}{
		"backend":   c.config.Backend,
		"dns":       c.adapters.DNS.Name(),
		"reconcile": c.config.Reconcile.Enabled,
	}).Info("Container started")
	return nil
}

// Stop stops the reconcile loop
func (c *Container) Stop(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isStarted {
		return nil
	}

	if c.reconciler.IsRunning() {
		if err := c.reconciler.Stop(); err != nil {
			return fmt.Errorf("failed to stop reconciler: %w", err)
		}
	}

	c.isStarted = false
	c.logger.Info("Container stopped")
	return nil
}

// IsStarted reports whether Start has run
func (c *Container) IsStarted() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.isStarted
}

// HealthCheck reports ready when the failover record pair can be read
func (c *Container) HealthCheck(ctx context.Context) error {
	if _, err := c.adapters.DNS.CurrentAssignment(ctx); err != nil {
		return fmt.Errorf("dns provider %s: %w", c.adapters.DNS.Name(), err)
	}
	return nil
}

// GetStats returns a summary of the wiring and recent activity
func (c *Container) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"backend":           c.config.Backend,
		"dns_provider":      c.adapters.DNS.Name(),
		"started":           c.IsStarted(),
		"reconcile_running": c.reconciler.IsRunning(),
		"results_recorded":  c.history.Count(),
	}
	if last, ok := c.history.Last(); ok {
		stats["last_cycle_id"] = last.CycleID
		stats["last_outcome"] = last.Decision.Outcome
	}
	return stats
}
