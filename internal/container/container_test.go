package container

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/region-failover/internal/config"
	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/repository"
	"github.com/mir00r/region-failover/pkg/logger"
)

func memoryContainer(t *testing.T, cfg *config.Config) (*Container, *repository.InMemoryHealthStore, *repository.InMemoryDNSProvider) {
	t.Helper()
	health := repository.NewInMemoryHealthStore(cfg.Health.HealthyThreshold)
	dns := repository.NewInMemoryDNSProvider(cfg.DNS.RecordName, cfg.DNS.RecordType, cfg.Regions.Primary, cfg.Regions.Secondary)
	c := NewWithAdapters(cfg, "test", Adapters{
		Health:    health,
		Overrides: repository.NewInMemoryOverrideStore(""),
		DNS:       dns,
	}, logger.NewNop())
	return c, health, dns
}

func TestNewWithMemoryBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	c, err := New(context.Background(), cfg, "test", logger.NewNop())
	require.NoError(t, err)

	assert.NoError(t, c.HealthCheck(context.Background()))
	assert.Equal(t, "memory", c.GetStats()["dns_provider"])

	rec := httptest.NewRecorder()
	c.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "gcp"
	_, err := New(context.Background(), cfg, "test", logger.NewNop())
	assert.Error(t, err)
}

func TestNotificationResultsReachHistory(t *testing.T) {
	cfg := config.DefaultConfig()
	c, health, dns := memoryContainer(t, cfg)
	health.Record(domain.RegionPrimary, 0, time.Now())
	health.Record(domain.RegionSecondary, 1, time.Now())

	body := `{"AlarmName":"Health-us-east-1","NewStateValue":"ALARM"}`
	rec := httptest.NewRecorder()
	c.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assignment, err := dns.CurrentAssignment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegionSecondary, assignment.Live)

	recent := c.History().Recent()
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Swap.Applied)
	assert.Equal(t, 1, c.GetStats()["results_recorded"])
	assert.Equal(t, domain.OutcomeSwitchTo, c.GetStats()["last_outcome"])
}

func TestStartStopWithReconcile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Reconcile.Enabled = true
	cfg.Reconcile.Interval = 10 * time.Millisecond
	c, _, _ := memoryContainer(t, cfg)
	require.NoError(t, c.Overrides().SetOverride(context.Background(), domain.OverrideForceSecondary))

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsStarted())
	assert.True(t, c.Reconciler().IsRunning())
	assert.Error(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool {
		for _, r := range c.History().Recent() {
			if r.Swap.Applied {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop(context.Background()))
	assert.False(t, c.IsStarted())
	assert.False(t, c.Reconciler().IsRunning())
	assert.NoError(t, c.Stop(context.Background()))
}

func TestReadinessFailsOnBrokenZone(t *testing.T) {
	cfg := config.DefaultConfig()
	c, _, dns := memoryContainer(t, cfg)
	dns.SetRecords(nil)

	assert.Error(t, c.HealthCheck(context.Background()))

	rec := httptest.NewRecorder()
	c.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotificationEndpointIsGuarded(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"
	c, health, dns := memoryContainer(t, cfg)
	health.Record(domain.RegionPrimary, 1, time.Now())
	health.Record(domain.RegionSecondary, 1, time.Now())

	post := func(body string) int {
		rec := httptest.NewRecorder()
		c.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader(body)))
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, post(`{"source_region":"primary","new_state":"ALARM"}`))
	// SNS envelopes skip the operator token but must carry a valid signature
	assert.Equal(t, http.StatusForbidden, post(`{"Type":"Notification","Message":"{\"source_region\":\"primary\",\"new_state\":\"ALARM\"}"}`))

	assignment, err := dns.CurrentAssignment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegionPrimary, assignment.Live)
	assert.Empty(t, c.History().Recent())
}
