package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_AllCollectorsRegister(t *testing.T) {
	reg := NewRegistry()

	require.NotPanics(t, func() {
		NewHTTPMetrics(reg)
		NewCacheMetrics(reg)
		NewWebSocketMetrics(reg)
		NewStoreMetrics(reg)
		NewIngestMetrics(reg)
		NewRegistryMetrics(reg)
	})

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestIngestMetrics_StateIsOneHot(t *testing.T) {
	m := NewIngestMetrics(prometheus.NewRegistry())

	m.StateChanged("cam", "starting")
	m.StateChanged("cam", "running")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.State.WithLabelValues("cam", "running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.State.WithLabelValues("cam", "starting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.State.WithLabelValues("cam", "failed")))
}

func TestIngestMetrics_CountersAndForget(t *testing.T) {
	m := NewIngestMetrics(prometheus.NewRegistry())

	m.RestartScheduled("cam", 2*time.Second)
	m.Failure("cam", "exit")
	m.Failure("cam", "exit")
	m.SegmentProduced("cam")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Restarts.WithLabelValues("cam")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Failures.WithLabelValues("cam", "exit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SegmentsProduced.WithLabelValues("cam")))

	m.StateChanged("cam", "stopped")
	m.Forget("cam")
	assert.Zero(t, testutil.CollectAndCount(m.State))
	assert.Zero(t, testutil.CollectAndCount(m.Failures))
}

func TestStoreMetrics_BreakerState(t *testing.T) {
	m := NewStoreMetrics(prometheus.NewRegistry())

	m.BreakerStateChanged("open")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("postgres")))

	m.RecordBreakerState("redis", "half-open")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("redis")))

	m.ObserveQuery("SELECT", 0.01, true)
	m.StoreUnavailable()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues("SELECT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnavailableTotal))
}

func TestCacheMetrics(t *testing.T) {
	m := NewCacheMetrics(prometheus.NewRegistry())

	m.CacheHit("memory")
	m.CacheMiss("redis")
	m.CacheInvalidated()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Hits.WithLabelValues("memory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Misses.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invalidations))
}

func TestRegistryMetrics(t *testing.T) {
	m := NewRegistryMetrics(prometheus.NewRegistry())

	m.SnapshotSwapped("cam", 3)
	m.Loaded(nil)
	m.Loaded(errors.New("boom"))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.SnapshotSize.WithLabelValues("cam")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Loads.WithLabelValues("error")))
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/overlays/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "missing")
	})
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/overlays/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/api/overlays/:id", "404")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal), "health probes are not recorded")
}

func TestWebSocketMetrics_PerStream(t *testing.T) {
	m := NewWebSocketMetrics(prometheus.NewRegistry())

	m.ConnectionOpened("lobby")
	m.ConnectionOpened("lobby")
	m.ConnectionOpened("gate")
	m.ConnectionClosed("lobby")
	m.MessagePublished("gate")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections.WithLabelValues("lobby")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections.WithLabelValues("gate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsPushed.WithLabelValues("gate")))
}

func TestNewRegistry_BuildInfo(t *testing.T) {
	reg := NewRegistry()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "rtsp_overlay_build_info" {
			continue
		}
		found = true
		require.Len(t, mf.GetMetric(), 1)
		assert.Equal(t, 1.0, mf.GetMetric()[0].GetGauge().GetValue())
	}
	assert.True(t, found, "build_info is registered")
}
