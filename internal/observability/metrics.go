package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/paperbridge-backend/internal/platform/envutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge
	apiReqTotal *Counter
	apiReqError *Counter

	stageRuns      *CounterVec
	stageLatency   *HistogramVec
	pipelineRuns   *CounterVec
	pipelineTime   *HistogramVec
	blobBytes      *Counter
	blobsStored    *CounterVec
	versionsTotal  *Counter
	securityEvents *CounterVec

	dbStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	d := envutil.Duration("METRICS_SCRAPE_INTERVAL", 15*time.Second)
	if d < time.Second {
		return time.Second
	}
	return d
}

// Init builds the process-wide registry when METRICS_ENABLED is set and
// returns nil otherwise. Every method on a nil *Metrics is a no-op.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

func New() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("pb_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"pb_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGauge("pb_api_inflight_requests", "In-flight API requests."),
		apiReqTotal: NewCounter("pb_api_requests_total_all", "Total API requests (all)."),
		apiReqError: NewCounter("pb_api_requests_error_total", "Total API requests with 5xx status."),

		stageRuns: NewCounterVec("pb_pipeline_stage_total", "Pipeline stage executions by stage/status.", []string{"stage", "status"}),
		stageLatency: NewHistogramVec(
			"pb_pipeline_stage_duration_seconds",
			"Pipeline stage duration in seconds by stage/status.",
			[]string{"stage", "status"},
			[]float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 30, 60, 120},
		),
		pipelineRuns: NewCounterVec("pb_pipeline_runs_total", "Pipeline runs by terminal state.", []string{"state"}),
		pipelineTime: NewHistogramVec(
			"pb_pipeline_run_duration_seconds",
			"Pipeline run duration in seconds by terminal state.",
			[]string{"state"},
			[]float64{0.05, 0.1, 0.5, 1, 2, 5, 15, 30, 60, 120, 300},
		),
		blobBytes:      NewCounter("pb_blob_bytes_stored_total", "Bytes written to the blob store."),
		blobsStored:    NewCounterVec("pb_blobs_stored_total", "Blobs written by subfolder kind.", []string{"kind"}),
		versionsTotal:  NewCounter("pb_document_versions_appended_total", "Document versions appended to the ledger."),
		securityEvents: NewCounterVec("pb_security_events_total", "Security-relevant events.", []string{"event"}),

		dbStats:   NewGaugeVec("pb_db_pool_stats", "Database connection pool stats.", []string{"stat"}),
		redisUp:   NewGauge("pb_redis_up", "Redis reachability (1=up)."),
		redisPing: NewGauge("pb_redis_ping_seconds", "Redis ping latency in seconds."),
	}
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, pw := range []promWriter{
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiReqTotal, m.apiReqError,
		m.stageRuns, m.stageLatency, m.pipelineRuns, m.pipelineTime,
		m.blobBytes, m.blobsStored, m.versionsTotal, m.securityEvents,
		m.dbStats, m.redisUp, m.redisPing,
	} {
		if err := pw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	m.apiReqTotal.Inc()
	if isServerErrorStatus(status) {
		m.apiReqError.Inc()
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObservePipelineStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.stageRuns.Inc(stage, status)
	if dur > 0 {
		m.stageLatency.Observe(dur.Seconds(), stage, status)
	}
}

func (m *Metrics) ObservePipelineRun(state string, dur time.Duration) {
	if m == nil {
		return
	}
	if state == "" {
		state = "unknown"
	}
	m.pipelineRuns.Inc(state)
	if dur > 0 {
		m.pipelineTime.Observe(dur.Seconds(), state)
	}
}

func (m *Metrics) PipelineStageCount(stage, status string) float64 {
	if m == nil {
		return 0
	}
	return m.stageRuns.Value(stage, status)
}

func (m *Metrics) ObserveBlobStored(kind string, size int) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "upload"
	}
	m.blobsStored.Inc(kind)
	m.blobBytes.Add(float64(size))
}

func (m *Metrics) IncVersionAppended() {
	if m == nil {
		return
	}
	m.versionsTotal.Inc()
}

func (m *Metrics) IncSecurityEvent(event string) {
	if m == nil {
		return
	}
	event = strings.TrimSpace(event)
	if event == "" {
		event = "unknown"
	}
	m.securityEvents.Inc(event)
}

func (m *Metrics) SecurityEventCount(event string) float64 {
	if m == nil {
		return 0
	}
	return m.securityEvents.Value(event)
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.dbStats.Set(float64(stats.OpenConnections), "open_connections")
				m.dbStats.Set(float64(stats.InUse), "in_use")
				m.dbStats.Set(float64(stats.Idle), "idle")
				m.dbStats.Set(float64(stats.WaitCount), "wait_count")
				m.dbStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				m.dbStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 2 * time.Second})
	interval := scrapeInterval()
	go func() {
		defer rdb.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := rdb.Ping(pctx).Err()
				cancel()
				if err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Debug("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func isServerErrorStatus(status string) bool {
	status = strings.TrimSpace(status)
	if len(status) < 3 {
		return false
	}
	return status[0] == '5'
}
