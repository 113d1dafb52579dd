package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlegate_http_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlegate_http_requests_total",
		Help: "HTTP requests by route, method and status class",
	}, []string{"endpoint", "method", "class"})

	RecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlegate_records_total",
		Help: "Ledger record transitions by event",
	}, []string{"event"})

	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlegate_settlement_failures_total",
		Help: "Per-tenant settlement failures isolated by the scheduler",
	}, []string{"reason"})

	SettleAllDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlegate_settle_all_duration_seconds",
		Help:    "Duration of one settle_all pass",
		Buckets: prometheus.DefBuckets,
	})

	ScheduledTenants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlegate_scheduled_tenants",
		Help: "Tenants in the needs-settlement index after the last pass",
	})

	KeeperRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlegate_keeper_runs_total",
		Help: "Keeper trigger executions",
	}, []string{"driver", "status"})

	SettlerBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlegate_settler_balance_wei",
		Help: "Last observed balance of the keeper wallet",
	})
)
