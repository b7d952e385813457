package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the lending engine.
type Metrics struct {
	// --- Core processing ---
	OpsApplied   *prometheus.CounterVec
	OpsRejected  *prometheus.CounterVec
	OpDuration   *prometheus.HistogramVec
	CoreSequence prometheus.Gauge

	// --- Lending & liquidation ---
	ActiveAuctions  prometheus.Gauge
	AuctionsStarted prometheus.Counter
	AuctionsClosed  *prometheus.CounterVec
	BidsAccepted    prometheus.Counter
	DebtRepaid      prometheus.Counter
	OraclePrice     *prometheus.GaugeVec
	PricesReceived  prometheus.Counter

	// --- Channels & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDropped     prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Outbound publishing ---
	EventsPublished *prometheus.CounterVec
	PublishErrors   prometheus.Counter

	// --- HTTP API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_core_ops_applied_total",
			Help: "Operations successfully applied by the engine",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_core_ops_rejected_total",
			Help: "Operations rejected (validation, preconditions)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cdp_core_op_duration_seconds",
			Help:    "Time to apply a single operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cdp_core_sequence",
			Help: "Current global sequence number",
		}),

		ActiveAuctions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cdp_auctions_active",
			Help: "Currently active liquidation auctions",
		}),

		AuctionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cdp_auctions_started_total",
			Help: "Liquidation auctions opened",
		}),

		AuctionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_auctions_closed_total",
			Help: "Auctions closed, by outcome (debt_exhausted/collateral_exhausted)",
		}, []string{"outcome"}),

		BidsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cdp_bids_accepted_total",
			Help: "Accepted liquidation bids",
		}),

		DebtRepaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cdp_debt_repaid_total",
			Help: "Settlement tokens repaid through liquidation (fixed-point units)",
		}),

		OraclePrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cdp_oracle_price_usd",
			Help: "Latest oracle price per token",
		}, []string{"symbol"}),

		PricesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cdp_oracle_prices_received_total",
			Help: "Price updates consumed from the inbound stream",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cdp_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cdp_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cdp_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cdp_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cdp_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cdp_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdp_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdp_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cdp_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cdp_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_events_published_total",
			Help: "Events published to NATS",
		}, []string{"event_type"}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cdp_publish_errors_total",
			Help: "NATS publish errors",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_api_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cdp_api_duration_seconds",
			Help:    "API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_api_errors_total",
			Help: "API errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
