package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersPlaced counts orders accepted for submission, by side (buy/sell)
var OrdersPlaced = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dsebroker_orders_placed_total",
		Help: "Total number of orders submitted to the exchange gateway",
	},
	[]string{"side"},
)

// OrdersRejected counts orders rejected before or at the gateway, by reason
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dsebroker_orders_rejected_total",
		Help: "Total number of rejected orders",
	},
	[]string{"reason"},
)

// FillsSettled counts fills settled into portfolios, by side
var FillsSettled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dsebroker_fills_settled_total",
		Help: "Total number of fills settled into portfolios",
	},
	[]string{"side"},
)

// SettlementFailures counts fills confirmed by the exchange whose local
// settlement did not commit
var SettlementFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dsebroker_settlement_failures_total",
		Help: "Total number of fills that failed to settle locally",
	},
)

// GatewayLatency records latency distribution for exchange gateway calls
var GatewayLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "dsebroker_gateway_request_seconds",
		Help:    "Latency in seconds of HTTP calls to the exchange gateway",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"op"},
)

// Feed client metrics
var (
	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dsebroker_feed_reconnects_total",
			Help: "Number of reconnection attempts made by the feed client",
		},
	)

	FeedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsebroker_feed_messages_total",
			Help: "Number of feed messages received, by type",
		},
		[]string{"type"},
	)

	FeedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dsebroker_feed_connected",
			Help: "1 while the feed client is connected, 0 otherwise",
		},
	)
)

func init() {
	prometheus.MustRegister(OrdersPlaced, OrdersRejected, FillsSettled, SettlementFailures)
	prometheus.MustRegister(GatewayLatency)
	prometheus.MustRegister(FeedReconnects, FeedMessages, FeedConnected)
}
