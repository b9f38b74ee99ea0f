package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoundsOpened   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "rounds_opened_total", Help: "Bidding rounds opened"})
	RoundsResolved = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "rounds_resolved_total", Help: "Bidding rounds resolved"})
	RoundsFallback = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "rounds_fallback_total", Help: "Rounds resolved without a winner"})
	BidsSubmitted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "bids_submitted_total", Help: "Bids accepted into a round"})
	BidsRejected   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "bids_rejected_total", Help: "Bids rejected at submission"}, []string{"reason"})

	RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "courier_dispatch", Name: "round_duration_seconds",
		Help:    "Time from round open to decision",
		Buckets: prometheus.DefBuckets,
	})
	BidsPerRound = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "courier_dispatch", Name: "bids_per_round",
		Help:    "Bids collected per resolved round",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})
	WinningBidScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "courier_dispatch", Name: "winning_bid_score",
		Help:    "Fitness score of the winning bid",
		Buckets: prometheus.LinearBuckets(0, 20, 10),
	})

	CouriersOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "courier_dispatch", Name: "couriers_online", Help: "Couriers with a recent location report"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "courier_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
