package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messages leased by a receive
	MessagesClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlease_messages_claimed_total",
			Help: "Total number of messages leased by a receive",
		},
		[]string{"queue"},
	)

	// Receives that found no eligible message
	ClaimMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlease_claim_misses_total",
			Help: "Total number of receives that found the queue empty",
		},
		[]string{"queue"},
	)

	// Messages deleted on commit
	MessagesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlease_messages_committed_total",
			Help: "Total number of messages deleted on commit",
		},
		[]string{"queue"},
	)

	// Leases released on abort
	MessagesAborted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlease_messages_aborted_total",
			Help: "Total number of leases released on abort",
		},
		[]string{"queue"},
	)

	// Messages inserted by an outbound flush
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlease_messages_sent_total",
			Help: "Total number of messages inserted by an outbound flush",
		},
		[]string{"queue"},
	)

	// Automatic lease renewals by outcome (ok, error)
	LeaseRenewals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlease_lease_renewals_total",
			Help: "Total number of lease renewals by result",
		},
		[]string{"queue", "result"},
	)

	// Store retries after a transient fault
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlease_store_retries_total",
			Help: "Total number of store operation retries after a transient fault",
		},
		[]string{"op"},
	)

	// HTTP receipts released by the sweeper
	ReceiptsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlease_receipts_swept_total",
			Help: "Total number of abandoned receipts released by the sweeper",
		},
	)

	// Sweeper run duration
	SweeperDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlease_sweeper_duration_seconds",
			Help:    "Time taken for the sweeper to release abandoned receipts",
			Buckets: prometheus.DefBuckets,
		},
	)
)
