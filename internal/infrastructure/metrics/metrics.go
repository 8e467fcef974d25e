// Package metrics 账本与批处理的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerOperations 入账/扣款次数，result: ok / idempotent / insufficient / error
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thrift",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Wallet credit and debit operations by outcome.",
	}, []string{"direction", "category", "result"})

	LedgerAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thrift",
		Subsystem: "ledger",
		Name:      "amount_minor_total",
		Help:      "Committed wallet movement in minor currency units.",
	}, []string{"direction", "category"})

	DefaultsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thrift",
		Subsystem: "contribution",
		Name:      "defaults_created_total",
		Help:      "Missed daily contributions recorded as defaults.",
	})

	ContributionsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thrift",
		Subsystem: "contribution",
		Name:      "paid_total",
		Help:      "Daily contributions debited successfully.",
	})

	DailyRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "thrift",
		Subsystem: "contribution",
		Name:      "daily_run_duration_seconds",
		Help:      "Duration of one daily contribution batch.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	DailyRunFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thrift",
		Subsystem: "contribution",
		Name:      "enrollment_failures_total",
		Help:      "Enrollments that failed processing inside a daily batch.",
	})

	DefaultsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thrift",
		Subsystem: "settlement",
		Name:      "defaults_settled_total",
		Help:      "Default records settled from wallet balance.",
	})

	SettlementPassErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thrift",
		Subsystem: "settlement",
		Name:      "pass_errors_total",
		Help:      "Settlement passes that stopped on an unexpected error.",
	})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thrift",
		Subsystem: "outbox",
		Name:      "published_total",
		Help:      "Outbox relay attempts by outcome.",
	}, []string{"result"})
)
