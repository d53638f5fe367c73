package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EventsReceived counts events accepted onto the bus by event type
var EventsReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "riskmanager_events_received_total",
		Help: "Total number of trading events published to the bus",
	},
	[]string{"type"},
)

// IngestDropped counts payloads an event source discarded before the bus
var IngestDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "riskmanager_ingest_dropped_total",
		Help: "Inbound payloads dropped for failing to decode or validate",
	},
	[]string{"source"},
)

// EvaluationLatency records latency distribution for full event evaluation
var EvaluationLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "riskmanager_evaluation_latency_seconds",
		Help:    "Latency in seconds to evaluate a single event against the rule set",
		Buckets: prometheus.DefBuckets,
	},
)

// Rule evaluation outcome metrics
var (
	Violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskmanager_violations_total",
			Help: "Rule violations detected, by rule id",
		},
		[]string{"rule"},
	)

	RuleFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskmanager_rule_faults_total",
			Help: "Rule evaluations that errored or panicked, by rule id",
		},
		[]string{"rule"},
	)

	HandlerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskmanager_handler_panics_total",
			Help: "Subscriber handlers recovered from panic, by event type",
		},
		[]string{"type"},
	)
)

// Enforcement and lockout state metrics
var (
	EnforcementActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskmanager_enforcement_actions_total",
			Help: "Enforcement actions requested, by action type and outcome",
		},
		[]string{"action", "outcome"},
	)

	Escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskmanager_escalations_total",
			Help: "External calls that failed after retry, by subsystem",
		},
		[]string{"subsystem"},
	)

	ActiveLockouts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskmanager_active_lockouts",
			Help: "Number of accounts currently locked out",
		},
	)

	ActiveTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskmanager_active_timers",
			Help: "Number of countdowns registered in the timer registry",
		},
	)

	ResetsFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "riskmanager_resets_fired_total",
			Help: "Daily reset executions across all accounts",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsReceived, IngestDropped, EvaluationLatency)
	prometheus.MustRegister(Violations, RuleFaults, HandlerPanics)
	prometheus.MustRegister(EnforcementActions, Escalations, ActiveLockouts, ActiveTimers, ResetsFired)
}
