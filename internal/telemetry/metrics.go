package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Per-component collectors, one file of domain metrics registered via
// All().

var JobsExecutedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "netguard",
		Subsystem: "job",
		Name:      "executed_total",
		Help:      "Total number of jobs executed, by type and result.",
	},
	[]string{"type", "result"},
)

var PlansAppliedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "netguard",
		Subsystem: "plan",
		Name:      "applied_total",
		Help:      "Total number of plans applied, by risk level and result.",
	},
	[]string{"risk_level", "result"},
)

var RollbacksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "netguard",
		Subsystem: "job",
		Name:      "rollbacks_total",
		Help:      "Total number of rollback attempts, by result.",
	},
	[]string{"result"},
)

var CacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "netguard",
		Subsystem: "rescache",
		Name:      "lookups_total",
		Help:      "Total number of resource cache lookups, by outcome.",
	},
	[]string{"outcome"}, // hit | miss | coalesced
)

var RouterOSCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "netguard",
		Subsystem: "routeros",
		Name:      "call_duration_seconds",
		Help:      "RouterOS call latency in seconds, by transport and outcome.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"transport", "outcome"},
)

var HealthProbesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "netguard",
		Subsystem: "health",
		Name:      "probes_total",
		Help:      "Total number of health probes, by status.",
	},
	[]string{"status"},
)

var DeviceStatusTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "netguard",
		Subsystem: "device",
		Name:      "status_transitions_total",
		Help:      "Total number of device status transitions.",
	},
	[]string{"from", "to"},
)

var SnapshotsCapturedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "netguard",
		Subsystem: "snapshot",
		Name:      "captured_total",
		Help:      "Total number of snapshots captured, by kind.",
	},
	[]string{"kind"},
)

var ApprovalTokensIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "netguard",
		Subsystem: "approval",
		Name:      "tokens_issued_total",
		Help:      "Total number of approval tokens issued.",
	},
	[]string{"risk_level"},
)

var ApprovalTokensRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "netguard",
		Subsystem: "approval",
		Name:      "tokens_rejected_total",
		Help:      "Total number of approval token verification failures, by reason.",
	},
	[]string{"reason"},
)

var ToolCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "netguard",
		Subsystem: "tool",
		Name:      "calls_total",
		Help:      "Total number of MCP tool calls, by tool name and outcome.",
	},
	[]string{"tool", "outcome"},
)

var ToolCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "netguard",
		Subsystem: "tool",
		Name:      "call_duration_seconds",
		Help:      "MCP tool call latency in seconds, by tool name.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"tool"},
)

// All returns all netguard-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		JobsExecutedTotal,
		PlansAppliedTotal,
		RollbacksTotal,
		CacheHitsTotal,
		RouterOSCallDuration,
		HealthProbesTotal,
		DeviceStatusTransitionsTotal,
		SnapshotsCapturedTotal,
		ApprovalTokensIssuedTotal,
		ApprovalTokensRejectedTotal,
		ToolCallsTotal,
		ToolCallDuration,
	}
}
