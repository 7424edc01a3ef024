// Package metrics exposes the bot's Prometheus instruments.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stacktip/custody-bot/internal/flow"
)

var (
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands received labeled by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of bot commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	flowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_transitions_total",
			Help: "Total number of flow step transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by code and severity",
		},
		[]string{"code", "severity"},
	)
	activeFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_flows",
			Help: "Current number of in-progress conversational flows",
		},
	)
	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfers_total",
			Help: "Total number of transfer authorizations by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	flow.RegisterTransitionRecorder(RecordFlowTransition)
}

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	botCommandsTotal.WithLabelValues(command, status).Inc()
	commandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordFlowTransition tracks flow step transitions.
func RecordFlowTransition(from, to string) {
	if from == "" {
		from = "unknown"
	}
	if to == "" {
		to = "unknown"
	}

	flowTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(code, severity string) {
	if code == "" {
		code = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(code, severity).Inc()
}

// RecordTransfer counts a transfer authorization outcome.
func RecordTransfer(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}

	transfersTotal.WithLabelValues(outcome).Inc()
}

// FlowCollector periodically publishes the active flow count.
type FlowCollector struct {
	flows    *flow.Registry
	interval time.Duration
}

// NewFlowCollector builds a collector sampling the registry every interval.
func NewFlowCollector(flows *flow.Registry, interval time.Duration) *FlowCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &FlowCollector{
		flows:    flows,
		interval: interval,
	}
}

// Run samples until ctx is canceled.
func (c *FlowCollector) Run(ctx context.Context) {
	if c == nil || c.flows == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			activeFlows.Set(float64(c.flows.Count()))
		}
	}
}
