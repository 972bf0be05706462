package elanmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace     = "goelan"
	subsystemDHCP = "dhcp"
	subsystemELAN = "elan"
)

// Label names.
const (
	labelMessageType = "message_type"
	labelReason      = "reason"
	labelOutcome     = "outcome"
	labelOp          = "op"
	labelResult      = "result"
	labelState       = "state"
)

// -------------------------------------------------------------------------
// Collector: Prometheus Metrics
// -------------------------------------------------------------------------

// Collector holds the DHCP responder and elan metrics. It implements
// dhcp.MetricsReporter and elan.MetricsReporter.
type Collector struct {
	// DHCPReceived counts decoded DHCP requests by message type.
	DHCPReceived *prometheus.CounterVec

	// DHCPDropped counts frames that produced no reply, by reason.
	DHCPDropped *prometheus.CounterVec

	// DHCPReplies counts encoded replies by message type.
	DHCPReplies *prometheus.CounterVec

	// Elections counts Designate calls by outcome (sticky, elected,
	// fallback, invalid).
	Elections *prometheus.CounterVec

	// Designations is the number of (tunnel, domain) pairs with a valid
	// designated switch.
	Designations prometheus.Gauge

	// FlowOps counts flow installer calls by operation and result.
	FlowOps *prometheus.CounterVec

	// Jobs counts dispatcher job outcomes and retries.
	Jobs *prometheus.CounterVec

	// JobsInFlight is the number of pending, running and retrying jobs.
	JobsInFlight *prometheus.GaugeVec

	// Leader is 1 while this node owns the elan subsystem.
	Leader prometheus.Gauge
}

// NewCollector creates a Collector registered against reg. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.DHCPReceived,
		c.DHCPDropped,
		c.DHCPReplies,
		c.Elections,
		c.Designations,
		c.FlowOps,
		c.Jobs,
		c.JobsInFlight,
		c.Leader,
	)

	return c
}

// newMetrics creates all metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		DHCPReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDHCP,
			Name:      "requests_received_total",
			Help:      "Total DHCP requests decoded, by message type.",
		}, []string{labelMessageType}),

		DHCPDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDHCP,
			Name:      "frames_dropped_total",
			Help:      "Total frames that produced no DHCP reply, by reason.",
		}, []string{labelReason}),

		DHCPReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDHCP,
			Name:      "replies_sent_total",
			Help:      "Total DHCP replies encoded, by message type.",
		}, []string{labelMessageType}),

		Elections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemELAN,
			Name:      "elections_total",
			Help:      "Total designated-switch elections, by outcome.",
		}, []string{labelOutcome}),

		Designations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemELAN,
			Name:      "designations",
			Help:      "Number of tunnel/domain pairs with a valid designated switch.",
		}),

		FlowOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemELAN,
			Name:      "flow_operations_total",
			Help:      "Total flow installer operations, by operation and result.",
		}, []string{labelOp, labelResult}),

		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemELAN,
			Name:      "jobs_total",
			Help:      "Total dispatcher job events (done, failed, retrying).",
		}, []string{labelState}),

		JobsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemELAN,
			Name:      "jobs_in_flight",
			Help:      "Dispatcher jobs currently pending, running or retrying.",
		}, []string{labelState}),

		Leader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemELAN,
			Name:      "leader",
			Help:      "1 while this node is the elan leader, 0 otherwise.",
		}),
	}
}

// -------------------------------------------------------------------------
// DHCP
// -------------------------------------------------------------------------

// IncDHCPReceived counts a decoded request.
func (c *Collector) IncDHCPReceived(msgType string) {
	c.DHCPReceived.WithLabelValues(msgType).Inc()
}

// IncDHCPDropped counts a frame that produced no reply.
func (c *Collector) IncDHCPDropped(reason string) {
	c.DHCPDropped.WithLabelValues(reason).Inc()
}

// IncDHCPReplies counts an encoded reply.
func (c *Collector) IncDHCPReplies(msgType string) {
	c.DHCPReplies.WithLabelValues(msgType).Inc()
}

// -------------------------------------------------------------------------
// Elections and Flows
// -------------------------------------------------------------------------

// IncElections counts one Designate outcome.
func (c *Collector) IncElections(outcome string) {
	c.Elections.WithLabelValues(outcome).Inc()
}

// SetDesignations sets the valid designation gauge.
func (c *Collector) SetDesignations(n int) {
	c.Designations.Set(float64(n))
}

// IncFlowOps counts one flow installer call.
func (c *Collector) IncFlowOps(op, result string) {
	c.FlowOps.WithLabelValues(op, result).Inc()
}

// -------------------------------------------------------------------------
// Dispatcher and Cluster
// -------------------------------------------------------------------------

// IncJobs counts a dispatcher job event.
func (c *Collector) IncJobs(state string) {
	c.Jobs.WithLabelValues(state).Inc()
}

// SetJobsInFlight sets the in-flight gauge of one job state.
func (c *Collector) SetJobsInFlight(state string, n int) {
	c.JobsInFlight.WithLabelValues(state).Set(float64(n))
}

// SetLeader records whether this node is the leader.
func (c *Collector) SetLeader(leader bool) {
	v := 0.0
	if leader {
		v = 1
	}
	c.Leader.Set(v)
}
