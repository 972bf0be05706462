package elan

// MetricsReporter receives election, flow and dispatcher counters.
// Implemented by the Prometheus collector; the default is a no-op.
type MetricsReporter interface {
	IncElections(outcome string)
	SetDesignations(n int)
	IncFlowOps(op, result string)
	IncJobs(state string)
	SetJobsInFlight(state string, n int)
}

type noopMetrics struct{}

func (noopMetrics) IncElections(string)         {}
func (noopMetrics) SetDesignations(int)         {}
func (noopMetrics) IncFlowOps(string, string)   {}
func (noopMetrics) IncJobs(string)              {}
func (noopMetrics) SetJobsInFlight(string, int) {}
