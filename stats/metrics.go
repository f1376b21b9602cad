package stats

import (
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the replication
// service and the sync worker.
type Metrics struct {
	ReplicationOutcomes *prometheus.CounterVec
	SyncFetched         *prometheus.CounterVec
	SyncSynced          *prometheus.CounterVec
	SyncErrors          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with
// registerer. Tests should pass a fresh prometheus.NewRegistry()
// so repeated calls don't collide.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		ReplicationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dpn_replication_outcomes_total",
			Help: "Replication requests by operation, caller role and outcome",
		}, []string{"operation", "role", "outcome"}),
		SyncFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dpn_sync_fetched_total",
			Help: "Records fetched from remote nodes",
		}, []string{"node", "type"}),
		SyncSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dpn_sync_synced_total",
			Help: "Records created or updated locally from remote nodes",
		}, []string{"node", "type"}),
		SyncErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dpn_sync_errors_total",
			Help: "Errors while syncing from remote nodes",
		}, []string{"node", "type"}),
	}
}

// RecordOutcome counts one orchestrated replication request.
func (metrics *Metrics) RecordOutcome(operation, role, outcome string) {
	metrics.ReplicationOutcomes.WithLabelValues(operation, role, outcome).Inc()
}

// RecordSync adds the counts from one node's sync run.
func (metrics *Metrics) RecordSync(result *models.SyncResult) {
	for objectType, count := range result.FetchCounts {
		metrics.SyncFetched.WithLabelValues(result.NodeName, string(objectType)).Add(float64(count))
	}
	for objectType, count := range result.SyncCounts {
		metrics.SyncSynced.WithLabelValues(result.NodeName, string(objectType)).Add(float64(count))
	}
	for objectType, errs := range result.Errors {
		metrics.SyncErrors.WithLabelValues(result.NodeName, string(objectType)).Add(float64(len(errs)))
	}
}
