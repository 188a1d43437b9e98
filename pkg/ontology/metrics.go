package ontology

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "ontovault"
	metricsSubsystem = "coordinator"
)

// Metrics are the Prometheus collectors updated by a Coordinator.
type Metrics struct {
	// MergesTotal counts merges by status (success, failed, rejected).
	MergesTotal *prometheus.CounterVec

	// MergeDurationSeconds measures the whole backup, write and validate sequence.
	MergeDurationSeconds prometheus.Histogram

	// TriplesAddedTotal counts triples a merge added to a target file.
	TriplesAddedTotal prometheus.Counter

	// DuplicatesTotal counts detected duplicates by kind (exact, similar, conflict).
	DuplicatesTotal *prometheus.CounterVec

	// SavesTotal counts graph writes by outcome (primary, fallback, failed).
	SavesTotal *prometheus.CounterVec

	// ValidationsTotal counts file validations by result (valid, invalid).
	ValidationsTotal *prometheus.CounterVec

	// RepairsTotal counts repair attempts by outcome (not_needed, restored, failed).
	RepairsTotal *prometheus.CounterVec
}

// NewMetrics creates the coordinator collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MergesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "merges_total",
				Help:      "Total number of graph merges by status",
			},
			[]string{"status"},
		),
		MergeDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "merge_duration_seconds",
				Help:      "Duration of graph merges in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		TriplesAddedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "triples_added_total",
				Help:      "Total number of triples added to target files by merges",
			},
		),
		DuplicatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "duplicates_total",
				Help:      "Total number of detected duplicates by kind",
			},
			[]string{"kind"},
		),
		SavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "saves_total",
				Help:      "Total number of graph writes by outcome",
			},
			[]string{"outcome"},
		),
		ValidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "validations_total",
				Help:      "Total number of file validations by result",
			},
			[]string{"result"},
		),
		RepairsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "repairs_total",
				Help:      "Total number of repair attempts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Stats is a point-in-time snapshot of a Coordinator's counters.
type Stats struct {
	FilesLoaded    int64 `json:"files_loaded"`
	Merges         int64 `json:"merges"`
	BackupsCreated int64 `json:"backups_created"`
	Validations    int64 `json:"validations"`
	Repairs        int64 `json:"repairs"`
	FallbackSaves  int64 `json:"fallback_saves"`
}

// counters back Stats. They are kept even without Prometheus so that
// embedders can report activity without a registry.
type counters struct {
	filesLoaded    atomic.Int64
	merges         atomic.Int64
	backupsCreated atomic.Int64
	validations    atomic.Int64
	repairs        atomic.Int64
	fallbackSaves  atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		FilesLoaded:    c.filesLoaded.Load(),
		Merges:         c.merges.Load(),
		BackupsCreated: c.backupsCreated.Load(),
		Validations:    c.validations.Load(),
		Repairs:        c.repairs.Load(),
		FallbackSaves:  c.fallbackSaves.Load(),
	}
}

func (m *Metrics) merge(status string, seconds float64, added int) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(status).Inc()
	m.MergeDurationSeconds.Observe(seconds)
	m.TriplesAddedTotal.Add(float64(added))
}

func (m *Metrics) duplicates(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.DuplicatesTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) save(outcome string) {
	if m == nil {
		return
	}
	m.SavesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) validation(valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.ValidationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) repair(outcome string) {
	if m == nil {
		return
	}
	m.RepairsTotal.WithLabelValues(outcome).Inc()
}
