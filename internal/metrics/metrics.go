// Package metrics declares the Prometheus metrics this module exposes,
// following the corpus convention (server/metrics): package-level vars
// built with promauto under a single namespace constant, with label
// constants declared alongside the metrics that use them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "filecontenttable"

const (
	/// Outcome of a probe: `hit` or `miss`.
	ProbeResultLabel = "result"

	/// Reason an entry left the table: `evicted`, `removed_by_scan`.
	RemovalReasonLabel = "reason"
)

var (
	/// Total probe calls, partitioned by hit/miss.
	ProbeCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "probe",
		Name:      "count",
		Help:      "Total number of Probe calls, partitioned by result.",
	}, []string{ProbeResultLabel})

	/// Probe call latency, in microseconds.
	ProbeDurationUsec = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "probe",
		Name:      "duration_usec",
		Buckets:   prometheus.ExponentialBuckets(1, 10, 7),
		Help:      "Duration of Probe calls, in microseconds.",
	})

	/// Total record calls.
	RecordCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "record",
		Name:      "count",
		Help:      "Total number of Record calls.",
	})

	/// Record call latency, in microseconds.
	RecordDurationUsec = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "record",
		Name:      "duration_usec",
		Buckets:   prometheus.ExponentialBuckets(1, 10, 7),
		Help:      "Duration of Record calls, in microseconds.",
	})

	/// Records where the stored version advanced but the hash did not
	/// change: benign re-establishment of a strong version.
	USNMismatchCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "record",
		Name:      "usn_mismatch_count",
		Help:      "Records where version advanced without a content change.",
	})

	/// Records where the content hash changed at a higher version.
	ContentMismatchCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "record",
		Name:      "content_mismatch_count",
		Help:      "Records where the content hash changed.",
	})

	/// Probes that found no entry for the queried identity.
	FileIDMismatchCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "probe",
		Name:      "file_id_mismatch_count",
		Help:      "Probes for an identity absent from the table.",
	})

	/// Entries removed, partitioned by reason.
	RemovedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "table",
		Name:      "removed_count",
		Help:      "Entries removed from the table, partitioned by reason.",
	}, []string{RemovalReasonLabel})

	/// Entries whose version was advanced by a change-journal scan event.
	UpdatedByScanCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "observer",
		Name:      "updated_count",
		Help:      "Entries whose version was advanced by a scan event.",
	})

	/// Number of live entries currently tracked, sampled at save time.
	NumEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "table",
		Name:      "num_entries",
		Help:      "Number of live entries in the table as of the last save.",
	})

	/// Load() wall-clock duration, in microseconds.
	LoadDurationUsec = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "persist",
		Name:      "load_duration_usec",
		Buckets:   prometheus.ExponentialBuckets(1, 10, 8),
		Help:      "Duration of Load calls, in microseconds.",
	})

	/// Save() wall-clock duration, in microseconds.
	SaveDurationUsec = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "persist",
		Name:      "save_duration_usec",
		Buckets:   prometheus.ExponentialBuckets(1, 10, 8),
		Help:      "Duration of Save calls, in microseconds.",
	})
)
