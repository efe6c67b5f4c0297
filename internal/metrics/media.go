// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotCacheTotal counts snapshot cache lookups by result (hit/miss/bypass).
	SnapshotCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_snapshot_cache_total",
		Help: "Snapshot cache lookups, by result.",
	}, []string{"result"})

	// FragmentsTotal counts fMP4 fragments emitted to live stream consumers.
	FragmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camcore_fragments_total",
		Help: "Total number of fragmented MP4 batches emitted to live consumers.",
	})

	// FragmentBytesTotal counts bytes emitted to live stream consumers.
	FragmentBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camcore_fragment_bytes_total",
		Help: "Total bytes emitted to live consumers.",
	})

	// ActiveStreams tracks open live streaming sessions.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camcore_active_streams",
		Help: "Current number of open live streaming sessions.",
	})

	// SurveillanceCyclesTotal counts completed surveillance cycles by result.
	SurveillanceCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_surveillance_cycles_total",
		Help: "Surveillance recording cycles, by result (ok/error).",
	}, []string{"result"})

	// ActiveSurveillance tracks cameras with a live surveillance chain.
	ActiveSurveillance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camcore_active_surveillance",
		Help: "Current number of cameras with a running surveillance chain.",
	})

	// ExifStampTotal counts metadata stamping attempts by result.
	ExifStampTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_exif_stamp_total",
		Help: "Image metadata stamping attempts, by result (ok/skipped/error).",
	}, []string{"result"})
)

// IncSnapshotCache records a snapshot cache lookup result.
func IncSnapshotCache(result string) {
	SnapshotCacheTotal.WithLabelValues(result).Inc()
}

// RecordFragment records one emitted fragment of n bytes.
func RecordFragment(n int) {
	FragmentsTotal.Inc()
	FragmentBytesTotal.Add(float64(n))
}

// IncSurveillanceCycle records a finished surveillance cycle.
func IncSurveillanceCycle(result string) {
	SurveillanceCyclesTotal.WithLabelValues(result).Inc()
}

// IncExifStamp records a metadata stamping attempt.
func IncExifStamp(result string) {
	ExifStampTotal.WithLabelValues(result).Inc()
}
