// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the camcore media engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No camera names in labels: camera count is unbounded.

var (
	// FFmpegStartTotal counts transcoder launches by invocation kind and result.
	FFmpegStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_ffmpeg_start_total",
		Help: "Total number of transcoder launches, by kind and result (ok/launch_error).",
	}, []string{"kind", "result"})

	// FFmpegExitTotal counts transcoder terminations by kind and reason.
	FFmpegExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_ffmpeg_exit_total",
		Help: "Total number of transcoder exits, by kind and reason (success/error/canceled).",
	}, []string{"kind", "reason"})

	// FFmpegDuration tracks wall time of finite transcoder runs.
	FFmpegDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camcore_ffmpeg_duration_seconds",
		Help:    "Wall time of transcoder invocations, by kind.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 14), // 50ms to ~7min
	}, []string{"kind"})

	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_proc_terminate_total",
		Help: "Process group termination signals, by signal and result.",
	}, []string{"signal", "result"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camcore_proc_wait_total",
		Help: "Process wait outcomes after termination, by outcome.",
	}, []string{"outcome"})
)

// IncFFmpegStart records a transcoder launch attempt.
func IncFFmpegStart(kind, result string) {
	FFmpegStartTotal.WithLabelValues(normalize(kind), result).Inc()
}

// IncFFmpegExit records a transcoder termination.
func IncFFmpegExit(kind, reason string) {
	FFmpegExitTotal.WithLabelValues(normalize(kind), reason).Inc()
}

// ObserveFFmpegDuration records the wall time of a transcoder run in seconds.
func ObserveFFmpegDuration(kind string, seconds float64) {
	FFmpegDuration.WithLabelValues(normalize(kind)).Observe(seconds)
}

// IncProcTerminate records a process group signal.
func IncProcTerminate(signal, result string) {
	procTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process finished.
func IncProcWait(outcome string) {
	procWaitTotal.WithLabelValues(outcome).Inc()
}

func normalize(kind string) string {
	if kind == "" {
		return "unknown"
	}
	return kind
}
