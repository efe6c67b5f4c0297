// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by all spans.
const (
	CameraKey        = "camera.name"
	CameraSourceKey  = "camera.source"
	FFmpegKindKey    = "ffmpeg.kind"
	FFmpegExitKey    = "ffmpeg.exit_code"
	RecordingIDKey   = "recording.id"
	CacheResultKey   = "snapshot.cache"
	FragmentCountKey = "stream.fragments"
)

// ProcessAttributes describes a transcoder invocation.
func ProcessAttributes(kind, camera string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(FFmpegKindKey, kind)}
	if camera != "" {
		attrs = append(attrs, attribute.String(CameraKey, camera))
	}
	return attrs
}

// RecordError marks span as failed. A nil error leaves the span untouched.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
