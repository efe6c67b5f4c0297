// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recordings produces finite video clips and keeps a catalogue of
// recording descriptors.
package recordings

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the human-readable timestamp stored in Descriptor.Time.
const TimeLayout = "2006-01-02 15:04:05"

// Recording types and labels.
const (
	RecordTypeVideo    = "Video"
	RecordTypeSnapshot = "Snapshot"

	TriggerSurveillance = "surveillance"
	LabelSurveillance   = "Surveillance"

	DefaultProductTag = "CUI"
)

// Descriptor records one produced clip. It is created before the clip is
// written and marked complete afterwards.
type Descriptor struct {
	ID         string `json:"id"`
	Camera     string `json:"camera"`
	FileName   string `json:"fileName"`
	Name       string `json:"name"`
	Extension  string `json:"extension"`
	Storing    bool   `json:"recordStoring"`
	RecordType string `json:"recordType"`
	Trigger    string `json:"trigger"`
	Room       string `json:"room"`
	// Timestamp is the creation time in unix seconds.
	Timestamp int64  `json:"timeStamp"`
	Time      string `json:"time"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	Path      string `json:"path"`
	Uploaded  bool   `json:"ftp"`
	Complete  bool   `json:"complete"`
}

// NewID returns a 10 character lowercase hex identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

var whitespace = regexp.MustCompile(`\s+`)

// FileName builds "{camera}-{id}-{epoch}_{trigger}_{tag}.{ext}", with every
// run of whitespace in the camera name replaced by an underscore.
func FileName(cameraName, id string, epoch int64, trigger, tag, ext string) string {
	if tag == "" {
		tag = DefaultProductTag
	}
	return fmt.Sprintf("%s-%s-%d_%s_%s.%s", whitespace.ReplaceAllString(cameraName, "_"), id, epoch, trigger, tag, ext)
}

// SurveillanceParams are the inputs of NewSurveillanceDescriptor.
type SurveillanceParams struct {
	Camera string
	Room   string
	Path   string
	Tag    string
	Now    time.Time
}

// NewSurveillanceDescriptor returns the descriptor of the next continuous clip.
func NewSurveillanceDescriptor(p SurveillanceParams) Descriptor {
	id := NewID()
	epoch := p.Now.Unix()
	file := FileName(p.Camera, id, epoch, TriggerSurveillance, p.Tag, "mp4")
	return Descriptor{
		ID:         id,
		Camera:     p.Camera,
		FileName:   file,
		Name:       strings.TrimSuffix(file, ".mp4"),
		Extension:  "mp4",
		Storing:    true,
		RecordType: RecordTypeVideo,
		Trigger:    TriggerSurveillance,
		Room:       p.Room,
		Timestamp:  epoch,
		Time:       p.Now.Format(TimeLayout),
		Label:      LabelSurveillance,
		Type:       RecordTypeVideo,
		Path:       p.Path,
		Uploaded:   true,
	}
}
