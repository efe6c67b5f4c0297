// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package exif

import (
	"os"
	"path/filepath"

	"github.com/ManuGH/camcore/internal/fsutil"
	camlog "github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultAuthor is written to XPAuthor when no author is configured.
const DefaultAuthor = "camera.ui"

// Stamper writes camera metadata into produced images.
type Stamper struct {
	Author string
	Logger zerolog.Logger
}

// NewStamper returns a Stamper tagging images with author.
func NewStamper(author string) *Stamper {
	if author == "" {
		author = DefaultAuthor
	}
	return &Stamper{Author: author, Logger: camlog.WithComponent("exif")}
}

// Stamp embeds title=cameraName, comment=label and the author tag into the
// JPEG at path, replacing the file in place. Failures are logged and never
// returned: a missing or unreadable image is skipped.
func (s *Stamper) Stamp(cameraName, path, label string) {
	logger := camlog.WithCamera(s.Logger, cameraName).With().Str(camlog.FieldPath, path).Logger()

	jpeg, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		metrics.IncExifStamp("skipped")
		logger.Debug().Err(err).Msg("can not read file to create EXIF information, skipping")
		return
	}

	stamped, err := Encode(jpeg, Fields{Title: cameraName, Comment: label, Author: s.Author})
	if err != nil {
		metrics.IncExifStamp("skipped")
		logger.Debug().Err(err).Msg("can not create EXIF information, skipping")
		return
	}

	perm := os.FileMode(0o640)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := fsutil.WriteBytesAtomic(path, stamped, perm); err != nil {
		metrics.IncExifStamp("error")
		logger.Debug().Err(err).Msg("can not write EXIF information")
		return
	}
	metrics.IncExifStamp("ok")
}
