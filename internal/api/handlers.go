// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/recordings"
	"github.com/ManuGH/camcore/internal/snapshot"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 16

func cameraName(r *http.Request) (string, error) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("invalid camera name")
	}
	return name, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	name, err := cameraName(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	sub, _ := strconv.ParseBool(q.Get("sub"))

	img, err := s.engine.Snapshot(r.Context(), name, sub, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if q.Get("encoding") == "base64" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(base64.StdEncoding.EncodeToString(img)))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	_, _ = w.Write(img)
}

type storeSnapshotRequest struct {
	Label string `json:"label"`
	Sub   bool   `json:"sub"`
	// Image is a base64 JPEG produced elsewhere. When set nothing is captured.
	Image string `json:"image,omitempty"`
	// External converts Image through the transcoder instead of writing it as is.
	External bool `json:"external,omitempty"`
}

type storeSnapshotResponse struct {
	FileName string `json:"fileName"`
	Size     int    `json:"size"`
}

func (s *Server) handleStoreSnapshot(w http.ResponseWriter, r *http.Request) {
	name, err := cameraName(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	var req storeSnapshotRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Label == "" {
		req.Label = "Snapshot"
	}

	file := recordings.FileName(name, recordings.NewID(), s.now().Unix(), "snapshot", s.cfg.ProductTag, "jpeg")
	persist := &snapshot.Persist{
		Dir:      s.cfg.RecordingsRoot,
		FileName: strings.TrimSuffix(file, ".jpeg"),
		Label:    req.Label,
	}
	if req.Image != "" {
		data := []byte(req.Image)
		if req.External {
			decoded, err := base64.StdEncoding.DecodeString(req.Image)
			if err != nil {
				writeErrorCode(w, http.StatusBadRequest, "image is not valid base64")
				return
			}
			data = decoded
		}
		if err := s.engine.StoreSnapshot(r.Context(), name, data, *persist, req.External); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, storeSnapshotResponse{FileName: file})
		return
	}

	img, err := s.engine.Snapshot(r.Context(), name, req.Sub, persist)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, storeSnapshotResponse{FileName: file, Size: len(img)})
}

type recordClipRequest struct {
	DurationSeconds float64 `json:"durationSeconds"`
	FileName        string  `json:"fileName,omitempty"`
}

type recordClipResponse struct {
	FileName string `json:"fileName"`
}

func (s *Server) handleRecordClip(w http.ResponseWriter, r *http.Request) {
	name, err := cameraName(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	var req recordClipRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	duration := time.Duration(req.DurationSeconds * float64(time.Second))
	if duration <= 0 || duration > s.cfg.MaxClipDuration {
		writeErrorCode(w, http.StatusBadRequest, fmt.Sprintf("durationSeconds must be in (0, %d]", int(s.cfg.MaxClipDuration.Seconds())))
		return
	}
	file := req.FileName
	if file == "" {
		file = recordings.FileName(name, recordings.NewID(), s.now().Unix(), "manual", s.cfg.ProductTag, "mp4")
	}

	if err := s.engine.RecordClip(r.Context(), name, duration, file); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordClipResponse{FileName: file})
}

// handleUploadClip stores an encoded clip under the recordings root.
func (s *Server) handleUploadClip(w http.ResponseWriter, r *http.Request) {
	name, err := cameraName(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	file, err := url.PathUnescape(chi.URLParam(r, "file"))
	if err != nil || file == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid file name")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		writeErrorCode(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if len(data) == 0 {
		writeErrorCode(w, http.StatusBadRequest, "empty body")
		return
	}
	if err := s.engine.StoreVideo(r.Context(), name, file, data); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordClipResponse{FileName: file})
}

type convertRequest struct {
	Source string `json:"source"`
	Target string `json:"target,omitempty"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	name, err := cameraName(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	var req convertRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	if !strings.HasSuffix(req.Source, ".ts") {
		writeErrorCode(w, http.StatusBadRequest, "source must be a .ts file")
		return
	}
	if req.Target == "" {
		req.Target = strings.TrimSuffix(req.Source, ".ts") + ".mp4"
	}
	if err := s.engine.ConvertToMP4(r.Context(), name, req.Source, req.Target); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordClipResponse{FileName: req.Target})
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	name, err := cameraName(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.engine.Recordings(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []recordings.Descriptor{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type surveillanceStatus struct {
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

func (s *Server) writeSurveillanceStatus(w http.ResponseWriter, code int, name string) {
	running, lastErr := s.engine.SurveillanceStatus(name)
	resp := surveillanceStatus{Running: running}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleSurveillanceStatus(w http.ResponseWriter, r *http.Request) {
	name, err := cameraName(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeSurveillanceStatus(w, http.StatusOK, name)
}

func (s *Server) handleStartSurveillance(w http.ResponseWriter, r *http.Request) {
	name, err := cameraName(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.StartSurveillance(r.Context(), name); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeSurveillanceStatus(w, http.StatusAccepted, name)
}

func (s *Server) handleStopSurveillance(w http.ResponseWriter, r *http.Request) {
	name, err := cameraName(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.StopSurveillance(name); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLive streams fragments as they are produced. Stream failures after
// the headers are sent end the response silently.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	name, err := cameraName(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.engine.OpenStream(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = sess.Close() }()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	n := 0
	for f := range sess.All() {
		if _, err := f.WriteTo(w); err != nil {
			break
		}
		if err := rc.Flush(); err != nil {
			break
		}
		n++
	}
	logger := log.WithContext(r.Context(), log.WithCamera(log.WithComponent("api"), name))
	logger.Debug().Int("fragments", n).Msg("live stream ended")
}
