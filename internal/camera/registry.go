// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	camlog "github.com/ManuGH/camcore/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Registry resolves camera records by name.
type Registry interface {
	Find(ctx context.Context, name string) (Camera, error)
	List(ctx context.Context) ([]Camera, error)
}

// SettingsLookup returns per-camera settings.
type SettingsLookup interface {
	Settings(ctx context.Context, name string) (Settings, error)
}

type camerasFile struct {
	Cameras []Camera `yaml:"cameras"`
}

// FileRegistry serves cameras from a YAML file and reloads it on change.
type FileRegistry struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	cameras map[string]Camera

	listenMu  sync.Mutex
	listeners []chan<- []Camera
}

// NewFileRegistry loads path. A missing file yields an empty registry.
func NewFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{
		path:    path,
		logger:  camlog.WithComponent("cameras"),
		cameras: map[string]Camera{},
	}
	if err := r.Reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry returns a registry over a fixed camera set.
func NewStaticRegistry(cams ...Camera) *FileRegistry {
	r := &FileRegistry{logger: camlog.WithComponent("cameras"), cameras: map[string]Camera{}}
	for _, c := range cams {
		r.cameras[c.Name] = c
	}
	return r
}

// Find implements Registry.
func (r *FileRegistry) Find(_ context.Context, name string) (Camera, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cameras[name]
	if !ok {
		return Camera{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return c, nil
}

// List implements Registry. Cameras are ordered by name.
func (r *FileRegistry) List(_ context.Context) ([]Camera, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Camera, 0, len(r.cameras))
	for _, c := range r.cameras {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Settings implements SettingsLookup.
func (r *FileRegistry) Settings(ctx context.Context, name string) (Settings, error) {
	c, err := r.Find(ctx, name)
	if err != nil {
		return Settings{}, err
	}
	return c.Settings, nil
}

// Reload re-reads the file. On error the previous camera set is kept.
func (r *FileRegistry) Reload() error {
	cams, err := parseFile(r.path)
	if err != nil {
		return err
	}
	next := make(map[string]Camera, len(cams))
	for _, c := range cams {
		if c.Name == "" {
			return fmt.Errorf("cameras file %s: camera without name", r.path)
		}
		if _, dup := next[c.Name]; dup {
			return fmt.Errorf("cameras file %s: duplicate camera %q", r.path, c.Name)
		}
		next[c.Name] = c
	}

	r.mu.Lock()
	r.cameras = next
	r.mu.Unlock()

	r.logger.Info().Str("event", "cameras.loaded").Int("count", len(next)).Str(camlog.FieldPath, r.path).Msg("camera registry loaded")
	r.notify(cams)
	return nil
}

func parseFile(path string) ([]Camera, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var f camerasFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse cameras file %s: %w", path, err)
	}
	return f.Cameras, nil
}

// Subscribe registers ch to receive the camera set after every successful reload.
// Sends are non-blocking.
func (r *FileRegistry) Subscribe(ch chan<- []Camera) {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	r.listeners = append(r.listeners, ch)
}

func (r *FileRegistry) notify(cams []Camera) {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	for _, ch := range r.listeners {
		select {
		case ch <- cams:
		default:
			r.logger.Warn().Str("event", "cameras.listener_skip").Msg("skipped notifying listener (channel full)")
		}
	}
}

// Watch reloads the registry when the file changes until ctx ends.
// The parent directory is watched so atomic renames are observed.
func (r *FileRegistry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch cameras file: %w", err)
	}
	r.logger.Info().Str("event", "cameras.watcher_started").Str(camlog.FieldPath, r.path).Msg("watching cameras file for changes")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Str("event", "cameras.watcher_stopped").Msg("cameras watcher stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				if err := r.Reload(); err != nil {
					r.logger.Error().Err(err).Str("event", "cameras.reload_failed").Msg("cameras reload failed, keeping previous set")
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error().Err(err).Str("event", "cameras.watcher_error").Msg("cameras watcher error")
		}
	}
}
