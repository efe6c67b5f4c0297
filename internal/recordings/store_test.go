// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recordings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSqliteStore(filepath.Join(t.TempDir(), "recordings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func descriptor(id, cam string, ts int64) Descriptor {
	return Descriptor{
		ID:         id,
		Camera:     cam,
		FileName:   id + ".mp4",
		Name:       id,
		Extension:  "mp4",
		Storing:    true,
		RecordType: RecordTypeVideo,
		Trigger:    TriggerSurveillance,
		Room:       "Standard",
		Timestamp:  ts,
		Time:       "2025-01-01 00:00:00",
		Label:      LabelSurveillance,
		Type:       RecordTypeVideo,
		Path:       "/rec",
		Uploaded:   true,
	}
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			d := descriptor("aaaaaaaaaa", "Garage", 100)
			_, err := s.Create(ctx, d)
			require.NoError(t, err)

			_, err = s.Create(ctx, d)
			assert.ErrorIs(t, err, ErrDuplicate)

			got, err := s.Get(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, d, got)

			require.NoError(t, s.MarkComplete(ctx, d.ID))
			got, err = s.Get(ctx, d.ID)
			require.NoError(t, err)
			assert.True(t, got.Complete)
			assert.False(t, got.Storing, "a completed recording is no longer storing")

			assert.ErrorIs(t, s.MarkComplete(ctx, "missing"), ErrNotFound)
			_, err = s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, d := range []Descriptor{
				descriptor("0000000001", "Garage", 100),
				descriptor("0000000002", "Garage", 300),
				descriptor("0000000003", "Yard", 200),
			} {
				_, err := s.Create(ctx, d)
				require.NoError(t, err)
			}

			garage, err := s.List(ctx, "Garage")
			require.NoError(t, err)
			require.Len(t, garage, 2)
			assert.Equal(t, "0000000002", garage[0].ID)
			assert.Equal(t, "0000000001", garage[1].ID)

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)
			assert.Equal(t, "0000000003", all[1].ID)
		})
	}
}

func TestSqliteStoreReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recordings.db")

	s, err := NewSqliteStore(path)
	require.NoError(t, err)
	_, err = s.Create(ctx, descriptor("bbbbbbbbbb", "Garage", 1))
	require.NoError(t, err)
	require.NoError(t, s.Check(ctx))
	require.NoError(t, s.Close())

	s, err = NewSqliteStore(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.DB.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, schemaVersion, version)

	got, err := s.Get(ctx, "bbbbbbbbbb")
	require.NoError(t, err)
	assert.Equal(t, "Garage", got.Camera)
}
