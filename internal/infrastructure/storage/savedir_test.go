package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HydrophoneStreamer/internal/domain"
	"HydrophoneStreamer/internal/timestamp"
)

func touch(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
}

func TestLatestTimestampEmptyDir(t *testing.T) {
	t.Parallel()

	sd, err := NewSaveDir(filepath.Join(t.TempDir(), "nested", "dir"), 0)
	require.NoError(t, err)

	ts, file, err := sd.LatestTimestamp()
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
	assert.Empty(t, file)
}

func TestLatestTimestampAcrossFormats(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sd, err := NewSaveDir(dir, 0)
	require.NoError(t, err)

	touch(t, dir, "ICLISTENHF1266_20250525T000000.000Z.flac", time.Time{})
	touch(t, dir, "OO-HYEA2--YDH-2025-05-25T001500.000000Z.flac", time.Time{})
	touch(t, dir, "DEV1_2025-05-24T23:59:59.000Z.flac", time.Time{})
	touch(t, dir, "ignored.mseed", time.Time{})

	ts, file, err := sd.LatestTimestamp()
	require.NoError(t, err)
	assert.Equal(t, "OO-HYEA2--YDH-2025-05-25T001500.000000Z.flac", file)
	assert.True(t, ts.Equal(time.Date(2025, time.May, 25, 0, 15, 0, 0, time.UTC)))
}

func TestLatestTimestampRejectsUnparseable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sd, err := NewSaveDir(dir, 0)
	require.NoError(t, err)
	touch(t, dir, "mystery.flac", time.Time{})

	_, _, err = sd.LatestTimestamp()
	require.ErrorIs(t, err, timestamp.ErrNoTimestamp)
}

func TestWritePointerPicksNewestAndOverwrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sd, err := NewSaveDir(dir, 0)
	require.NoError(t, err)

	touch(t, dir, "DEV1_2024-01-01T00:00:00.000Z.flac", time.Time{})
	rel, err := sd.WritePointer()
	require.NoError(t, err)
	assert.Equal(t, "DEV1_2024-01-01T00:00:00.000Z.flac", rel)

	touch(t, dir, "DEV1_2024-01-01T00:05:00.000Z.flac", time.Time{})
	touch(t, dir, "DEV1_2023-12-31T23:55:00.000Z.flac", time.Time{})
	_, err = sd.WritePointer()
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, PointerFile))
	require.NoError(t, err)
	assert.Equal(t, "DEV1_2024-01-01T00:05:00.000Z.flac", string(raw))
}

func TestWritePointerNoFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sd, err := NewSaveDir(dir, 0)
	require.NoError(t, err)

	rel, err := sd.WritePointer()
	require.NoError(t, err)
	assert.Empty(t, rel)
	assert.NoFileExists(t, filepath.Join(dir, PointerFile))
}

func TestSweepRemovesOnlyExpiredFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sd, err := NewSaveDir(dir, 7*24*time.Hour)
	require.NoError(t, err)

	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	touch(t, dir, "DEV1_2025-06-01T00:00:00.000Z.flac", now.Add(-8*24*time.Hour))
	touch(t, dir, "DEV1_2025-06-09T00:00:00.000Z.flac", now.Add(-24*time.Hour))
	touch(t, dir, "segment.ts", now.Add(-30*24*time.Hour))
	touch(t, dir, FiltersFile, now.Add(-30*24*time.Hour))

	removed, err := sd.Sweep(now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"DEV1_2025-06-01T00:00:00.000Z.flac", "segment.ts"}, removed)

	assert.NoFileExists(t, filepath.Join(dir, "DEV1_2025-06-01T00:00:00.000Z.flac"))
	assert.FileExists(t, filepath.Join(dir, "DEV1_2025-06-09T00:00:00.000Z.flac"))
	assert.FileExists(t, filepath.Join(dir, FiltersFile))
}

func TestSweepDisabled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sd, err := NewSaveDir(dir, 0)
	require.NoError(t, err)
	touch(t, dir, "DEV1_2020-01-01T00:00:00.000Z.flac", time.Now().Add(-365*24*time.Hour))

	removed, err := sd.Sweep(time.Now())
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestWriteFiltersOverwrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sd, err := NewSaveDir(dir, 0)
	require.NoError(t, err)

	require.NoError(t, sd.WriteFilters(domain.Filter{"deviceCode": "A", "rowLimit": 1}))
	require.NoError(t, sd.WriteFilters(domain.Filter{"deviceCode": "B"}))

	raw, err := os.ReadFile(filepath.Join(dir, FiltersFile))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]any{"deviceCode": "B"}, got)
}

func TestWriteCitationOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sd, err := NewSaveDir(dir, 0)
	require.NoError(t, err)

	wrote, err := sd.WriteCitation("@misc{first}")
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = sd.WriteCitation("@misc{second}")
	require.NoError(t, err)
	assert.False(t, wrote)

	raw, err := os.ReadFile(filepath.Join(dir, CitationFile))
	require.NoError(t, err)
	assert.Equal(t, "@misc{first}", string(raw))
}

func TestOrdersRoundTripAndClear(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sd, err := NewSaveDir(dir, 0)
	require.NoError(t, err)

	orders, err := sd.LoadOrders()
	require.NoError(t, err)
	assert.Empty(t, orders)

	placed := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, sd.SaveOrders([]domain.PendingOrder{{RequestID: 7, RunIDs: []int{70}, PlacedAt: placed}}))

	orders, err = sd.LoadOrders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 7, orders[0].RequestID)
	assert.True(t, orders[0].PlacedAt.Equal(placed))

	require.NoError(t, sd.SaveOrders(nil))
	assert.NoFileExists(t, filepath.Join(dir, OrdersFile))
}

func TestSweepRemovesExpiredSources(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sd, err := NewSaveDir(dir, 7*24*time.Hour)
	require.NoError(t, err)

	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	touch(t, dir, "OO-HYSB1--YDH-2025-06-01T000000.000000Z.mseed", now.Add(-8*24*time.Hour))
	touch(t, dir, "ICLISTENHF1266_20250601T000000.000Z.wav", now.Add(-8*24*time.Hour))
	touch(t, dir, "OO-HYSB1--YDH-2025-06-10T000000.000000Z.mseed", now.Add(-time.Hour))

	removed, err := sd.Sweep(now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"OO-HYSB1--YDH-2025-06-01T000000.000000Z.mseed",
		"ICLISTENHF1266_20250601T000000.000Z.wav",
	}, removed)
	assert.FileExists(t, filepath.Join(dir, "OO-HYSB1--YDH-2025-06-10T000000.000000Z.mseed"))
}
