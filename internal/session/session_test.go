package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pulse.report/internal/hrv"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(start time.Time, minutes int) Record {
	return Record{
		StartTime: start,
		EndTime:   start.Add(time.Duration(minutes) * time.Minute),
		AvgBPM:    hrv.Some(64.2),
		AvgRMSSD:  hrv.Some(41.5),
		AvgSDNN:   hrv.Unavailable,
		AvgPNN50:  hrv.Some(12.5),
		Source:    "playback",
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateDown())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, s.MigrateUp())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	r := record(t0, 5)
	require.NoError(t, s.Save(context.Background(), &r))
	got, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_SaveGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := record(t0, 10)
	r.Mood = MoodRelaxed
	r.Notes = "after breathing exercise"
	require.NoError(t, s.Save(ctx, &r))
	_, err := uuid.Parse(r.ID)
	require.NoError(t, err, "Save should assign a UUID")

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 10*time.Minute, got.Duration())
}

func TestStore_SaveReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := record(t0, 10)
	require.NoError(t, s.Save(ctx, &r))
	r.Notes = "edited"
	r.AvgSDNN = hrv.Some(55)
	require.NoError(t, s.Save(ctx, &r))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "edited", all[0].Notes)
	assert.Equal(t, hrv.Some(55), all[0].AvgSDNN)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		r := record(t0.Add(offset), 5)
		require.NoError(t, s.Save(ctx, &r))
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, t0.Add(2*time.Hour), all[0].StartTime)
	assert.Equal(t, t0.Add(time.Hour), all[1].StartTime)
	assert.Equal(t, t0, all[2].StartTime)

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_ListEmpty(t *testing.T) {
	s := openTestStore(t)
	all, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestStore_DeleteAndNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := record(t0, 5)
	require.NoError(t, s.Save(ctx, &r))
	require.NoError(t, s.Delete(ctx, r.ID))

	_, err := s.Get(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, r.ID), ErrNotFound)
}

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing start", func(r *Record) { r.StartTime = time.Time{} }},
		{"end before start", func(r *Record) { r.EndTime = r.StartTime.Add(-time.Second) }},
		{"missing source", func(r *Record) { r.Source = "" }},
		{"unknown mood", func(r *Record) { r.Mood = "ecstatic" }},
	}
	s := openTestStore(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := record(t0, 5)
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrInvalidRecord)
			assert.ErrorIs(t, s.Save(context.Background(), &r), ErrInvalidRecord)
		})
	}
	ok := record(t0, 0)
	ok.Mood = MoodStressed
	assert.NoError(t, ok.Validate())
}

func TestAccumulator(t *testing.T) {
	a := NewAccumulator("live:demo", t0)
	a.Add(t0.Add(time.Second), hrv.Some(60), hrv.Metrics{RMSSD: hrv.Some(40)})
	a.Add(t0.Add(2*time.Second), hrv.Some(70), hrv.Metrics{RMSSD: hrv.Some(50), SDNN: hrv.Some(33.33)})
	a.Add(t0.Add(3*time.Second), hrv.Unavailable, hrv.Metrics{})
	assert.Equal(t, 3, a.Count())

	r := a.Finish(time.Time{})
	assert.Equal(t, t0, r.StartTime)
	assert.Equal(t, t0.Add(3*time.Second), r.EndTime)
	assert.Equal(t, hrv.Some(65), r.AvgBPM)
	assert.Equal(t, hrv.Some(45), r.AvgRMSSD)
	assert.InDelta(t, 33.3, r.AvgSDNN.V, 1e-9)
	assert.False(t, r.AvgPNN50.OK)
	assert.Equal(t, "live:demo", r.Source)
	assert.NoError(t, r.Validate())

	end := t0.Add(time.Minute)
	assert.Equal(t, end, a.Finish(end).EndTime)
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	s := openTestStore(t)
	r := record(t0, 5)
	require.NoError(t, s.Save(context.Background(), &r))

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	// gzip magic number
	require.GreaterOrEqual(t, rec.Body.Len(), 2)
	assert.Equal(t, []byte{0x1f, 0x8b}, rec.Body.Bytes()[:2])
}
