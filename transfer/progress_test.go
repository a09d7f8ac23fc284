package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytrelay/extract"
	"ytrelay/youtube"
)

func TestApplyDownload(t *testing.T) {
	j := &Job{}
	reports := []extract.Progress{
		{Status: extract.StatusDownloading, DownloadedBytes: 100, TotalEstimate: 1000},
		{Status: extract.StatusDownloading, DownloadedBytes: 600, TotalBytes: 1000, Speed: 1024, ETA: 65},
		// A late report with a larger estimate must not move progress back.
		{Status: extract.StatusDownloading, DownloadedBytes: 650, TotalEstimate: 4000},
		{Status: extract.StatusDownloading, DownloadedBytes: 5000, TotalBytes: 1000},
	}
	want := []float64{5, 30, 30, 50}
	for i, p := range reports {
		applyDownload(j, p)
		assert.InDelta(t, want[i], j.Progress, 1e-9, "report %d", i)
	}
	assert.Equal(t, "1.0 KiB/s", j.Speed)
	assert.Equal(t, "1m 5s", j.ETA)

	applyDownload(j, extract.Progress{Status: extract.StatusDownloading, DownloadedBytes: 10, TotalEstimate: 2048})
	assert.Contains(t, j.Total, "(est)")

	applyDownload(j, extract.Progress{Status: extract.StatusFinished})
	assert.Equal(t, StatusDownloadComplete, j.Status)
	assert.Equal(t, DownloadShare, j.Progress)
}

func TestApplyUpload(t *testing.T) {
	j := &Job{Progress: DownloadShare}
	applyUpload(j, youtube.UploadStatus{Sent: 0, Total: 1000}, time.Second)
	assert.Equal(t, DownloadShare, j.Progress)

	applyUpload(j, youtube.UploadStatus{Sent: 500, Total: 1000}, time.Second)
	assert.Equal(t, 75.0, j.Progress)
	assert.NotEmpty(t, j.Speed)
	assert.Equal(t, "1s", j.ETA)

	// A resync that reports fewer bytes keeps the higher value.
	applyUpload(j, youtube.UploadStatus{Sent: 200, Total: 1000}, 2*time.Second)
	assert.Equal(t, 75.0, j.Progress)

	applyUpload(j, youtube.UploadStatus{Sent: 1000, Total: 1000}, 2*time.Second)
	assert.Equal(t, 100.0, j.Progress)
}

func TestMonotonic(t *testing.T) {
	tests := []struct {
		cur, v, lo, hi, want float64
	}{
		{0, -5, 0, 50, 0},
		{10, 5, 0, 50, 10},
		{10, 70, 0, 50, 50},
		{40, 30, 50, 100, 50},
		{60, 80, 50, 100, 80},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, monotonic(tt.cur, tt.v, tt.lo, tt.hi))
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	older := newJob(Request{UserID: "u1", URL: "a"})
	older.CreatedAt = time.Now().Add(-time.Minute)
	newer := newJob(Request{UserID: "u1", URL: "b"})
	other := newJob(Request{UserID: "u2", URL: "c"})
	for _, j := range []*Job{older, newer, other} {
		require.NoError(t, s.Create(ctx, j))
	}

	require.NoError(t, s.Update(ctx, older.ID, func(j *Job) { j.Progress = 20 }))
	got, err := s.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.Progress)

	// Snapshots are detached from the stored record.
	got.Progress = 99
	again, _ := s.Get(ctx, older.ID)
	assert.Equal(t, 20.0, again.Progress)

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)

	all, _ := s.List(ctx, "")
	assert.Len(t, all, 3)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, s.Update(ctx, "missing", func(*Job) {}), ErrJobNotFound)
}
