package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/photobook-be/internal/testutil"
	"github.com/cuongbtq/photobook-be/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testutil.NewSQLiteDB(t), logger.NewDiscard().Logger)
}

func enqueue(t *testing.T, s *Store, session, album string, priority int, files ...File) *Job {
	t.Helper()
	job, err := s.Enqueue(context.Background(), NewJob{
		UserID:    "user-1",
		SessionID: session,
		EventName: "Wedding",
		AlbumName: album,
		Priority:  priority,
		Files:     files,
	})
	require.NoError(t, err)
	return job
}

func TestStore_EnqueueAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := enqueue(t, s, "s-1", "A", 2,
		File{Name: "f1.jpg", Size: 3, MIMEType: "image/jpeg", Data: []byte{1, 2, 3}},
		File{Name: "f2.jpg", Size: 1, MIMEType: "image/jpeg", Data: []byte{4}},
	)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, got.State)
	assert.Equal(t, "A", got.AlbumName)
	assert.Equal(t, 2, got.Priority)
	assert.Equal(t, 2, got.TotalFiles)
	assert.Equal(t, 1, got.MaxAttempts)
	assert.Nil(t, got.WorkerID)
	assert.Empty(t, got.FileErrors())

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStore_ClaimNext_PriorityThenFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := enqueue(t, s, "s-1", "low", 1)
	highFirst := enqueue(t, s, "s-1", "high-first", 5)
	mid := enqueue(t, s, "s-1", "mid", 3)
	highSecond := enqueue(t, s, "s-1", "high-second", 5)

	want := []string{highFirst.ID, highSecond.ID, mid.ID, low.ID}
	for _, id := range want {
		job, err := s.ClaimNext(ctx, "w-0")
		require.NoError(t, err)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, StateActive, job.State)
		require.NotNil(t, job.WorkerID)
		assert.Equal(t, "w-0", *job.WorkerID)
		assert.Equal(t, 1, job.Attempts)
	}

	_, err := s.ClaimNext(ctx, "w-0")
	assert.ErrorIs(t, err, ErrNoJobReady)
}

func TestStore_ClaimNext_LoadsFilesInOrder(t *testing.T) {
	s := newTestStore(t)

	enqueue(t, s, "s-1", "A", 1,
		File{Name: "a.png", Size: 2, MIMEType: "image/png", Data: []byte("aa")},
		File{Name: "b.png", Size: 3, MIMEType: "image/png", Data: []byte("bbb")},
	)

	job, err := s.ClaimNext(context.Background(), "w-0")
	require.NoError(t, err)
	require.Len(t, job.Files, 2)
	assert.Equal(t, 0, job.Files[0].Position)
	assert.Equal(t, "a.png", job.Files[0].Name)
	assert.Equal(t, []byte("aa"), job.Files[0].Data)
	assert.Equal(t, 1, job.Files[1].Position)
	assert.Equal(t, "bbb", string(job.Files[1].Data))
}

func TestStore_ClaimNext_ConcurrentClaimsAreExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const jobs = 40
	for i := 0; i < jobs; i++ {
		enqueue(t, s, "s-1", fmt.Sprintf("album-%d", i), jobs-i)
	}

	var (
		mu      sync.Mutex
		claimed = map[string]string{}
		dupes   []string
		wg      sync.WaitGroup
	)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				job, err := s.ClaimNext(ctx, worker)
				if errors.Is(err, ErrNoJobReady) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				if prev, ok := claimed[job.ID]; ok {
					dupes = append(dupes, job.ID+" by "+prev+" and "+worker)
				}
				claimed[job.ID] = worker
				mu.Unlock()
			}
		}(fmt.Sprintf("w-%d", w))
	}
	wg.Wait()

	assert.Empty(t, dupes)
	assert.Len(t, claimed, jobs)

	stats, err := s.Stats(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, jobs, stats.Active)
	assert.Zero(t, stats.Waiting)
}

func TestStore_CompleteDropsFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enqueue(t, s, "s-1", "A", 1, File{Name: "f1.jpg", Size: 1, MIMEType: "image/jpeg", Data: []byte{1}})
	job, err := s.ClaimNext(ctx, "w-0")
	require.NoError(t, err)

	require.NoError(t, s.UpdateProgress(ctx, job.ID, 1))
	require.NoError(t, s.Complete(ctx, job.ID, Outcome{
		AlbumID:    "album-1",
		FileErrors: []FileError{{File: "f2.jpg", Error: "upload failed"}},
	}))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, 1, got.ProcessedFiles)
	require.NotNil(t, got.AlbumID)
	assert.Equal(t, "album-1", *got.AlbumID)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, []FileError{{File: "f2.jpg", Error: "upload failed"}}, got.FileErrors())

	var files int
	require.NoError(t, s.db.Get(&files, `SELECT COUNT(*) FROM album_job_files WHERE job_id = ?`, job.ID))
	assert.Zero(t, files)
}

func TestStore_FailKeepsJobQueryable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enqueue(t, s, "s-1", "A", 1, File{Name: "f1.jpg", Size: 1, MIMEType: "image/jpeg", Data: []byte{1}})
	job, err := s.ClaimNext(ctx, "w-0")
	require.NoError(t, err)

	require.NoError(t, s.Fail(ctx, job.ID, Outcome{Message: "album insert failed"}))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "album insert failed", got.ErrorMessage)
	assert.Nil(t, got.AlbumID)

	stats, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	var files int
	require.NoError(t, s.db.Get(&files, `SELECT COUNT(*) FROM album_job_files WHERE job_id = ?`, job.ID))
	assert.Equal(t, 1, files)
}

func TestStore_TransitionsRequireActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := enqueue(t, s, "s-1", "A", 1)

	assert.ErrorIs(t, s.Complete(ctx, job.ID, Outcome{}), ErrInvalidTransition)
	assert.ErrorIs(t, s.Fail(ctx, job.ID, Outcome{Message: "x"}), ErrInvalidTransition)
	assert.ErrorIs(t, s.UpdateProgress(ctx, job.ID, 1), ErrInvalidTransition)

	claimed, err := s.ClaimNext(ctx, "w-0")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, claimed.ID, Outcome{AlbumID: "a"}))

	assert.ErrorIs(t, s.Fail(ctx, claimed.ID, Outcome{Message: "late"}), ErrInvalidTransition)
}

func TestStore_RequeueHonorsAvailableAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	job := enqueue(t, s, "s-1", "A", 1)
	claimed, err := s.ClaimNext(ctx, "w-0")
	require.NoError(t, err)

	require.NoError(t, s.Requeue(ctx, claimed.ID, Outcome{Message: "storage down"}, base.Add(10*time.Second)))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, got.State)
	assert.Equal(t, "storage down", got.ErrorMessage)

	now = base.Add(5 * time.Second)
	_, err = s.ClaimNext(ctx, "w-0")
	assert.ErrorIs(t, err, ErrNoJobReady)

	now = base.Add(11 * time.Second)
	again, err := s.ClaimNext(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestStore_StatsScopedBySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		enqueue(t, s, "session-a", fmt.Sprintf("a-%d", i), 4-i)
	}
	enqueue(t, s, "session-b", "b-0", 1)

	job, err := s.ClaimNext(ctx, "w-0")
	require.NoError(t, err)
	require.Equal(t, "session-a", job.SessionID)
	require.NoError(t, s.Complete(ctx, job.ID, Outcome{AlbumID: "album"}))

	stats, err := s.Stats(ctx, "session-a")
	require.NoError(t, err)
	assert.Equal(t, Stats{Waiting: 3, Completed: 1}, stats)
	assert.Equal(t, 4, stats.TotalJobs())
	assert.Equal(t, 25, stats.Progress())
	assert.False(t, stats.IsProcessingComplete())

	all, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 5, all.TotalJobs())

	empty, err := s.Stats(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalJobs())
	assert.Zero(t, empty.Progress())
	assert.True(t, empty.IsProcessingComplete())
}

func TestStore_ListPaginates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return at }
		ids = append(ids, enqueue(t, s, "s-1", fmt.Sprintf("album-%d", i), 1).ID)
	}

	page, err := s.List(ctx, Filter{SessionID: "s-1", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	last := page[1]
	next, err := s.List(ctx, Filter{
		SessionID: "s-1",
		PageSize:  2,
		Cursor:    &Cursor{CreatedAt: last.CreatedAt, JobID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.Equal(t, ids[2], next[0].ID)
	assert.Equal(t, ids[1], next[1].ID)

	waiting, err := s.List(ctx, Filter{State: StateActive, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, waiting)
}

func TestStore_PurgeFinishedAndRecoverStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	done := enqueue(t, s, "s-1", "done", 3)
	stuck := enqueue(t, s, "s-1", "stuck", 2)
	fresh := enqueue(t, s, "s-1", "fresh", 1)

	claimed, err := s.ClaimNext(ctx, "w-0")
	require.NoError(t, err)
	require.Equal(t, done.ID, claimed.ID)
	require.NoError(t, s.Complete(ctx, claimed.ID, Outcome{AlbumID: "album"}))

	claimed, err = s.ClaimNext(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, stuck.ID, claimed.ID)

	now = base.Add(2 * time.Hour)

	recovered, err := s.RecoverStale(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, recovered)

	got, err := s.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "worker heartbeat lost", got.ErrorMessage)

	purged, err := s.PurgeFinished(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	_, err = s.Get(ctx, done.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = s.Get(ctx, stuck.ID)
	assert.NoError(t, err)
	_, err = s.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestStats_Derived(t *testing.T) {
	tests := []struct {
		name     string
		stats    Stats
		progress int
		complete bool
	}{
		{"empty", Stats{}, 0, true},
		{"all waiting", Stats{Waiting: 2}, 0, false},
		{"active only", Stats{Active: 1}, 0, false},
		{"one third", Stats{Completed: 1, Failed: 2}, 33, true},
		{"two thirds rounds up", Stats{Completed: 2, Waiting: 1}, 67, false},
		{"all done", Stats{Completed: 4}, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.progress, tt.stats.Progress())
			assert.Equal(t, tt.complete, tt.stats.IsProcessingComplete())
		})
	}
}
