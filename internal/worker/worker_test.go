package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/photobook-be/internal/album"
	"github.com/cuongbtq/photobook-be/internal/notify"
	"github.com/cuongbtq/photobook-be/internal/objectstore"
	"github.com/cuongbtq/photobook-be/internal/queue"
	"github.com/cuongbtq/photobook-be/internal/testutil"
	"github.com/cuongbtq/photobook-be/shared/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingPublisher) Publish(ctx context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) ofType(t notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// flakyStorage fails uploads whose key ends with failSuffix.
type flakyStorage struct {
	objectstore.Storage
	failSuffix string
}

func (f flakyStorage) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if f.failSuffix != "" && strings.HasSuffix(key, f.failSuffix) {
		return "", errors.New("simulated storage error")
	}
	return f.Storage.Upload(ctx, key, data, mimeType)
}

// scriptedMaterializer runs fn for every call.
type scriptedMaterializer struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, call int, spec album.Spec) (*album.Result, error)
}

func (s *scriptedMaterializer) Materialize(ctx context.Context, spec album.Spec, onProgress func(album.Progress)) (*album.Result, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[spec.AlbumName]++
	call := s.calls[spec.AlbumName]
	s.mu.Unlock()
	return s.fn(ctx, call, spec)
}

func okResult(spec album.Spec) *album.Result {
	return &album.Result{Album: &album.Album{ID: "album-" + spec.AlbumName, Name: spec.AlbumName}}
}

type env struct {
	queue     *queue.Store
	albums    *album.Store
	storage   objectstore.Storage
	publisher *recordingPublisher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	log := logger.NewDiscard().Logger
	storage, err := objectstore.NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)
	return &env{
		queue:     queue.NewStore(db, log),
		albums:    album.NewStore(db, log),
		storage:   storage,
		publisher: &recordingPublisher{},
	}
}

func (e *env) start(t *testing.T, m Materializer, mutate func(*Config)) *Worker {
	t.Helper()
	cfg := &Config{
		Logger:            logger.NewDiscard().Logger,
		WorkerID:          "test",
		Queue:             e.queue,
		Materializer:      m,
		Publisher:         e.publisher,
		Concurrency:       2,
		JobTimeout:        5 * time.Second,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		RetryBaseDelay:    10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(cfg)
	}

	w := NewWorker(cfg)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func (e *env) enqueue(t *testing.T, name string, maxAttempts int, files ...queue.File) *queue.Job {
	t.Helper()
	job, err := e.queue.Enqueue(context.Background(), queue.NewJob{
		UserID:      "user-1",
		SessionID:   "session-1",
		EventName:   "Wedding",
		AlbumName:   name,
		Priority:    1,
		MaxAttempts: maxAttempts,
		Files:       files,
	})
	require.NoError(t, err)
	return job
}

func (e *env) waitForState(t *testing.T, jobID string, state queue.State) *queue.Job {
	t.Helper()
	var job *queue.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = e.queue.Get(context.Background(), jobID)
		return err == nil && job.State == state
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestWorker_UploadFailureStillCompletes(t *testing.T) {
	e := newEnv(t)
	m := album.NewMaterializer(e.albums, flakyStorage{Storage: e.storage, failSuffix: "/1-f2.jpg"}, logger.NewDiscard().Logger)
	e.start(t, m, nil)

	job := e.enqueue(t, "A", 1,
		queue.File{Name: "f1.jpg", Size: 3, MIMEType: "image/jpeg", Data: []byte("one")},
		queue.File{Name: "f2.jpg", Size: 3, MIMEType: "image/jpeg", Data: []byte("two")},
	)

	done := e.waitForState(t, job.ID, queue.StateCompleted)
	assert.Equal(t, 2, done.ProcessedFiles)
	require.NotNil(t, done.AlbumID)

	fileErrors := done.FileErrors()
	require.Len(t, fileErrors, 1)
	assert.Equal(t, "f2.jpg", fileErrors[0].File)
	assert.Equal(t, album.CodeUploadFailure, fileErrors[0].Code)

	photos, err := e.albums.ListPhotos(context.Background(), *done.AlbumID)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "f1.jpg", photos[0].FileName)

	require.Eventually(t, func() bool { return len(e.publisher.ofType(notify.EventAlbumCompleted)) == 1 }, time.Second, 5*time.Millisecond)
	progress := e.publisher.ofType(notify.EventAlbumProgress)
	require.Len(t, progress, 2)
	assert.Equal(t, 50, progress[0].Data["progress"])
	assert.Equal(t, 100, progress[1].Data["progress"])
	assert.Equal(t, "session-1", progress[0].SessionID)
}

func TestWorker_AlbumFailureFailsJob(t *testing.T) {
	e := newEnv(t)
	m := &scriptedMaterializer{fn: func(ctx context.Context, call int, spec album.Spec) (*album.Result, error) {
		return nil, errors.New("albums table unavailable")
	}}
	e.start(t, m, nil)

	job := e.enqueue(t, "A", 1)

	failed := e.waitForState(t, job.ID, queue.StateFailed)
	assert.Contains(t, failed.ErrorMessage, "albums table unavailable")
	assert.Equal(t, 1, failed.Attempts)

	require.Eventually(t, func() bool { return len(e.publisher.ofType(notify.EventAlbumFailed)) == 1 }, time.Second, 5*time.Millisecond)
	ev := e.publisher.ofType(notify.EventAlbumFailed)[0]
	assert.Equal(t, CodeJobFailure, ev.Data["code"])
	assert.Equal(t, job.ID, ev.Data["job_id"])

	time.Sleep(50 * time.Millisecond)
	m.mu.Lock()
	assert.Equal(t, 1, m.calls["A"])
	m.mu.Unlock()
}

func TestWorker_RetryPolicy(t *testing.T) {
	e := newEnv(t)
	m := &scriptedMaterializer{fn: func(ctx context.Context, call int, spec album.Spec) (*album.Result, error) {
		if call == 1 {
			return nil, errors.New("transient")
		}
		return okResult(spec), nil
	}}
	e.start(t, m, nil)

	job := e.enqueue(t, "A", 2)

	done := e.waitForState(t, job.ID, queue.StateCompleted)
	assert.Equal(t, 2, done.Attempts)
	assert.Empty(t, e.publisher.ofType(notify.EventAlbumFailed))
}

func TestWorker_PanicFailsJob(t *testing.T) {
	e := newEnv(t)
	m := &scriptedMaterializer{fn: func(ctx context.Context, call int, spec album.Spec) (*album.Result, error) {
		panic("nil map write")
	}}
	e.start(t, m, nil)

	job := e.enqueue(t, "A", 1)
	failed := e.waitForState(t, job.ID, queue.StateFailed)
	assert.Contains(t, failed.ErrorMessage, "panicked")
}

func TestWorker_TimeoutFailsJob(t *testing.T) {
	e := newEnv(t)
	m := &scriptedMaterializer{fn: func(ctx context.Context, call int, spec album.Spec) (*album.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	e.start(t, m, func(c *Config) { c.JobTimeout = 50 * time.Millisecond })

	job := e.enqueue(t, "A", 1)
	failed := e.waitForState(t, job.ID, queue.StateFailed)
	assert.Contains(t, failed.ErrorMessage, context.DeadlineExceeded.Error())
}

func TestWorker_EachJobProcessedOnce(t *testing.T) {
	e := newEnv(t)
	m := &scriptedMaterializer{fn: func(ctx context.Context, call int, spec album.Spec) (*album.Result, error) {
		time.Sleep(time.Millisecond)
		return okResult(spec), nil
	}}
	e.start(t, m, func(c *Config) { c.Concurrency = 4 })

	var ids []string
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		ids = append(ids, e.enqueue(t, name, 1).ID)
	}

	for _, id := range ids {
		e.waitForState(t, id, queue.StateCompleted)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.calls, len(ids))
	for name, n := range m.calls {
		assert.Equal(t, 1, n, "album %s", name)
	}
}

type fakeAcknowledger struct {
	mu     sync.Mutex
	acks   []uint64
	nacks  []uint64
	requeued []bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, tag)
	f.requeued = append(f.requeued, requeue)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

type fakeDoorbell struct {
	deliveries chan amqp.Delivery
}

func (f *fakeDoorbell) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func TestWorker_DoorbellWakesAndAcks(t *testing.T) {
	e := newEnv(t)
	m := &scriptedMaterializer{fn: func(ctx context.Context, call int, spec album.Spec) (*album.Result, error) {
		return okResult(spec), nil
	}}
	bell := &fakeDoorbell{deliveries: make(chan amqp.Delivery)}
	ack := &fakeAcknowledger{}

	e.start(t, m, func(c *Config) {
		c.Doorbell = bell
		c.PollInterval = time.Hour
	})

	bell.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("not json")}
	bell.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`{"job_id":"not-a-uuid"}`)}

	job := e.enqueue(t, "A", 1)
	bell.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte(`{"job_id":"` + job.ID + `","priority":1}`)}

	e.waitForState(t, job.ID, queue.StateCompleted)

	require.Eventually(t, func() bool {
		ack.mu.Lock()
		defer ack.mu.Unlock()
		return len(ack.acks) == 1
	}, time.Second, 5*time.Millisecond)

	ack.mu.Lock()
	defer ack.mu.Unlock()
	assert.Equal(t, []uint64{3}, ack.acks)
	assert.Equal(t, []uint64{1, 2}, ack.nacks)
	assert.Equal(t, []bool{false, false}, ack.requeued)
}

func TestWorker_StopWaitsForRunningJob(t *testing.T) {
	e := newEnv(t)
	started := make(chan struct{})
	release := make(chan struct{})
	m := &scriptedMaterializer{fn: func(ctx context.Context, call int, spec album.Spec) (*album.Result, error) {
		close(started)
		<-release
		return okResult(spec), nil
	}}

	w := NewWorker(&Config{
		Logger:       logger.NewDiscard().Logger,
		Queue:        e.queue,
		Materializer: m,
		Publisher:    e.publisher,
		Concurrency:  1,
		PollInterval: 10 * time.Millisecond,
	})
	job := e.enqueue(t, "A", 1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	<-started

	stopped := make(chan struct{})
	go func() {
		cancel()
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped

	got, err := e.queue.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateCompleted, got.State)
}

func TestWorker_RetryDelay(t *testing.T) {
	w := NewWorker(&Config{Logger: logger.NewDiscard().Logger, RetryBaseDelay: time.Second})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.retryDelay(tt.attempt))
	}
}

type fakeMaintenance struct {
	purgeCutoff time.Time
	staleCutoff time.Time
	err         error
}

func (f *fakeMaintenance) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	f.purgeCutoff = cutoff
	return 3, f.err
}

func (f *fakeMaintenance) RecoverStale(ctx context.Context, cutoff time.Time) (int64, error) {
	f.staleCutoff = cutoff
	return 1, f.err
}

func TestCleaner_RunOnce(t *testing.T) {
	store := &fakeMaintenance{}
	c, err := NewCleaner(store, CleanupConfig{
		Schedule:   "@every 1h",
		Retention:  24 * time.Hour,
		StaleAfter: 15 * time.Minute,
	}, logger.NewDiscard().Logger)
	require.NoError(t, err)

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.RunOnce(context.Background())
	assert.Equal(t, now.Add(-24*time.Hour), store.purgeCutoff)
	assert.Equal(t, now.Add(-15*time.Minute), store.staleCutoff)

	c.Start()
	c.Stop()
}

func TestCleaner_InvalidSchedule(t *testing.T) {
	_, err := NewCleaner(&fakeMaintenance{}, CleanupConfig{Schedule: "every tuesday"}, logger.NewDiscard().Logger)
	assert.Error(t, err)
}

func TestCleaner_AgainstStore(t *testing.T) {
	e := newEnv(t)
	job := e.enqueue(t, "A", 1)
	claimed, err := e.queue.ClaimNext(context.Background(), "gone")
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	c, err := NewCleaner(e.queue, CleanupConfig{Schedule: "@every 1h", StaleAfter: time.Nanosecond}, logger.NewDiscard().Logger)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }

	c.RunOnce(context.Background())

	got, err := e.queue.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateFailed, got.State)
}
