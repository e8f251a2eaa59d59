package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/photobook-be/internal/album"
	"github.com/cuongbtq/photobook-be/internal/api/handler"
	"github.com/cuongbtq/photobook-be/internal/batch"
	"github.com/cuongbtq/photobook-be/internal/doorbell"
	"github.com/cuongbtq/photobook-be/internal/notify"
	"github.com/cuongbtq/photobook-be/internal/objectstore"
	"github.com/cuongbtq/photobook-be/internal/queue"
	"github.com/cuongbtq/photobook-be/internal/testutil"
	"github.com/cuongbtq/photobook-be/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type noopRinger struct{}

func (noopRinger) Ring(ctx context.Context, r doorbell.Ring) error { return nil }

type testEnv struct {
	router     *gin.Engine
	jobs       *queue.Store
	albums     *album.Store
	bus        *notify.RedisBus
	storageDir string
}

func newTestEnv(t *testing.T, opts ...func(*handler.Dependencies)) *testEnv {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	log := logger.NewDiscard().Logger

	dir := t.TempDir()
	storage, err := objectstore.NewLocalStorage(dir, "http://cdn.test")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	env := &testEnv{
		jobs:       queue.NewStore(db, log),
		albums:     album.NewStore(db, log),
		bus:        notify.NewRedisBus(rdb, log),
		storageDir: dir,
	}

	orch := batch.NewOrchestrator(env.jobs, album.NewMaterializer(env.albums, storage, log), noopRinger{},
		batch.Config{MaxAlbums: 10, MaxFileBytes: 1 << 20, MaxAttempts: 1}, log)

	deps := &handler.Dependencies{
		Logger:       log,
		Orchestrator: orch,
		Jobs:         env.jobs,
		Albums:       env.albums,
		Storage:      storage,
		Journal:      env.bus,
		Streamer: notify.NewStreamer(env.bus, env.jobs, notify.StreamConfig{
			StatsInterval:     20 * time.Millisecond,
			HeartbeatInterval: time.Hour,
		}, log),
		HealthChecks: map[string]handler.HealthCheck{
			"database": func(ctx context.Context) error { return db.PingContext(ctx) },
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		MaxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(deps)
	}

	env.router = SetupRouter(deps)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, userID string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func fileJSON(name, content string) map[string]any {
	return map[string]any{"name": name, "size": len(content), "data": b64(content)}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]any{"database": "ok", "redis": "ok"}, body["checks"])

	down := newTestEnv(t, func(d *handler.Dependencies) {
		d.HealthChecks["redis"] = func(ctx context.Context) error { return errors.New("connection refused") }
	})
	w = down.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body = decode(t, w)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["redis"])
}

func TestCreateBatch_QueuedWithHeaderUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"user_id":    "body-user",
		"event_name": "Summer Gala",
		"session_id": "sess-1",
		"albums": []any{
			map[string]any{"name": "Ceremony", "files": []any{fileJSON("a.jpg", "aaa")}},
			map[string]any{"name": "Dinner", "files": []any{fileJSON("b.jpg", "bbb")}},
			map[string]any{"name": "Party", "files": []any{}},
		},
	}, "u-1")

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "queued", body["mode"])
	assert.Equal(t, "sess-1", body["session_id"])
	assert.EqualValues(t, 3, body["queued_count"])

	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 3)
	for i, j := range jobs {
		assert.EqualValues(t, 3-i, j.(map[string]any)["priority"])
		assert.Equal(t, "queued", j.(map[string]any)["status"])
	}

	job, err := env.jobs.Get(context.Background(), jobs[0].(map[string]any)["job_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "u-1", job.UserID)
	assert.Equal(t, "Ceremony", job.AlbumName)
}

func TestCreateBatch_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"event_name": "",
		"albums":     []any{map[string]any{"name": ""}},
	}, "")

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "VALIDATION_ERROR", body["error"])

	fields := map[string]bool{}
	for _, d := range body["details"].([]any) {
		fields[d.(map[string]any)["field"].(string)] = true
	}
	assert.True(t, fields["user_id"])
	assert.True(t, fields["event_name"])
	assert.True(t, fields["albums[0].name"])

	stats, err := env.jobs.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalJobs())
}

func TestCreateBatch_MalformedAndOversizedBodies(t *testing.T) {
	env := newTestEnv(t, func(d *handler.Dependencies) { d.MaxBodyBytes = 64 })

	w := env.do(t, http.MethodPost, "/api/v1/batches", "{not json", "u-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, w)["error"])

	w = env.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"event_name": "E",
		"albums":     []any{map[string]any{"name": "A", "files": []any{fileJSON("a.jpg", strings.Repeat("x", 200))}}},
	}, "u-1")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCreateBatch_SyncWithoutFiles(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"event_name": "Launch",
		"albums":     []any{map[string]any{"name": "Empty 1"}, map[string]any{"name": "Empty 2"}},
	}, "u-1")

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "sync", body["mode"])
	assert.EqualValues(t, 2, body["count"])
	assert.NotEmpty(t, body["session_id"])
}

func multipartRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, content := range files {
		fw, err := mw.CreateFormFile(field, field+".txt")
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches/multipart", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "u-1")
	return req
}

func TestCreateBatchMultipart(t *testing.T) {
	env := newTestEnv(t)

	req := multipartRequest(t, map[string]string{
		"event_name": "Wedding",
		"session_id": "sess-mp",
		"albums":     `[{"name":"Ceremony","files":["p1","p2"]}]`,
	}, map[string]string{"p1": "first photo", "p2": "second photo"})

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	job, err := env.jobs.ClaimNext(context.Background(), "w-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-mp", job.SessionID)
	require.Len(t, job.Files, 2)
	assert.Equal(t, []byte("first photo"), job.Files[0].Data)
	assert.Equal(t, "p2.txt", job.Files[1].Name)
	assert.Equal(t, "text/plain; charset=utf-8", job.Files[1].MIMEType)
}

func TestCreateBatchMultipart_BadInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		fields map[string]string
		field  string
	}{
		{
			name:   "missing part",
			fields: map[string]string{"event_name": "E", "albums": `[{"name":"A","files":["nope"]}]`},
			field:  "albums[0].files[0]",
		},
		{
			name:   "albums not json",
			fields: map[string]string{"event_name": "E", "albums": `{`},
			field:  "albums",
		},
		{
			name:   "use_queue not bool",
			fields: map[string]string{"event_name": "E", "use_queue": "maybe", "albums": `[]`},
			field:  "use_queue",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, multipartRequest(t, tt.fields, nil))

			require.Equal(t, http.StatusBadRequest, w.Code)
			body := decode(t, w)
			assert.Equal(t, "VALIDATION_ERROR", body["error"])
			assert.Equal(t, tt.field, body["details"].([]any)[0].(map[string]any)["field"])
		})
	}
}

func TestQueueStatus_SessionProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := env.jobs.Enqueue(ctx, queue.NewJob{UserID: "u-1", SessionID: "S", EventName: "E", AlbumName: "A", Priority: 4 - i})
		require.NoError(t, err)
	}
	_, err := env.jobs.Enqueue(ctx, queue.NewJob{UserID: "u-1", SessionID: "other", EventName: "E", AlbumName: "A"})
	require.NoError(t, err)

	claimed, err := env.jobs.ClaimNext(ctx, "w-1")
	require.NoError(t, err)
	require.Equal(t, "S", claimed.SessionID)
	require.NoError(t, env.jobs.Complete(ctx, claimed.ID, queue.Outcome{}))

	w := env.do(t, http.MethodGet, "/api/v1/queue/status?session_id=S", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"session_id": "S",
		"waiting": 3,
		"active": 0,
		"completed": 1,
		"failed": 0,
		"total_jobs": 4,
		"is_processing_complete": false,
		"progress": 25
	}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/queue/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5, decode(t, w)["total_jobs"])
}

func TestJobs_GetAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		job, err := env.jobs.Enqueue(ctx, queue.NewJob{UserID: "u-1", SessionID: "S", EventName: "E", AlbumName: "A"})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	w := env.do(t, http.MethodGet, "/api/v1/jobs/"+ids[0], nil, "u-1")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, ids[0], body["job_id"])
	assert.Equal(t, "waiting", body["state"])
	assert.Equal(t, []any{}, body["file_errors"])

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/v1/jobs/"+ids[0], nil, "u-2").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil, "").Code)

	w = env.do(t, http.MethodGet, "/api/v1/jobs/00000000-0000-0000-0000-000000000000", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["error"])

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		path := "/api/v1/jobs?session_id=S&page_size=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		w := env.do(t, http.MethodGet, path, nil, "u-1")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var page struct {
			Jobs []struct {
				JobID string `json:"job_id"`
			} `json:"jobs"`
			NextCursor string `json:"next_cursor"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		for _, j := range page.Jobs {
			assert.False(t, seen[j.JobID], "job listed twice")
			seen[j.JobID] = true
		}
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)

	w = env.do(t, http.MethodGet, "/api/v1/jobs?session_id=S", nil, "u-2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["jobs"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/jobs?state=running", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/jobs?cursor=%25%25", nil, "").Code)
}

func TestAlbums_GetAndDelete(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/batches", map[string]any{
		"event_name": "Reunion",
		"use_queue":  false,
		"albums": []any{map[string]any{"name": "Group", "files": []any{
			fileJSON("one.jpg", "photo one"),
			fileJSON("two.jpg", "photo two"),
		}}},
	}, "owner")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	albumID := decode(t, w)["albums"].([]any)[0].(map[string]any)["album_id"].(string)

	w = env.do(t, http.MethodGet, "/api/v1/albums/"+albumID, nil, "owner")
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Album  album.Album   `json:"album"`
		Photos []album.Photo `json:"photos"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Group", got.Album.Name)
	require.Len(t, got.Photos, 2)
	assert.True(t, strings.HasPrefix(got.Photos[0].URL, "http://cdn.test/"))

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/v1/albums/"+albumID, nil, "intruder").Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodDelete, "/api/v1/albums/"+albumID, nil, "intruder").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/albums/"+albumID, nil, "").Code)

	w = env.do(t, http.MethodDelete, "/api/v1/albums/"+albumID, nil, "owner")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Len(t, body["deleted"], 2)
	assert.Empty(t, body["errors"])

	for _, p := range got.Photos {
		_, err := os.Stat(filepath.Join(env.storageDir, filepath.FromSlash(p.StorageKey)))
		assert.True(t, os.IsNotExist(err), p.StorageKey)
	}

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/albums/"+albumID, nil, "owner").Code)
}

func TestRecentEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.bus.Publish(ctx, notify.NewEvent(notify.EventAlbumProgress, "S", map[string]any{"processed": 1})))
	require.NoError(t, env.bus.Publish(ctx, notify.NewEvent(notify.EventAlbumCompleted, "S", map[string]any{"album_id": "a-1"})))

	w := env.do(t, http.MethodGet, "/api/v1/batches/S/events", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		SessionID string         `json:"session_id"`
		Events    []notify.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
	assert.Equal(t, notify.EventAlbumProgress, body.Events[0].Type)
	assert.Equal(t, notify.EventAlbumCompleted, body.Events[1].Type)

	w = env.do(t, http.MethodGet, "/api/v1/batches/empty/events", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session_id":"empty","events":[]}`, w.Body.String())
}

func TestStreamEvents(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/batches/S/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	// returns once the client context is done
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	out := w.Body.String()
	assert.True(t, strings.HasPrefix(out, "event:connected\n"), out)
	assert.Contains(t, out, "event:queue_stats\n")
	assert.Contains(t, out, `"session_id":"S"`)
}

func TestUserMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(UserMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(handler.UserIDKey)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "  u-9 ")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "u-9", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, w.Body.String())
}
