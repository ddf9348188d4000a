package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pubwiki/provisioner/internal/bus"
	"github.com/pubwiki/provisioner/internal/events"
	"github.com/pubwiki/provisioner/internal/models"
)

type eventHandlerFixture struct {
	tasks  *MockTaskRepository
	bus    *bus.Bus
	client *redis.Client
	router chi.Router
}

func newEventFixture(t *testing.T) *eventHandlerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	b := bus.New(client, nil)

	tasks := new(MockTaskRepository)
	h := NewEventHandler(tasks, b, nil)

	r := chi.NewRouter()
	r.Get("/provisioner/v1/tasks/{task_id}/events", h.Stream)

	return &eventHandlerFixture{tasks: tasks, bus: b, client: client, router: r}
}

// serveStream runs the handler in a goroutine and returns the recorder plus a
// channel that closes when the stream ends.
func serveStream(f *eventHandlerFixture, ctx context.Context, taskID string) (*httptest.ResponseRecorder, chan struct{}) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/provisioner/v1/tasks/"+taskID+"/events", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.router.ServeHTTP(rec, req)
	}()
	return rec, done
}

func TestStreamTerminalSnapshot(t *testing.T) {
	f := newEventFixture(t)
	wikiID := uint64(42)
	f.tasks.On("Get", mock.Anything, "task-1").Return(&models.Task{
		ID:     "task-1",
		Status: events.StateSucceeded,
		WikiID: &wikiID,
	}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/provisioner/v1/tasks/task-1/events", nil)
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	// Exactly one synthesized terminal event, then the stream closes.
	assert.Equal(t, 1, strings.Count(body, "event: status"))
	assert.Contains(t, body, `"status":"succeeded"`)
	assert.Contains(t, body, `"wiki_id":42`)
}

func TestStreamTerminalSnapshotFailed(t *testing.T) {
	f := newEventFixture(t)
	msg := "provision error: boom"
	f.tasks.On("Get", mock.Anything, "task-2").Return(&models.Task{
		ID:      "task-2",
		Status:  events.StateFailed,
		Message: &msg,
	}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/provisioner/v1/tasks/task-2/events", nil)
	f.router.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "event: status")
	assert.Contains(t, body, `"status":"failed"`)
	assert.Contains(t, body, `"message":"provision error: boom"`)
}

func TestStreamReplaysCachedProgressThenLiveEvents(t *testing.T) {
	f := newEventFixture(t)
	ctx := context.Background()

	// A running task with a cached progress event from an earlier phase.
	f.tasks.On("Get", mock.Anything, "task-3").Return(&models.Task{
		ID:     "task-3",
		Status: events.StateRunning,
	}, nil)
	require.NoError(t, f.bus.Publish(ctx, "task-3", events.Progress{
		Status:  events.StateRunning,
		Message: "db provision",
		Phase:   events.PhaseDBProvision,
	}))

	rec, done := serveStream(f, ctx, "task-3")

	// The subscription is confirmed before the snapshot, so publishing until
	// the handler exits is enough to land the terminal event. Each attempt
	// sends a progress event first so the ordering assertion below holds no
	// matter which publish the subscriber caught.
	wikiID := uint64(7)
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-done:
		case <-deadline:
			t.Fatal("stream did not close on terminal status")
		case <-time.After(10 * time.Millisecond):
			require.NoError(t, f.bus.Publish(ctx, "task-3", events.Progress{
				Status:  events.StateRunning,
				Message: "db provision",
				Phase:   events.PhaseDBProvision,
			}))
			require.NoError(t, f.bus.Publish(ctx, "task-3", events.Status{
				Status: events.StateSucceeded,
				WikiID: &wikiID,
			}))
			continue
		}
		break
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, `"phase":"db_provision"`)
	assert.Contains(t, body, "event: status")
	assert.Contains(t, body, `"status":"succeeded"`)

	// Progress replay precedes the live terminal event.
	assert.Less(t, strings.Index(body, "event: progress"), strings.Index(body, "event: status"))
}

func TestStreamForwardsUnparseablePayloads(t *testing.T) {
	f := newEventFixture(t)
	ctx := context.Background()
	f.tasks.On("Get", mock.Anything, "task-4").Return(nil, nil)

	rec, done := serveStream(f, ctx, "task-4")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-done:
		case <-deadline:
			t.Fatal("stream did not close on terminal status")
		case <-time.After(10 * time.Millisecond):
			require.NoError(t, f.client.Publish(ctx, bus.TaskChannel("task-4"), "not json at all").Err())
			require.NoError(t, f.bus.Publish(ctx, "task-4", events.Status{Status: events.StateFailed, Message: "x"}))
			continue
		}
		break
	}

	body := rec.Body.String()
	assert.Contains(t, body, "data: not json at all")
	assert.Contains(t, body, "event: status")
}

func TestStreamClosesOnClientDisconnect(t *testing.T) {
	f := newEventFixture(t)
	f.tasks.On("Get", mock.Anything, "task-5").Return(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, done := serveStream(f, ctx, "task-5")

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not close on context cancel")
	}
}
