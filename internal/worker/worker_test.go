package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pubwiki/provisioner/internal/bus"
	"github.com/pubwiki/provisioner/internal/config"
	"github.com/pubwiki/provisioner/internal/events"
	"github.com/pubwiki/provisioner/internal/models"
	"github.com/pubwiki/provisioner/internal/provision"
)

// MockTaskRepository is a mock implementation of repository.TaskRepository.
type MockTaskRepository struct {
	mock.Mock
}

func (m *MockTaskRepository) Create(ctx context.Context, task *models.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockTaskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Task), args.Error(1)
}

func (m *MockTaskRepository) MarkRunning(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTaskRepository) MarkSucceeded(ctx context.Context, id string, wikiID uint64) error {
	args := m.Called(ctx, id, wikiID)
	return args.Error(0)
}

func (m *MockTaskRepository) MarkFailed(ctx context.Context, id string, message string) error {
	args := m.Called(ctx, id, message)
	return args.Error(0)
}

// fakeProvisioner records the contexts it saw and returns canned results.
type fakeProvisioner struct {
	wikiID     uint64
	err        error
	runCtx     *provision.Context
	rolledBack bool
}

func (f *fakeProvisioner) Run(ctx context.Context, pc *provision.Context) (uint64, error) {
	f.runCtx = pc
	return f.wikiID, f.err
}

func (f *fakeProvisioner) Rollback(ctx context.Context, pc *provision.Context) {
	f.rolledBack = true
}

func newTestWorker(t *testing.T, cfg *config.Config, prov Provisioner, tasks *MockTaskRepository) (*Worker, *bus.Bus) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	b := bus.New(client, nil)
	return New(cfg, b, tasks, prov, nil), b
}

func testJob() Job {
	return Job{
		TaskID:     "task-1",
		Name:       "My Wiki",
		Slug:       "my-wiki",
		Language:   "en",
		Visibility: "public",
		Owner:      Owner{ID: 7, Username: "alice"},
	}
}

func enqueue(t *testing.T, b *bus.Bus, job Job) {
	t.Helper()
	payload, err := json.Marshal(job)
	require.NoError(t, err)
	require.NoError(t, b.EnqueueJob(context.Background(), payload))
}

func TestProcessJobSuccess(t *testing.T) {
	cfg := &config.Config{Wikifarm: config.WikifarmConfig{Dir: "/srv/wikis"}}
	prov := &fakeProvisioner{wikiID: 42}
	tasks := new(MockTaskRepository)
	tasks.On("MarkRunning", mock.Anything, "task-1").Return(nil)
	tasks.On("MarkSucceeded", mock.Anything, "task-1", uint64(42)).Return(nil)

	w, b := newTestWorker(t, cfg, prov, tasks)
	enqueue(t, b, testJob())

	require.NoError(t, w.processOne(context.Background()))
	tasks.AssertExpectations(t)
	assert.False(t, prov.rolledBack)

	// Context derived from the job payload.
	require.NotNil(t, prov.runCtx)
	assert.Equal(t, "/srv/wikis/my-wiki", prov.runCtx.TargetDir)
	assert.Equal(t, "my-wiki", prov.runCtx.DBName)
	assert.Equal(t, "my-wiki", prov.runCtx.DBUser)
	assert.Len(t, prov.runCtx.DBPassword, 32)

	// Terminal event published and cached.
	_, ev, ok := b.LastEvent(context.Background(), "task-1")
	require.True(t, ok)
	st, isStatus := ev.(events.Status)
	require.True(t, isStatus)
	assert.Equal(t, events.StateSucceeded, st.Status)
	require.NotNil(t, st.WikiID)
	assert.Equal(t, uint64(42), *st.WikiID)
}

func TestProcessJobFailureRollsBack(t *testing.T) {
	cfg := &config.Config{Wikifarm: config.WikifarmConfig{Dir: "/srv/wikis"}}
	prov := &fakeProvisioner{err: errors.New("db exploded")}
	tasks := new(MockTaskRepository)
	tasks.On("MarkRunning", mock.Anything, "task-1").Return(nil)
	tasks.On("MarkFailed", mock.Anything, "task-1", "provision error: db exploded").Return(nil)

	w, b := newTestWorker(t, cfg, prov, tasks)
	enqueue(t, b, testJob())

	require.NoError(t, w.processOne(context.Background()))
	tasks.AssertExpectations(t)
	assert.True(t, prov.rolledBack)

	_, ev, ok := b.LastEvent(context.Background(), "task-1")
	require.True(t, ok)
	st, isStatus := ev.(events.Status)
	require.True(t, isStatus)
	assert.Equal(t, events.StateFailed, st.Status)
	assert.Nil(t, st.WikiID)
	assert.Equal(t, "provision error: db exploded", st.Message)
}

func TestProcessJobFailureRollbackDisabled(t *testing.T) {
	cfg := &config.Config{
		DisableRollback: true,
		Wikifarm:        config.WikifarmConfig{Dir: "/srv/wikis"},
	}
	prov := &fakeProvisioner{err: errors.New("boom")}
	tasks := new(MockTaskRepository)
	tasks.On("MarkRunning", mock.Anything, "task-1").Return(nil)
	tasks.On("MarkFailed", mock.Anything, "task-1", "provision error: boom").Return(nil)

	w, b := newTestWorker(t, cfg, prov, tasks)
	enqueue(t, b, testJob())

	require.NoError(t, w.processOne(context.Background()))
	assert.False(t, prov.rolledBack)
}

func TestProcessDropsMalformedJob(t *testing.T) {
	cfg := &config.Config{Wikifarm: config.WikifarmConfig{Dir: "/srv/wikis"}}
	prov := &fakeProvisioner{}
	tasks := new(MockTaskRepository)

	w, b := newTestWorker(t, cfg, prov, tasks)
	require.NoError(t, b.EnqueueJob(context.Background(), []byte("{not json")))

	require.NoError(t, w.processOne(context.Background()))

	// Nothing ran: no task writes, no provisioning.
	tasks.AssertExpectations(t)
	assert.Nil(t, prov.runCtx)

	// Queue is drained, the bad payload is gone.
	_, ok, err := b.DequeueJob(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessEmptyQueueTimesOut(t *testing.T) {
	cfg := &config.Config{Wikifarm: config.WikifarmConfig{Dir: "/srv/wikis"}}
	w, _ := newTestWorker(t, cfg, &fakeProvisioner{}, new(MockTaskRepository))

	w.dequeueTimeout = 50 * time.Millisecond

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- w.processOne(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	case <-time.After(3 * time.Second):
		t.Fatal("dequeue did not time out")
	}
}
