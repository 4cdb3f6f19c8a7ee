package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-cleaning-service/internal/models"
)

var allStatuses = []models.Status{
	models.StatusPending, models.StatusProfiling, models.StatusSuggesting,
	models.StatusApplying, models.StatusDone, models.StatusFailed,
}

func TestDefaultMachine(t *testing.T) {
	m := NewMachine(Default())
	allowed := map[[2]models.Status]bool{
		{models.StatusPending, models.StatusProfiling}:    true,
		{models.StatusProfiling, models.StatusSuggesting}: true,
		{models.StatusSuggesting, models.StatusApplying}:  true,
		{models.StatusApplying, models.StatusDone}:        true,
		{models.StatusFailed, models.StatusProfiling}:     true,
	}
	for _, from := range allStatuses {
		assert.True(t, m.Known(from))
		for _, to := range allStatuses {
			want := allowed[[2]models.Status{from, to}] || to == models.StatusFailed
			assert.Equal(t, want, m.CanTransition(from, to), "%s -> %s", from, to)
			if !want {
				assert.ErrorIs(t, m.Validate(from, to), models.ErrInvalidTransition)
			}
		}
	}
	assert.True(t, m.Terminal(models.StatusDone))
	assert.False(t, m.Terminal(models.StatusFailed))
}

func TestCustomDefinition(t *testing.T) {
	m := NewMachine(Definition{Edges: map[models.Status][]models.Status{"a": {"b"}, "b": {}}})
	assert.True(t, m.CanTransition("a", "b"))
	assert.False(t, m.CanTransition("b", "a"))
	assert.False(t, m.CanTransition("a", models.StatusFailed), "no escape configured")
}

type memStore struct {
	mu     sync.Mutex
	jobs   map[string]models.Job
	events []models.JobEvent
}

func newMemStore(jobs ...models.Job) *memStore {
	s := &memStore{jobs: map[string]models.Job{}}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) GetJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, models.ErrNotFound
	}
	return j, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, from, to models.Status, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j.Status != from {
		return models.ErrInvalidTransition
	}
	j.Status = to
	j.CompletedAt = completedAt
	s.jobs[id] = j
	return nil
}

func (s *memStore) AppendEvent(_ context.Context, ev models.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func newTracker(st StatusStore) *Tracker {
	return NewTracker(NewMachine(Default()), st, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTracker_TransitionsAndEvents(t *testing.T) {
	st := newMemStore(models.Job{ID: "j", Status: models.StatusPending})
	tr := newTracker(st)
	ctx := context.Background()

	job, err := tr.Transition(ctx, "j", models.StatusProfiling, "start")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProfiling, job.Status)
	assert.Nil(t, job.CompletedAt)

	_, err = tr.Transition(ctx, "j", models.StatusDone, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	for _, s := range []models.Status{models.StatusSuggesting, models.StatusApplying, models.StatusDone} {
		_, err = tr.Transition(ctx, "j", s, "")
		require.NoError(t, err)
	}
	done, _ := st.GetJob(ctx, "j")
	assert.Equal(t, models.StatusDone, done.Status)
	assert.NotNil(t, done.CompletedAt)

	require.Len(t, st.events, 4)
	assert.Equal(t, models.StatusPending, st.events[0].FromStatus)
	assert.Equal(t, "start", st.events[0].Detail)

	_, err = tr.Transition(ctx, "missing", models.StatusProfiling, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTracker_TransitionFromRejectsStale(t *testing.T) {
	st := newMemStore(models.Job{ID: "j", Status: models.StatusFailed})
	tr := newTracker(st)

	_, err := tr.TransitionFrom(context.Background(), "j", models.StatusPending, models.StatusProfiling, "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	job, err := tr.TransitionFrom(context.Background(), "j", models.StatusFailed, models.StatusProfiling, "retry")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProfiling, job.Status)
}

func TestTracker_FailFromAnyStatus(t *testing.T) {
	for _, s := range allStatuses {
		st := newMemStore(models.Job{ID: "j", Status: s})
		require.NoError(t, newTracker(st).Fail(context.Background(), "j", errors.New("boom")))
		job, _ := st.GetJob(context.Background(), "j")
		assert.Equal(t, models.StatusFailed, job.Status, "from %s", s)
		if s != models.StatusFailed {
			assert.NotNil(t, job.CompletedAt)
			assert.Len(t, st.events, 1)
		}
	}
}

func TestTracker_ConcurrentStartOnlyOneWins(t *testing.T) {
	st := newMemStore(models.Job{ID: "j", Status: models.StatusPending})
	tr := newTracker(st)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.Transition(context.Background(), "j", models.StatusProfiling, ""); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
