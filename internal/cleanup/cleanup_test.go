package cleanup

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/settings"
	"github.com/54b3r/brandrag/internal/vector"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memRepo struct {
	mu        sync.Mutex
	recs      []vector.Record
	scanErr   map[string]error
	deleteErr error
	// failAfter lets that many batches succeed before deleteErr applies.
	failAfter int
	batches   [][]string
	sweeps    atomic.Int32
}

func (m *memRepo) Insert(context.Context, *vector.Record) error { return nil }

func (m *memRepo) FindByContentID(context.Context, string, string) (*vector.Record, error) {
	return nil, errors.New("not implemented")
}

func (m *memRepo) Update(context.Context, *vector.Record, int) error { return nil }

func (m *memRepo) Scan(_ context.Context, userID string, _ vector.ContentType) ([]vector.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.scanErr[userID]; err != nil {
		return nil, err
	}
	var out []vector.Record
	for _, r := range m.recs {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) DeleteBatch(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil && len(m.batches) >= m.failAfter {
		return m.deleteErr
	}
	m.batches = append(m.batches, slices.Clone(ids))
	m.recs = slices.DeleteFunc(m.recs, func(r vector.Record) bool { return slices.Contains(ids, r.ID) })
	return nil
}

func (m *memRepo) CountCreatedSince(context.Context, string, time.Time) (int, error) { return 0, nil }

func (m *memRepo) ListUsers(context.Context) ([]string, error) {
	m.sweeps.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []string
	for _, r := range m.recs {
		if !slices.Contains(users, r.UserID) {
			users = append(users, r.UserID)
		}
	}
	return users, nil
}

type staticSource struct{ data string }

func (s staticSource) LoadSystemConfig(context.Context) ([]byte, error) { return []byte(s.data), nil }
func (s staticSource) SaveSystemConfig(context.Context, []byte) error   { return nil }

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

const enabled = `{"vectorCleanup":{"enabled":true,"retentionDays":90,"minPerformanceThreshold":0.3}}`

func vec(id, userID string, ageDays int, perf float64) vector.Record {
	return vector.Record{
		ID:     id,
		UserID: userID,
		Metadata: vector.Metadata{
			Performance: perf,
			CreatedAt:   now.AddDate(0, 0, -ageDays),
		},
	}
}

func newScheduler(repo vector.Repository, cfg string) *Scheduler {
	return New(Config{
		Repo:     repo,
		Settings: settings.NewCache(staticSource{data: cfg}),
		Now:      func() time.Time { return now },
		Logger:   logging.Discard(),
	})
}

func Test_Cleanup_DualCondition(t *testing.T) {
	t.Parallel()

	repo := &memRepo{recs: []vector.Record{
		vec("old-high", "u1", 120, 0.9),
		vec("young-low", "u1", 10, 0.1),
		vec("old-low", "u1", 120, 0.1),
		vec("other-user", "u2", 120, 0.1),
	}}
	s := newScheduler(repo, enabled)

	n, err := s.Cleanup(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, repo.batches, 1)
	assert.Equal(t, []string{"old-low"}, repo.batches[0])

	left, _ := repo.Scan(context.Background(), "u1", "")
	assert.Len(t, left, 2)
}

func Test_Cleanup_RetentionOverride(t *testing.T) {
	t.Parallel()

	repo := &memRepo{recs: []vector.Record{vec("a", "u1", 20, 0.1), vec("b", "u1", 5, 0.1)}}
	s := newScheduler(repo, enabled)

	n, err := s.Cleanup(context.Background(), "u1", 14)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func Test_Cleanup_Disabled(t *testing.T) {
	t.Parallel()

	repo := &memRepo{recs: []vector.Record{vec("a", "u1", 400, 0)}}
	s := newScheduler(repo, `{"vectorCleanup":{"enabled":false}}`)

	n, err := s.Cleanup(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, repo.batches)

	sum, err := s.CleanupAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func Test_Cleanup_Batches(t *testing.T) {
	t.Parallel()

	repo := &memRepo{}
	for i := range BatchSize + 3 {
		repo.recs = append(repo.recs, vec(fmt.Sprintf("v%d", i), "u1", 200, 0.05))
	}
	s := newScheduler(repo, enabled)

	n, err := s.Cleanup(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, BatchSize+3, n)
	require.Len(t, repo.batches, 2)
	assert.Len(t, repo.batches[0], BatchSize)
	assert.Len(t, repo.batches[1], 3)
}

func Test_Cleanup_DeleteFailure(t *testing.T) {
	t.Parallel()

	repo := &memRepo{recs: []vector.Record{vec("a", "u1", 200, 0.1)}, deleteErr: errors.New("locked")}
	s := newScheduler(repo, enabled)

	n, err := s.Cleanup(context.Background(), "u1", 0)
	require.Error(t, err)
	assert.Zero(t, n)
}

func Test_CleanupAll_ContinuesPastFailures(t *testing.T) {
	t.Parallel()

	repo := &memRepo{
		recs: []vector.Record{
			vec("a1", "a", 200, 0.1),
			vec("b1", "b", 200, 0.1),
			vec("c1", "c", 200, 0.1),
			vec("c2", "c", 200, 0.2),
		},
		scanErr: map[string]error{"b": errors.New("partition unavailable")},
	}
	s := newScheduler(repo, enabled)

	sum, err := s.CleanupAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{TotalCleaned: 3, UsersProcessed: 2, UsersFailed: 1}, sum)
}

func Test_CleanupAll_CountsPartialDeletes(t *testing.T) {
	t.Parallel()

	repo := &memRepo{
		recs:      []vector.Record{vec("b1", "b", 200, 0.1)},
		deleteErr: errors.New("disk full"),
		failAfter: 2,
	}
	for i := range BatchSize + 2 {
		repo.recs = append(repo.recs, vec(fmt.Sprintf("a%d", i), "a", 200, 0.1))
	}
	s := newScheduler(repo, enabled)

	sum, err := s.CleanupAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{TotalCleaned: 1 + BatchSize, UsersProcessed: 1, UsersFailed: 1}, sum)

	n, err := s.Cleanup(context.Background(), "a", 0)
	require.Error(t, err)
	assert.Zero(t, n, "the remaining batch still fails")
}

func Test_Run_SweepsUntilCancelled(t *testing.T) {
	t.Parallel()

	repo := &memRepo{recs: []vector.Record{vec("a", "u1", 200, 0.1)}}
	s := newScheduler(repo, enabled)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return repo.sweeps.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	left, _ := repo.Scan(context.Background(), "u1", "")
	assert.Empty(t, left)
}

func Test_Evictable(t *testing.T) {
	t.Parallel()

	cutoff := now.AddDate(0, 0, -90)
	tests := []struct {
		name string
		age  int
		perf float64
		want bool
	}{
		{"old and low", 91, 0.1, true},
		{"old and high", 91, 0.9, false},
		{"young and low", 10, 0.1, false},
		{"at floor", 91, 0.3, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Evictable(vec("x", "u", tc.age, tc.perf), cutoff, 0.3))
		})
	}
}
