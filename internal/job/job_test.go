package job

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcs7/translate-php-tool/internal/domain"
)

func TestNewID_Format(t *testing.T) {
	id := NewID()
	assert.True(t, domain.ValidJobID(id), "id %q must be 8 hex chars", id)
	assert.NotEqual(t, id, NewID())
}

func TestJob_StatusTransitions(t *testing.T) {
	j := New(NewID(), "", t.TempDir(), 0)
	assert.Equal(t, domain.JobStatusPending, j.Status())

	j.SetStatus(domain.JobStatusRunning)
	snap := j.Snapshot()
	require.NotNil(t, snap.StartedAt)
	assert.Nil(t, snap.FinishedAt)

	j.SetStatus(domain.JobStatusCompleted)
	snap = j.Snapshot()
	require.NotNil(t, snap.FinishedAt)

	// Terminal states are sticky.
	j.SetStatus(domain.JobStatusRunning)
	assert.Equal(t, domain.JobStatusCompleted, j.Status())
}

func TestJob_ProgressFromStrings(t *testing.T) {
	j := New(NewID(), "", t.TempDir(), 0)
	j.SetTotals(2, 200, 0)

	assert.Equal(t, 25, j.AddTranslated(50))
	assert.Equal(t, 100, j.AddTranslated(300), "progress is capped")
}

func TestJob_ProgressFallsBackToFiles(t *testing.T) {
	j := New(NewID(), "", t.TempDir(), 0)
	j.SetTotals(4, 0, 0)
	j.FileDone()
	assert.Equal(t, 25, j.Snapshot().Progress)
}

func TestJob_ErrorsKeepMostRecent(t *testing.T) {
	j := New(NewID(), "", t.TempDir(), 0)
	for i := 0; i < maxErrors+10; i++ {
		j.AddError(fmt.Sprintf("file-%d: read failed", i))
	}
	j.AddError("translation aborted: provider chain exhausted")

	errs := j.Snapshot().Errors
	require.Len(t, errs, maxErrors)
	assert.Equal(t, "translation aborted: provider chain exhausted", errs[maxErrors-1],
		"the last appended error survives overflow")
	assert.NotContains(t, errs, "file-0: read failed", "oldest entries are dropped")
}

func TestRegistry_AddEnforcesLiveCap(t *testing.T) {
	r := NewRegistry(2, nil, nil)
	a := New("aaaa0001", "", t.TempDir(), 0)
	b := New("aaaa0002", "", t.TempDir(), 0)
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))

	c := New("aaaa0003", "", t.TempDir(), 0)
	assert.ErrorIs(t, r.Add(c), domain.ErrTooManyJobs)

	// A terminal job frees a slot.
	a.SetStatus(domain.JobStatusCompleted)
	assert.NoError(t, r.Add(c))
}

func TestRegistry_GetAndRemove(t *testing.T) {
	r := NewRegistry(3, nil, nil)
	j := New("aaaa0001", "", t.TempDir(), 0)
	require.NoError(t, r.Add(j))

	got, err := r.Get("aaaa0001")
	require.NoError(t, err)
	assert.Same(t, j, got)

	require.NoError(t, r.Remove(context.Background(), "aaaa0001"))
	_, err = r.Get("aaaa0001")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.ErrorIs(t, r.Remove(context.Background(), "aaaa0001"), domain.ErrJobNotFound)
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	r := NewRegistry(5, nil, nil)
	old := New("aaaa0001", "", t.TempDir(), 0)
	old.Created = time.Now().Add(-time.Hour)
	recent := New("aaaa0002", "", t.TempDir(), 0)
	require.NoError(t, r.Add(old))
	require.NoError(t, r.Add(recent))

	snaps := r.List()
	require.Len(t, snaps, 2)
	assert.Equal(t, "aaaa0002", snaps[0].JobID)
	assert.Equal(t, "aaaa0001", snaps[1].JobID)
}

// fakeStore is an in-memory Store for registry tests.
type fakeStore struct {
	rows map[string]domain.JobSnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]domain.JobSnapshot)}
}

func (f *fakeStore) SaveJob(_ context.Context, snap domain.JobSnapshot) error {
	f.rows[snap.JobID] = snap
	return nil
}

func (f *fakeStore) DeleteJob(_ context.Context, jobID string) error {
	delete(f.rows, jobID)
	return nil
}

func (f *fakeStore) ListJobs(_ context.Context, limit int) ([]domain.JobSnapshot, error) {
	var out []domain.JobSnapshot
	for _, s := range f.rows {
		if len(out) >= limit {
			break
		}
		out = append(out, s)
	}
	return out, nil
}

func TestRegistry_ListMerged(t *testing.T) {
	store := newFakeStore()
	store.rows["bbbb0001"] = domain.JobSnapshot{
		JobID:     "bbbb0001",
		Owner:     "carla",
		Status:    domain.JobStatusCompleted,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	r := NewRegistry(5, store, nil)

	live := New("aaaa0001", "carla", t.TempDir(), 0)
	require.NoError(t, r.Add(live))
	// The mirror also holds a stale row for the live job; the live map wins.
	r.Persist(context.Background(), live)

	merged := r.ListMerged(context.Background(), "")
	require.Len(t, merged, 2)
	assert.Equal(t, "aaaa0001", merged[0].JobID)
	assert.Equal(t, "bbbb0001", merged[1].JobID)

	byOwner := r.ListMerged(context.Background(), "carla")
	assert.Len(t, byOwner, 2)
	assert.Empty(t, r.ListMerged(context.Background(), "nobody"))
}

func TestRegistry_ExpiredBefore(t *testing.T) {
	r := NewRegistry(5, nil, nil)

	done := New("aaaa0001", "", t.TempDir(), 0)
	done.SetStatus(domain.JobStatusCompleted)
	running := New("aaaa0002", "", t.TempDir(), 0)
	running.SetStatus(domain.JobStatusRunning)
	require.NoError(t, r.Add(done))
	require.NoError(t, r.Add(running))

	expired := r.ExpiredBefore(time.Now().Add(time.Minute))
	require.Len(t, expired, 1)
	assert.Equal(t, "aaaa0001", expired[0].ID)

	assert.Empty(t, r.ExpiredBefore(time.Now().Add(-time.Hour)))
}
