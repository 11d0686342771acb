package job

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fcs7/translate-php-tool/internal/domain"
)

// Store mirrors job snapshots into durable storage so job history survives
// restarts. A nil Store degrades the registry to memory-only.
type Store interface {
	SaveJob(ctx context.Context, snap domain.JobSnapshot) error
	DeleteJob(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context, limit int) ([]domain.JobSnapshot, error)
}

// Registry is the in-memory job table. It enforces the concurrent-job cap
// at admission time and mirrors state changes into the optional Store.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	maxLive int

	store Store
	log   *slog.Logger
}

// NewRegistry creates a registry admitting at most maxLive non-terminal
// jobs. store may be nil.
func NewRegistry(maxLive int, store Store, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		jobs:    make(map[string]*Job),
		maxLive: maxLive,
		store:   store,
		log:     log,
	}
}

// Add admits a job, rejecting it when the live-job cap is reached.
func (r *Registry) Add(j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := 0
	for _, existing := range r.jobs {
		if !existing.Status().Terminal() {
			live++
		}
	}
	if live >= r.maxLive {
		return domain.ErrTooManyJobs
	}
	r.jobs[j.ID] = j
	return nil
}

// Get returns the job or domain.ErrJobNotFound.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j, nil
}

// Remove drops the job from the table and the durable mirror.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.jobs[id]
	delete(r.jobs, id)
	r.mu.Unlock()

	if !ok {
		return domain.ErrJobNotFound
	}
	if r.store != nil {
		if err := r.store.DeleteJob(ctx, id); err != nil {
			r.log.Warn("job mirror delete failed", "job_id", id, "error", err)
		}
	}
	return nil
}

// List returns snapshots of every job, newest first.
func (r *Registry) List() []domain.JobSnapshot {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	snaps := make([]domain.JobSnapshot, len(jobs))
	for i, j := range jobs {
		snaps[i] = j.Snapshot()
	}
	sort.Slice(snaps, func(i, k int) bool {
		return snaps[i].CreatedAt.After(snaps[k].CreatedAt)
	})
	return snaps
}

// listHistoryLimit caps how many mirrored rows a merged listing pulls in.
const listHistoryLimit = 200

// ListMerged combines the durable mirror with the live table. The live map
// is authoritative for in-flight state; the mirror contributes historical
// jobs that no longer live in memory. An empty owner matches everything.
func (r *Registry) ListMerged(ctx context.Context, owner string) []domain.JobSnapshot {
	snaps := r.List()

	if r.store != nil {
		seen := make(map[string]bool, len(snaps))
		for _, s := range snaps {
			seen[s.JobID] = true
		}
		history, err := r.store.ListJobs(ctx, listHistoryLimit)
		if err != nil {
			r.log.Warn("job mirror list failed", "error", err)
		}
		for _, s := range history {
			if !seen[s.JobID] {
				snaps = append(snaps, s)
			}
		}
		sort.Slice(snaps, func(i, k int) bool {
			return snaps[i].CreatedAt.After(snaps[k].CreatedAt)
		})
	}

	if owner == "" {
		return snaps
	}
	filtered := snaps[:0]
	for _, s := range snaps {
		if s.Owner == owner {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Live counts non-terminal jobs.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if !j.Status().Terminal() {
			n++
		}
	}
	return n
}

// Persist mirrors the job's current snapshot into the durable store.
// Best effort; failures only log.
func (r *Registry) Persist(ctx context.Context, j *Job) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveJob(ctx, j.Snapshot()); err != nil {
		r.log.Warn("job mirror save failed", "job_id", j.ID, "error", err)
	}
}

// ExpiredBefore returns terminal jobs whose finish time is older than the
// cutoff; pending or running jobs are never returned.
func (r *Registry) ExpiredBefore(cutoff time.Time) []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Job
	for _, j := range r.jobs {
		snap := j.Snapshot()
		if !snap.Status.Terminal() {
			continue
		}
		finished := snap.CreatedAt
		if snap.FinishedAt != nil {
			finished = *snap.FinishedAt
		}
		if finished.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out
}
