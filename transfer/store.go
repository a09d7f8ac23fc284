package transfer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("transfer: job not found")

// Store holds job records. A job is only mutated by the worker running
// it; everyone else reads snapshots.
type Store interface {
	Create(ctx context.Context, job *Job) error
	// Get returns a snapshot of the job.
	Get(ctx context.Context, id string) (*Job, error)
	// Update applies fn to the stored job atomically.
	Update(ctx context.Context, id string, fn func(*Job)) error
	// List returns the jobs of userID, newest first. An empty userID
	// lists everything.
	List(ctx context.Context, userID string) ([]*Job, error)
}

// MemoryStore keeps jobs in process memory. Records live until the
// process exits.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if userID == "" || job.UserID == userID {
			jobs = append(jobs, job.clone())
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	return jobs, nil
}

var _ Store = (*MemoryStore)(nil)
