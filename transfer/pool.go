package transfer

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool errors.
var (
	// ErrPoolFull rejects work beyond the running ceiling plus the wait
	// queue.
	ErrPoolFull = errors.New("transfer: too many transfers in flight")
	// ErrPoolClosed rejects work after Shutdown.
	ErrPoolClosed = errors.New("transfer: pool closed")
)

// PoolConfig bounds concurrent transfers.
type PoolConfig struct {
	// Global is the number of jobs running at once across all users.
	Global int
	// PerUser is the number of jobs one user may run at once.
	PerUser int
	// Queue is the number of admitted jobs allowed to wait for a slot.
	// Negative means none may wait.
	Queue int
}

// DefaultPoolConfig matches the config defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Global: 4, PerUser: 2, Queue: 16}
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Running int `json:"running"`
	Waiting int `json:"waiting"`
}

// Pool admits jobs under a global and a per-user ceiling. Admitted jobs
// beyond the ceilings wait; beyond the wait queue Submit fails fast.
type Pool struct {
	cfg    PoolConfig
	global *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	users   map[string]*userSlot
	pending int
	running int
	closed  bool
}

type userSlot struct {
	sem  *semaphore.Weighted
	refs int
}

// NewPool creates a pool. Zero fields take DefaultPoolConfig values.
func NewPool(cfg PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if cfg.Global <= 0 {
		cfg.Global = def.Global
	}
	if cfg.PerUser <= 0 {
		cfg.PerUser = def.PerUser
	}
	if cfg.PerUser > cfg.Global {
		cfg.PerUser = cfg.Global
	}
	switch {
	case cfg.Queue == 0:
		cfg.Queue = def.Queue
	case cfg.Queue < 0:
		cfg.Queue = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		global: semaphore.NewWeighted(int64(cfg.Global)),
		ctx:    ctx,
		cancel: cancel,
		users:  make(map[string]*userSlot),
	}
}

// Submit schedules fn for userID. fn runs exactly once; its context is
// cancelled on Shutdown, including while it still waits for a slot.
func (p *Pool) Submit(userID string, fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.pending >= p.cfg.Global+p.cfg.Queue {
		p.mu.Unlock()
		poolRejected.Inc()
		return ErrPoolFull
	}
	p.pending++
	slot := p.users[userID]
	if slot == nil {
		slot = &userSlot{sem: semaphore.NewWeighted(int64(p.cfg.PerUser))}
		p.users[userID] = slot
	}
	slot.refs++
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(userID, slot, fn)
	return nil
}

func (p *Pool) run(userID string, slot *userSlot, fn func(ctx context.Context)) {
	defer p.wg.Done()
	defer p.release(userID, slot)

	if err := slot.sem.Acquire(p.ctx, 1); err != nil {
		fn(p.ctx)
		return
	}
	defer slot.sem.Release(1)
	if err := p.global.Acquire(p.ctx, 1); err != nil {
		fn(p.ctx)
		return
	}
	defer p.global.Release(1)

	p.setRunning(1)
	defer p.setRunning(-1)
	fn(p.ctx)
}

func (p *Pool) setRunning(delta int) {
	p.mu.Lock()
	p.running += delta
	n := p.running
	p.mu.Unlock()
	poolRunning.Set(float64(n))
}

func (p *Pool) release(userID string, slot *userSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	slot.refs--
	if slot.refs == 0 {
		delete(p.users, userID)
	}
}

// Stats reports current occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Running: p.running, Waiting: p.pending - p.running}
}

// Wait blocks until every submitted job has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown stops admitting work, cancels running and waiting jobs and
// waits for them to return or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
