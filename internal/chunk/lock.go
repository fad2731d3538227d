package chunk

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// pathLocks сериализует запись в один удалённый путь. Блокировка старше
// timeout считается зависшей и снимается принудительно.
type pathLocks struct {
	logger  *slog.Logger
	now     func() time.Time
	locks   map[string]*pathLock
	timeout time.Duration
	mu      sync.Mutex
}

type pathLock struct {
	acquired time.Time
	done     chan struct{}
	once     sync.Once
}

func newPathLocks(timeout time.Duration, logger *slog.Logger) *pathLocks {
	return &pathLocks{
		logger:  logger,
		now:     time.Now,
		locks:   make(map[string]*pathLock),
		timeout: timeout,
	}
}

// lock waits for the previous writer on path and takes the lock.
func (p *pathLocks) lock(ctx context.Context, path string) (func(), error) {
	for {
		p.mu.Lock()
		held, ok := p.locks[path]
		if !ok || p.stale(held) {
			if ok {
				p.logger.Warn("Force-releasing stale write lock",
					"path", path, "held_for", p.now().Sub(held.acquired))
				held.release()
			}
			l := &pathLock{acquired: p.now(), done: make(chan struct{})}
			p.locks[path] = l
			p.mu.Unlock()
			return func() { p.unlock(path, l) }, nil
		}
		p.mu.Unlock()

		if err := p.await(ctx, held); err != nil {
			return nil, err
		}
	}
}

// wait blocks until no write is in flight on path.
func (p *pathLocks) wait(ctx context.Context, path string) error {
	for {
		p.mu.Lock()
		held, ok := p.locks[path]
		if !ok || p.stale(held) {
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		if err := p.await(ctx, held); err != nil {
			return err
		}
	}
}

func (p *pathLocks) await(ctx context.Context, held *pathLock) error {
	remaining := p.timeout - p.now().Sub(held.acquired)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-held.done:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pathLocks) unlock(path string, l *pathLock) {
	p.mu.Lock()
	// Блокировку могли уже снять как зависшую и выдать другому писателю
	if p.locks[path] == l {
		delete(p.locks, path)
	}
	p.mu.Unlock()
	l.release()
}

func (p *pathLocks) stale(l *pathLock) bool {
	return p.timeout > 0 && p.now().Sub(l.acquired) >= p.timeout
}

func (l *pathLock) release() {
	l.once.Do(func() { close(l.done) })
}
