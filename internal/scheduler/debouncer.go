// Package scheduler coalesces bursts of keyed events into a single callback.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// FlushFunc обрабатывает накопленные ключи (в порядке первого добавления).
type FlushFunc func(ctx context.Context, keys []string) error

// Debouncer собирает ключи и вызывает FlushFunc один раз после паузы window.
// Каждый Add сдвигает таймер. При window <= 0 таймер не используется и ключи
// обрабатываются только через Flush: так тесты не зависят от реального времени.
type Debouncer struct {
	ctx     context.Context
	fn      FlushFunc
	timer   *time.Timer
	cancel  context.CancelFunc
	pending map[string]struct{}
	order   []string
	window  time.Duration
	mu      sync.Mutex
	runMu   sync.Mutex // FlushFunc никогда не выполняется параллельно
	stopped bool
}

// NewDebouncer creates a debouncer. Stop must be called to release the timer.
func NewDebouncer(window time.Duration, fn FlushFunc) *Debouncer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		ctx:     ctx,
		cancel:  cancel,
		fn:      fn,
		window:  window,
		pending: make(map[string]struct{}),
	}
}

// Add schedules keys. Duplicate keys inside one window collapse into one.
func (d *Debouncer) Add(keys ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	for _, k := range keys {
		if _, ok := d.pending[k]; ok {
			continue
		}
		d.pending[k] = struct{}{}
		d.order = append(d.order, k)
	}

	if d.window <= 0 || len(d.order) == 0 {
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.fire)
		return
	}
	d.timer.Reset(d.window)
}

// Flush runs the callback right away for everything pending.
func (d *Debouncer) Flush(ctx context.Context) error {
	keys := d.take()
	if len(keys) == 0 {
		return nil
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.fn(ctx, keys)
}

// Cancel drops pending keys without running the callback and returns them.
func (d *Debouncer) Cancel() []string {
	return d.take()
}

// Pending returns the number of keys waiting for the next flush.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

// Stop cancels the timer; an in-flight timer callback sees a cancelled context.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = make(map[string]struct{})
	d.order = nil
	d.mu.Unlock()
	d.cancel()
}

func (d *Debouncer) fire() {
	keys := d.take()
	if len(keys) == 0 {
		return
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()
	// Ошибки логирует сам FlushFunc
	_ = d.fn(d.ctx, keys)
}

func (d *Debouncer) take() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	keys := d.order
	d.order = nil
	d.pending = make(map[string]struct{})
	return keys
}
