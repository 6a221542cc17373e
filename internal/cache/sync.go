package cache

import (
	"context"
	"sync"
)

// waitUntil blocks on cond until pred returns true or ctx is canceled.
// The caller must hold cond.L before calling; it is still held on return.
// This is the one place the entry state machine pays for Go having no
// cancelable condition variable, shared by broadcaster and doneSignal
// below instead of duplicated in each.
func waitUntil(ctx context.Context, cond *sync.Cond, pred func() bool) error {
	if pred() {
		return nil
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			cond.L.Lock()
			cond.Broadcast()
			cond.L.Unlock()
		case <-stop:
		}
	}()

	for !pred() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cond.Wait()
	}
	return nil
}

// broadcaster carries a download's available prefix to any number of
// waiters without them holding the entry's guard across the wait: a
// monotonically increasing value plus a closed flag.
type broadcaster struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  int64
	closed bool
}

func newBroadcaster() *broadcaster {
	b := &broadcaster{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// publish advances the published value. Values must be non-decreasing: the
// available prefix only ever grows.
func (b *broadcaster) publish(v int64) {
	b.mu.Lock()
	if v > b.value {
		b.value = v
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// close marks the channel closed, as when the downloader goroutine exits
// for any reason (finished, failed, aborted).
func (b *broadcaster) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// waitAtLeast blocks until the published value reaches target or the
// channel closes.
func (b *broadcaster) waitAtLeast(ctx context.Context, target int64) (value int64, closed bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	err = waitUntil(ctx, b.cond, func() bool { return b.value >= target || b.closed })
	return b.value, b.closed, err
}

// waitClosed blocks until the channel closes, regardless of value —
// writes during Downloading wait for the full settle.
func (b *broadcaster) waitClosed(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return waitUntil(ctx, b.cond, func() bool { return b.closed })
}

func (b *broadcaster) snapshot() (value int64, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.closed
}

// doneSignal is a per-upload-attempt one-shot result: fired at most once,
// with true meaning the upload committed and false meaning it was
// superseded by a newer edit.
type doneSignal struct {
	mu      sync.Mutex
	cond    *sync.Cond
	fired   bool
	success bool
}

func newDoneSignal() *doneSignal {
	d := &doneSignal{}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *doneSignal) fire(success bool) {
	d.mu.Lock()
	if !d.fired {
		d.fired = true
		d.success = success
	}
	d.cond.Broadcast()
	d.mu.Unlock()
}

func (d *doneSignal) wait(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := waitUntil(ctx, d.cond, func() bool { return d.fired }); err != nil {
		return false, err
	}
	return d.success, nil
}
