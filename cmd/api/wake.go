package main

import (
	"context"
	"sync"

	"github.com/ecolocal/eco-api/internal/domain/redemption"
)

// wakeRelay forwards redemption notifications to whichever target is
// configured: Redis pub/sub when available, else the in-process worker.
// Redis takes precedence so workers in other processes wake too.
type wakeRelay struct {
	mu     sync.RWMutex
	target redemption.Notifier
}

// set installs n unless a target already exists.
func (w *wakeRelay) set(n redemption.Notifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target == nil {
		w.target = n
	}
}

func (w *wakeRelay) Notify(ctx context.Context) {
	w.mu.RLock()
	target := w.target
	w.mu.RUnlock()
	if target != nil {
		target.Notify(ctx)
	}
}
