// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"sync"
	"time"
)

const recordTimeout = 5 * time.Second

// Recorder records successes on a background goroutine so that callers on the
// streaming path never wait for the cache or its store.
type Recorder struct {
	cache *Cache
	wg    sync.WaitGroup
}

// NewRecorder wraps c.
func NewRecorder(c *Cache) *Recorder {
	return &Recorder{cache: c}
}

// Record schedules RecordSuccess for t and returns immediately.
func (r *Recorder) Record(t Target) {
	if r == nil || r.cache == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		r.cache.RecordSuccess(ctx, t)
	}()
}

// Wait blocks until every scheduled record has been applied.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
