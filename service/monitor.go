package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// QualityMonitor runs one periodic sampler for an active session. The
// sampler goroutine is owned here so its lifecycle is deterministic: Stop
// cancels exactly once and blocks until any in-flight tick has returned.
type QualityMonitor struct {
	interval time.Duration
	sample   func(ctx context.Context)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	running  atomic.Bool
}

func NewQualityMonitor(interval time.Duration, sample func(ctx context.Context)) *QualityMonitor {
	return &QualityMonitor{
		interval: interval,
		sample:   sample,
		done:     make(chan struct{}),
	}
}

func (m *QualityMonitor) Start(ctx context.Context) {
	m.running.Store(true)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample(ctx)
			}
		}
	}()
}

// Stop cancels the sampler and waits for it to exit. Safe to call more
// than once; only the first call does anything.
func (m *QualityMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		m.running.Store(false)
	})
}

func (m *QualityMonitor) Running() bool {
	return m.running.Load()
}
