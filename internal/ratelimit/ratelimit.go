// Package ratelimit ограничивает число запросов на ключ в фиксированном окне.
// Есть реализация в памяти процесса и общая для всех экземпляров на Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

// Limiter считает запросы по ключу
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) Decision
	Close()
}

// Decision результат проверки лимита
type Decision struct {
	Allowed   bool
	Count     int
	Remaining int
	WindowEnd time.Time
}

func newDecision(count, limit int, windowEnd time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= limit, Count: count, Remaining: remaining, WindowEnd: windowEnd}
}

type window struct {
	count int
	end   time.Time
}

// Memory лимитер в памяти процесса; устаревшие окна периодически удаляются
type Memory struct {
	mu      sync.Mutex
	entries map[string]window
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]window),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Memory) Allow(_ context.Context, key string, limit int, win time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if win <= 0 {
		win = time.Minute
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.entries[key]
	if !ok || !now.Before(w.end) {
		w = window{end: now.Add(win)}
	}
	if w.count >= limit {
		return newDecision(w.count+1, limit, w.end)
	}
	w.count++
	m.entries[key] = w
	return newDecision(w.count, limit, w.end)
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup(m.now())
		case <-m.stopCh:
			return
		}
	}
}

func (m *Memory) cleanup(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, w := range m.entries {
		if !now.Before(w.end) {
			delete(m.entries, key)
		}
	}
}

func (m *Memory) Close() {
	m.once.Do(func() {
		close(m.stopCh)
	})
}
