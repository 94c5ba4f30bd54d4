package command

import (
	"context"
	"sync"
)

// Tracker 在内存中保存最近的命令结果。
type Tracker struct {
	mu      sync.Mutex
	limit   int
	results map[string]Outcome
	order   []string
	waiters map[string][]chan Outcome
}

// NewTracker 创建一个最多保留 limit 条结果的 Tracker。
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 256
	}
	return &Tracker{
		limit:   limit,
		results: make(map[string]Outcome),
		waiters: make(map[string][]chan Outcome),
	}
}

// Record 保存结果并唤醒等待者。
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.results[o.CommandID]; !exists {
		t.order = append(t.order, o.CommandID)
	}
	t.results[o.CommandID] = o
	for len(t.order) > t.limit {
		delete(t.results, t.order[0])
		t.order = t.order[1:]
	}
	for _, ch := range t.waiters[o.CommandID] {
		ch <- o
	}
	delete(t.waiters, o.CommandID)
}

// Get 返回已记录的结果。
func (t *Tracker) Get(id string) (Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.results[id]
	return o, ok
}

// Wait 阻塞直到命令结果可用或 ctx 结束。
func (t *Tracker) Wait(ctx context.Context, id string) (Outcome, error) {
	t.mu.Lock()
	if o, ok := t.results[id]; ok {
		t.mu.Unlock()
		return o, nil
	}
	ch := make(chan Outcome, 1)
	t.waiters[id] = append(t.waiters[id], ch)
	t.mu.Unlock()

	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		t.mu.Lock()
		list := t.waiters[id]
		for i, c := range list {
			if c == ch {
				t.waiters[id] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(t.waiters[id]) == 0 {
			delete(t.waiters, id)
		}
		t.mu.Unlock()
		return Outcome{}, ctx.Err()
	}
}
