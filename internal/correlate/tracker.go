package correlate

import "sync"

// Tracker сопоставляет correlation id с узлом для асинхронных ответов.
// Безопасен для конкурентного использования.
type Tracker struct {
	mu      sync.RWMutex
	pending map[string]string
}

// NewTracker создаёт пустой Tracker.
func NewTracker() *Tracker {
	return &Tracker{pending: make(map[string]string)}
}

// Track запоминает, что ответ с correlationID относится к taskID.
func (t *Tracker) Track(correlationID, taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[correlationID] = taskID
}

// Resolve возвращает узел для correlationID.
func (t *Tracker) Resolve(correlationID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	taskID, ok := t.pending[correlationID]
	return taskID, ok
}

// Forget удаляет запись после получения финального ответа.
func (t *Tracker) Forget(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, correlationID)
}

// Len возвращает количество ожидающих ответов.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}
