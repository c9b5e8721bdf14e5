package executor

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool ограничивает число одновременных вызовов агентов.
// Один Pool разделяется всеми runs процесса.
type Pool struct {
	sem   *semaphore.Weighted
	limit int
}

// NewPool создаёт пул на limit слотов.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Run занимает слот, выполняет fn и освобождает слот.
//
// Если ctx отменён до получения слота, fn не вызывается и возвращается
// ctx.Err(). Для nil пула fn выполняется без ограничений.
func (p *Pool) Run(ctx context.Context, fn func()) error {
	if p == nil || p.sem == nil {
		fn()
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	// Acquire может вернуть слот и для уже отменённого ctx
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}

// Limit возвращает число слотов.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return p.limit
}
