// Package cache — in-process кэш итогов завершённых runs на ristretto.
//
// Итоги хранятся как JSON по ID run. Кэш нужен для resume:
// повторный запрос с resume_run_id переиспользует успешные узлы.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"

	"github.com/shaiso/Ensemble/internal/domain"
)

// Значения по умолчанию.
const (
	DefaultMaxCost = 64 << 20 // 64 MiB
	DefaultTTL     = time.Hour
)

// ErrNotStored — ristretto отклонил запись (вытеснение или слишком большой размер).
var ErrNotStored = errors.New("cache rejected value")

// OutcomeCache хранит итоги runs.
type OutcomeCache struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// New создаёт кэш. maxCostBytes — суммарный размер значений в байтах.
func New(maxCostBytes int64, ttl time.Duration) (*OutcomeCache, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = DefaultMaxCost
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x ожидаемых элементов
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &OutcomeCache{c: c, ttl: ttl}, nil
}

func key(runID uuid.UUID) string {
	return "outcomes:" + runID.String()
}

// PutOutcomes сохраняет итоги run.
//
// Запись синхронная: после возврата GetOutcomes уже видит значение.
func (c *OutcomeCache) PutOutcomes(runID uuid.UUID, outcomes map[string]domain.TaskOutcome) error {
	data, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	if !c.c.SetWithTTL(key(runID), data, int64(len(data)), c.ttl) {
		return fmt.Errorf("%w: run %s (%d bytes)", ErrNotStored, runID, len(data))
	}
	c.c.Wait()
	return nil
}

// GetOutcomes возвращает итоги run. ok=false, если их нет или запись битая.
func (c *OutcomeCache) GetOutcomes(runID uuid.UUID) (map[string]domain.TaskOutcome, bool) {
	data, found := c.c.Get(key(runID))
	if !found {
		return nil, false
	}

	var outcomes map[string]domain.TaskOutcome
	if err := json.Unmarshal(data, &outcomes); err != nil {
		return nil, false
	}
	return outcomes, true
}

// Delete удаляет итоги run.
func (c *OutcomeCache) Delete(runID uuid.UUID) {
	c.c.Del(key(runID))
}

// Close освобождает ресурсы кэша.
func (c *OutcomeCache) Close() {
	c.c.Close()
}
