package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrNoPlan — запрос не удалось разложить на узлы.
	ErrNoPlan = errors.New("no plan for query")

	// ErrInvalidPlan — план не разбирается или не проходит валидацию.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrUnknownTemplate — в конфигурации нет плана с таким именем.
	ErrUnknownTemplate = errors.New("unknown plan template")

	// ErrPlannerAgent — агент-планировщик не вернул пригодный план.
	ErrPlannerAgent = errors.New("planner agent failed")

	// ErrRunCancelled — run прерван отменой контекста вызывающей стороны.
	ErrRunCancelled = errors.New("orchestration run cancelled")

	// ErrSynthesis — стадия синтеза завершилась ошибкой.
	ErrSynthesis = errors.New("synthesis failed")

	// ErrRejected — quality gate отклонил результаты.
	// Не возвращается как error: это текст причины FAILED-run.
	ErrRejected = errors.New("rejected by quality gate")

	// ErrOrchestratorStopped — сервис остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
