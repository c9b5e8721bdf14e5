package domain

// NodeStatus — статус узла графа в рамках одного run.
//
// Жизненный цикл:
//
//	PENDING → READY → RUNNING → SUCCEEDED
//	                          ↘ FAILED
//	        ↘ SKIPPED (зависимость не выполнена или run отменён)
type NodeStatus string

const (
	// NodeStatusPending — узел ждёт своего уровня.
	NodeStatusPending NodeStatus = "PENDING"

	// NodeStatusReady — все зависимости выполнены, узел ждёт слот.
	NodeStatusReady NodeStatus = "READY"

	// NodeStatusRunning — вызов агента в процессе.
	NodeStatusRunning NodeStatus = "RUNNING"

	// NodeStatusSucceeded — агент вернул результат.
	NodeStatusSucceeded NodeStatus = "SUCCEEDED"

	// NodeStatusFailed — вызов завершился ошибкой (после всех retry).
	NodeStatusFailed NodeStatus = "FAILED"

	// NodeStatusSkipped — узел не запускался.
	NodeStatusSkipped NodeStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusSucceeded, NodeStatusFailed, NodeStatusSkipped:
		return true
	default:
		return false
	}
}

// OutcomeStatus — итог выполнения одного узла.
type OutcomeStatus string

const (
	// OutcomeSucceeded — получен финальный ответ агента.
	OutcomeSucceeded OutcomeStatus = "SUCCEEDED"

	// OutcomeFailed — ошибка агента, обрыв стрима или исчерпаны попытки.
	OutcomeFailed OutcomeStatus = "FAILED"

	// OutcomeTimedOut — последняя попытка превысила таймаут.
	OutcomeTimedOut OutcomeStatus = "TIMED_OUT"

	// OutcomeSkipped — узел не запускался (упала зависимость или отмена).
	OutcomeSkipped OutcomeStatus = "SKIPPED"
)

// NodeStatus возвращает статус узла, соответствующий итогу.
func (s OutcomeStatus) NodeStatus() NodeStatus {
	switch s {
	case OutcomeSucceeded:
		return NodeStatusSucceeded
	case OutcomeSkipped:
		return NodeStatusSkipped
	default:
		return NodeStatusFailed
	}
}

// Verdict — решение quality gate.
//
// Это данные, а не ошибка: вызывающий код обязан обработать все три варианта.
type Verdict string

const (
	// VerdictApproved — результаты можно отдавать в синтез.
	VerdictApproved Verdict = "APPROVED"

	// VerdictConditional — нужен дополнительный ввод пользователя.
	VerdictConditional Verdict = "CONDITIONAL_NEEDS_INPUT"

	// VerdictRejected — результаты отклонены.
	VerdictRejected Verdict = "REJECTED"
)

// RunPhase — фаза orchestration run.
//
// Жизненный цикл:
//
//	BUILT → EXECUTING → CORRELATING → VALIDATING → SYNTHESIZING → DONE
//	                                             ↘ AWAITING_USER
//	                                             ↘ FAILED (REJECTED)
//	(любая нефинальная) → FAILED (ошибка графа или отмена)
type RunPhase string

const (
	RunPhaseBuilt        RunPhase = "BUILT"
	RunPhaseExecuting    RunPhase = "EXECUTING"
	RunPhaseCorrelating  RunPhase = "CORRELATING"
	RunPhaseValidating   RunPhase = "VALIDATING"
	RunPhaseSynthesizing RunPhase = "SYNTHESIZING"
	RunPhaseAwaitingUser RunPhase = "AWAITING_USER"
	RunPhaseDone         RunPhase = "DONE"
	RunPhaseFailed       RunPhase = "FAILED"
)

// IsTerminal возвращает true, если фаза финальная для движка.
func (p RunPhase) IsTerminal() bool {
	switch p {
	case RunPhaseDone, RunPhaseFailed, RunPhaseAwaitingUser:
		return true
	default:
		return false
	}
}

// allowedTransitions — допустимые переходы между фазами.
var allowedTransitions = map[RunPhase][]RunPhase{
	RunPhaseBuilt:        {RunPhaseExecuting, RunPhaseFailed},
	RunPhaseExecuting:    {RunPhaseExecuting, RunPhaseCorrelating, RunPhaseFailed},
	RunPhaseCorrelating:  {RunPhaseValidating, RunPhaseFailed},
	RunPhaseValidating:   {RunPhaseSynthesizing, RunPhaseAwaitingUser, RunPhaseFailed},
	RunPhaseSynthesizing: {RunPhaseDone, RunPhaseFailed},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to RunPhase) bool {
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
