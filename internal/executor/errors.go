package executor

import "errors"

var (
	// ErrDependencyNotSucceeded — зависимость узла не завершилась успешно.
	ErrDependencyNotSucceeded = errors.New("dependency did not succeed")

	// ErrRunCancelled — run отменён до запуска узла.
	ErrRunCancelled = errors.New("run cancelled before dispatch")

	// ErrInstructionRender — не удалось отрендерить инструкцию узла.
	ErrInstructionRender = errors.New("instruction render failed")
)
