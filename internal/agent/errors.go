package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	// ErrUnknownAgent — агента нет в реестре.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrStreamTruncated — стрим закончился без финального чанка.
	ErrStreamTruncated = errors.New("agent stream ended without final chunk")

	// ErrIdleTimeout — между чанками стрима прошло больше ReadTimeout.
	ErrIdleTimeout = errors.New("agent stream idle timeout")

	// ErrAttemptTimeout — попытка превысила AttemptTimeout.
	ErrAttemptTimeout = errors.New("agent attempt timeout")

	// ErrInvalidAgent — некорректная конфигурация агента.
	ErrInvalidAgent = errors.New("invalid agent config")
)

// TransientAgentError — временная ошибка агента: отказ соединения, 5xx, 429.
// Такие ошибки повторяются.
type TransientAgentError struct {
	Agent      string
	StatusCode int // 0, если ответа не было
	Err        error
}

func (e *TransientAgentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("agent %s: transient error (HTTP %d): %v", e.Agent, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("agent %s: transient error: %v", e.Agent, e.Err)
}

func (e *TransientAgentError) Unwrap() error { return e.Err }

// NonRetryableAgentError — ошибка, которую повторять бессмысленно:
// 4xx, некорректный запрос, явный отказ агента.
type NonRetryableAgentError struct {
	Agent      string
	StatusCode int
	Err        error
}

func (e *NonRetryableAgentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("agent %s: rejected (HTTP %d): %v", e.Agent, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("agent %s: rejected: %v", e.Agent, e.Err)
}

func (e *NonRetryableAgentError) Unwrap() error { return e.Err }

// ClassifyStatus превращает HTTP-код ответа в типизированную ошибку.
// 5xx и 429 — временные, остальные 4xx — нет. Для 2xx/3xx возвращает nil.
func ClassifyStatus(agentName string, code int, err error) error {
	switch {
	case code >= 500 || code == 429:
		return &TransientAgentError{Agent: agentName, StatusCode: code, Err: err}
	case code >= 400:
		return &NonRetryableAgentError{Agent: agentName, StatusCode: code, Err: err}
	default:
		return nil
	}
}

// IsTimeout возвращает true для таймаутов попытки и простоя стрима.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrAttemptTimeout) || errors.Is(err, ErrIdleTimeout)
}

// IsRetryable определяет, можно ли повторить попытку после ошибки.
//
// Повторяются таймауты, TransientAgentError и сетевые ошибки без
// явной классификации. NonRetryableAgentError и обрыв стрима не повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nonRetryable *NonRetryableAgentError
	if errors.As(err, &nonRetryable) {
		return false
	}
	if errors.Is(err, ErrStreamTruncated) {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	var transient *TransientAgentError
	if errors.As(err, &transient) {
		return true
	}
	return isNetworkError(err)
}

func isNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// classifyAttemptError приводит ошибку попытки к таксономии клиента.
//
// Отмена по watchdog превращается в ErrIdleTimeout, по дедлайну попытки —
// в ErrAttemptTimeout. Неклассифицированные сетевые ошибки становятся
// TransientAgentError.
func classifyAttemptError(ctx context.Context, agentName string, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		switch {
		case errors.Is(cause, ErrIdleTimeout):
			return fmt.Errorf("agent %s: %w", agentName, ErrIdleTimeout)
		case errors.Is(cause, context.DeadlineExceeded):
			return fmt.Errorf("agent %s: %w", agentName, ErrAttemptTimeout)
		}
	}
	if err == nil {
		return nil
	}

	var transient *TransientAgentError
	var nonRetryable *NonRetryableAgentError
	if errors.As(err, &transient) || errors.As(err, &nonRetryable) || errors.Is(err, ErrStreamTruncated) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("agent %s: %w: %v", agentName, ErrAttemptTimeout, err)
	}
	if isNetworkError(err) {
		return &TransientAgentError{Agent: agentName, Err: err}
	}
	return err
}
