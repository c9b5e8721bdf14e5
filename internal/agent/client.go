package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultMaxAttempts    = 3
	DefaultBaseBackoff    = time.Second
	DefaultMultiplier     = 2.0
	DefaultMaxBackoff     = 30 * time.Second
	DefaultAttemptTimeout = 60 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

// Config — конфигурация клиента. Только для чтения после создания.
type Config struct {
	// MaxAttempts — общее число попыток, включая первую.
	MaxAttempts int

	// BaseBackoff — задержка перед второй попыткой.
	BaseBackoff time.Duration

	// Multiplier — множитель задержки для каждой следующей попытки.
	Multiplier float64

	// MaxBackoff — верхняя граница задержки.
	MaxBackoff time.Duration

	// AttemptTimeout ограничивает одну попытку целиком.
	AttemptTimeout time.Duration

	// ReadTimeout — максимальная пауза между чанками стрима.
	// Отсчёт начинается с первого чанка: ожидание первого ответа
	// ограничивает только AttemptTimeout. 0 отключает watchdog.
	ReadTimeout time.Duration

	// Correlations находит узел по чужому correlation id в стриме.
	// nil — чужие чанки отбрасываются без поиска владельца.
	Correlations CorrelationResolver

	Logger *slog.Logger
}

// CorrelationResolver возвращает id узла, ожидающего ответ с correlationID.
type CorrelationResolver interface {
	Resolve(correlationID string) (taskID string, ok bool)
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client вызывает удалённых агентов с retry, таймаутами и сборкой стрима.
//
// Client безопасен для конкурентного использования: между вызовами
// разделяется только конфигурация.
type Client struct {
	cfg    Config
	logger *slog.Logger

	// sleep ждёт перед повторной попыткой. Подменяется в тестах.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient создаёт клиент.
func NewClient(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		sleep:  sleepContext,
	}
}

// Config возвращает итоговую конфигурацию клиента.
func (c *Client) Config() Config {
	return c.cfg
}

// InvokeOption настраивает один вызов.
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	fallback map[string]any
}

// WithFallback задаёт payload, который подставляется в итог,
// если агент так и не ответил.
func WithFallback(payload map[string]any) InvokeOption {
	return func(o *invokeOptions) {
		o.fallback = payload
	}
}

// Invoke отправляет инструкцию агенту и возвращает итог.
//
// Итог возвращается всегда. При исчерпании попыток или неповторяемой ошибке
// статус FAILED или TIMED_OUT, в payload подставляется fallback
// (WithFallback, иначе AgentRef.Fallback), а error содержит типизированную причину.
//
// Отмена ctx прерывает ожидание между попытками. Начатая попытка
// живёт до собственного дедлайна AttemptTimeout.
func (c *Client) Invoke(ctx context.Context, target AgentRef, instruction, correlationID string, opts ...InvokeOption) (domain.TaskOutcome, error) {
	options := invokeOptions{fallback: target.Fallback}
	for _, opt := range opts {
		opt(&options)
	}

	logger := telemetry.WithCall(c.logger, target.Name, correlationID)
	start := time.Now()

	outcome := domain.TaskOutcome{
		CorrelationID: correlationID,
		Agent:         target.Name,
	}

	if target.Transport == nil {
		err := &NonRetryableAgentError{Agent: target.Name, Err: fmt.Errorf("%w: no transport", ErrInvalidAgent)}
		return c.fail(outcome, start, err, options.fallback), err
	}

	req := Request{
		Agent:         target.Name,
		CorrelationID: correlationID,
		Instruction:   instruction,
	}

	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil && attempt == 1 {
			lastErr = err
			break
		}

		outcome.Attempts = attempt
		text, payload, err := c.attempt(ctx, target, req)
		if err == nil {
			outcome.Status = domain.OutcomeSucceeded
			outcome.Text = text
			outcome.Payload = payload
			outcome.Elapsed = time.Since(start)

			logger.Debug("agent invocation succeeded",
				"attempts", attempt,
				"elapsed", outcome.Elapsed,
			)
			telemetry.ObserveInvocation(target.Name, string(outcome.Status), attempt, outcome.Elapsed)
			return outcome, nil
		}

		lastErr = err
		if !IsRetryable(err) || attempt >= c.cfg.MaxAttempts {
			break
		}

		delay := c.Backoff(attempt)
		logger.Warn("agent attempt failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		if waitErr := c.sleep(ctx, delay); waitErr != nil {
			lastErr = fmt.Errorf("%w (retry cancelled: %w)", err, waitErr)
			break
		}
	}

	logger.Warn("agent invocation failed",
		"attempts", outcome.Attempts,
		"error", lastErr,
	)
	return c.fail(outcome, start, lastErr, options.fallback), lastErr
}

// fail заполняет итог неуспешного вызова.
func (c *Client) fail(outcome domain.TaskOutcome, start time.Time, err error, fallback map[string]any) domain.TaskOutcome {
	outcome.Status = domain.OutcomeFailed
	if IsTimeout(err) {
		outcome.Status = domain.OutcomeTimedOut
	}
	outcome.Error = err.Error()
	if fallback != nil {
		outcome.Payload = maps.Clone(fallback)
		outcome.Fallback = true
	}
	outcome.Elapsed = time.Since(start)

	telemetry.ObserveInvocation(outcome.Agent, string(outcome.Status), outcome.Attempts, outcome.Elapsed)
	return outcome
}

// attempt выполняет одну попытку.
//
// Попытка отвязана от отмены run (context.WithoutCancel) и ограничена
// AttemptTimeout. Watchdog, взведённый первым чанком, отменяет попытку,
// если следующие чанки перестали приходить.
func (c *Client) attempt(ctx context.Context, target AgentRef, req Request) (string, map[string]any, error) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.AttemptTimeout)
	defer cancel()

	streamCtx, stop := context.WithCancelCause(attemptCtx)
	defer stop(nil)

	var watchdog *time.Timer
	defer func() {
		if watchdog != nil {
			watchdog.Stop()
		}
	}()

	acc := newAccumulator(req.CorrelationID)

	for chunk, err := range target.Transport.Stream(streamCtx, req) {
		if err != nil {
			return "", nil, classifyAttemptError(streamCtx, target.Name, err)
		}
		switch {
		case c.cfg.ReadTimeout <= 0:
		case watchdog == nil:
			watchdog = time.AfterFunc(c.cfg.ReadTimeout, func() { stop(ErrIdleTimeout) })
		default:
			watchdog.Reset(c.cfg.ReadTimeout)
		}

		if !acc.add(chunk) {
			c.discard(target.Name, req.CorrelationID, chunk.CorrelationID)
			continue
		}

		if chunk.Final {
			text, payload := acc.result()
			return text, payload, nil
		}
	}

	if err := classifyAttemptError(streamCtx, target.Name, nil); err != nil {
		return "", nil, err
	}
	return "", nil, fmt.Errorf("agent %s: %w (%d chunks)", target.Name, ErrStreamTruncated, acc.chunks)
}

// discard логирует чужой чанк. Чанк, который принадлежит другому
// ожидающему узлу, означает перепутанную маршрутизацию на стороне агента.
func (c *Client) discard(agentName, expected, got string) {
	if c.cfg.Correlations != nil {
		if owner, ok := c.cfg.Correlations.Resolve(got); ok {
			c.logger.Warn("chunk routed to wrong call",
				"agent", agentName,
				"expected", expected,
				"got", got,
				"owner_task", owner,
			)
			return
		}
	}
	c.logger.Debug("discarding chunk for another correlation id",
		"agent", agentName,
		"expected", expected,
		"got", got,
	)
}

// Backoff возвращает задержку перед попыткой attempt+1:
// BaseBackoff * Multiplier^(attempt-1), не больше MaxBackoff.
func (c *Client) Backoff(attempt int) time.Duration {
	delay := c.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.cfg.Multiplier)
		if delay >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	if delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
