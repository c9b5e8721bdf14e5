package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/mq"
)

// defaultPrefetch — сколько запросов consumer берёт одновременно.
const defaultPrefetch = 4

// Service — долгоживущий режим оркестратора.
//
// Читает orchestrations.requested и выполняет каждый запрос через
// Orchestrator. Событие run.finished публикует сам Orchestrator.
type Service struct {
	orch     *Orchestrator
	conn     *mq.Connection
	prefetch int
	logger   *slog.Logger

	consumer   *mq.Consumer
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// ServiceConfig — конфигурация Service.
type ServiceConfig struct {
	Orchestrator *Orchestrator
	Conn         *mq.Connection

	// Prefetch — число запросов в работе одновременно (default: 4).
	Prefetch int

	Logger *slog.Logger
}

// NewService создаёт Service.
func NewService(cfg ServiceConfig) *Service {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		orch:     cfg.Orchestrator,
		conn:     cfg.Conn,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Start запускает consumer в фоне.
func (s *Service) Start(ctx context.Context) error {
	if s.IsStopped() {
		return ErrOrchestratorStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.consumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueOrchestrationsRequested),
		Handler:  s.handleRequested,
		Prefetch: s.prefetch,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("orchestration consumer error", "error", err)
		}
	}()

	s.logger.Info("orchestrator service started", "prefetch", s.prefetch)
	return nil
}

// Stop останавливает consumer и ждёт завершения.
func (s *Service) Stop() {
	s.stoppedMu.Lock()
	s.stopped = true
	s.stoppedMu.Unlock()

	s.logger.Info("stopping orchestrator service...")

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.wg.Wait()

	s.logger.Info("orchestrator service stopped")
}

// IsStopped проверяет, остановлен ли Service.
func (s *Service) IsStopped() bool {
	s.stoppedMu.RLock()
	defer s.stoppedMu.RUnlock()
	return s.stopped
}

// handleRequested выполняет один запрос из очереди.
//
// Фатальная ошибка run (план, граф) уже сохранена и опубликована,
// поэтому сообщение подтверждается. В очередь возвращаются только
// runs, прерванные остановкой сервиса.
func (s *Service) handleRequested(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.OrchestrationRequestedPayload](&delivery.Message)
	if err != nil {
		return fmt.Errorf("%w: %w", mq.ErrPermanent, err)
	}
	if payload.Query == "" {
		return fmt.Errorf("%w: empty query", mq.ErrPermanent)
	}

	run := domain.NewOrchestrationRun(payload.Query, payload.Context)
	if payload.RunID != uuid.Nil {
		run.ID = payload.RunID
	}

	s.logger.Debug("received orchestration request", "run_id", run.ID)

	if _, err := s.orch.Execute(ctx, run); err != nil {
		if IsCancelled(err) {
			return err
		}
		s.logger.Warn("orchestration request failed", "run_id", run.ID, "error", err)
	}
	return nil
}
