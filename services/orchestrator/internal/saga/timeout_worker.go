package saga

import (
	"context"
	"time"

	"example.com/vehicle-sales/pkg/logger"
)

// =============================================================================
// SagaTimeoutWorker — воркер для обнаружения зависших саг
// =============================================================================

// TimeoutWorkerConfig — настройки Timeout Worker.
type TimeoutWorkerConfig struct {
	// PollInterval — интервал между сканированиями таблицы saga_states.
	PollInterval time.Duration

	// SagaTimeout — максимальное время ожидания события участника.
	// Саги, не обновлявшиеся дольше этого времени, считаются зависшими.
	SagaTimeout time.Duration

	// BatchSize — максимальное количество зависших саг за один цикл.
	BatchSize int
}

// DefaultTimeoutWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultTimeoutWorkerConfig() TimeoutWorkerConfig {
	return TimeoutWorkerConfig{
		PollInterval: 30 * time.Second,
		SagaTimeout:  5 * time.Minute,
		BatchSize:    50,
	}
}

// timeoutStatuses — статусы, в которых сага ожидает событие участника.
// Терминальные статусы и STARTED (мгновенно переходит в IN_PROGRESS)
// worker не трогает.
var timeoutStatuses = []Status{
	StatusInProgress,
	StatusCompensating,
	StatusCancelling,
	StatusCancellationRequested,
}

// timeoutReason — причина, записываемая в context зависшей саги.
const timeoutReason = "таймаут ожидания события участника саги"

// SagaTimeoutWorker периодически сканирует таблицу saga_states и находит
// саги, у которых updated_at старше SagaTimeout. Для каждой применяет
// решение таймаута через Orchestrator.Timeout().
type SagaTimeoutWorker struct {
	sagaRepo     SagaRepository
	orchestrator Orchestrator
	cfg          TimeoutWorkerConfig
}

// NewSagaTimeoutWorker создаёт новый Timeout Worker.
func NewSagaTimeoutWorker(sagaRepo SagaRepository, orchestrator Orchestrator, cfg TimeoutWorkerConfig) *SagaTimeoutWorker {
	return &SagaTimeoutWorker{
		sagaRepo:     sagaRepo,
		orchestrator: orchestrator,
		cfg:          cfg,
	}
}

// Run запускает Worker. Блокирует выполнение до отмены контекста.
func (w *SagaTimeoutWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Dur("saga_timeout", w.cfg.SagaTimeout).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Saga Timeout Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Saga Timeout Worker")
			return
		case <-ticker.C:
			w.processStuckSagas(ctx)
		}
	}
}

// processStuckSagas находит зависшие саги и применяет к ним решение таймаута.
func (w *SagaTimeoutWorker) processStuckSagas(ctx context.Context) {
	log := logger.FromContext(ctx)

	sagas, err := w.sagaRepo.GetStuck(ctx, timeoutStatuses, w.cfg.SagaTimeout, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка поиска зависших саг")
		return
	}

	if len(sagas) == 0 {
		return
	}

	log.Warn().Int("count", len(sagas)).Msg("Обнаружены зависшие саги")

	for _, saga := range sagas {
		// Проверяем контекст перед обработкой каждой саги
		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Warn().
			Str("transaction_id", saga.TransactionID).
			Str("saga_status", string(saga.Status)).
			Str("current_step", string(saga.CurrentStep)).
			Time("updated_at", saga.UpdatedAt).
			Msg("Обработка зависшей саги по таймауту")

		// Timeout внутри применяет optimistic locking: если сага ожила
		// (событие пришло одновременно со сканированием), решение не применяется.
		if err := w.orchestrator.Timeout(ctx, saga, timeoutReason); err != nil {
			log.Error().Err(err).
				Str("transaction_id", saga.TransactionID).
				Msg("Ошибка обработки зависшей саги")
		}
	}
}
