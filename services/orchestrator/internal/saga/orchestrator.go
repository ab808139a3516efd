package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/vehicle-sales/pkg/kafka"
	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/pkg/metrics"
	outboxpkg "example.com/vehicle-sales/pkg/outbox"
	sagatypes "example.com/vehicle-sales/pkg/saga"
	"example.com/vehicle-sales/services/orchestrator/internal/client"
)

// =============================================================================
// Orchestrator — координатор саги покупки автомобиля
// =============================================================================

// maxDecideRetries — число повторов применения решения при конфликте версий.
// Конфликт означает, что сагу параллельно изменил другой поток (например,
// отмена пользователя во время обработки события участника): перечитываем
// свежее состояние и принимаем решение заново.
const maxDecideRetries = 3

// VehicleClient — синхронные вызовы Vehicle Service.
type VehicleClient interface {
	GetVehicle(ctx context.Context, vehicleID string) (*client.Vehicle, error)
	MarkAsSold(ctx context.Context, vehicleID string) error
}

// CustomerClient — синхронные вызовы Customer Service.
type CustomerClient interface {
	GetCustomer(ctx context.Context, customerID string) (*client.Customer, error)
}

// StartPurchaseInput — входные данные запуска саги.
type StartPurchaseInput struct {
	CustomerID  string
	VehicleID   string
	PaymentType string // cash | credit
}

// Orchestrator координирует распределённую транзакцию покупки автомобиля.
// Реализует паттерн Saga Orchestration:
// 1. Валидирует участников и создаёт сагу вместе с командой ReserveCredit
// 2. Реагирует на события участников через чистую машину состояний (Decide)
// 3. При отказах запускает компенсацию, при запросе пользователя — отмену
type Orchestrator interface {
	// StartPurchase атомарно создаёт сагу и команду ReserveCredit.
	// КРИТИЧНО: решает проблему dual write — сага и команда в одной транзакции.
	StartPurchase(ctx context.Context, in *StartPurchaseInput) (*SagaState, error)

	// HandleEvent обрабатывает событие участника саги.
	// Повторные и поздние события игнорируются без ошибки (идемпотентность).
	HandleEvent(ctx context.Context, ev *Event) error

	// Cancel обрабатывает запрос пользователя на отмену покупки.
	// Возвращает исход для маппинга в HTTP статус и свежую сагу.
	Cancel(ctx context.Context, transactionID, reason string) (CancelOutcome, *SagaState, error)

	// Timeout применяет решение таймаута к зависшей саге (вызывается worker-ом).
	Timeout(ctx context.Context, saga *SagaState, reason string) error

	// GetSaga возвращает сагу по transaction_id.
	GetSaga(ctx context.Context, transactionID string) (*SagaState, error)

	// ListSagas возвращает саги постранично (новые первыми).
	ListSagas(ctx context.Context, limit, offset int) ([]*SagaState, error)
}

// orchestrator — реализация Orchestrator.
type orchestrator struct {
	sagaRepo       SagaRepository
	vehicleClient  VehicleClient
	customerClient CustomerClient
}

// NewOrchestrator создаёт новый координатор саг.
// outboxRepo не требуется — все outbox записи создаются атомарно через SagaRepository.
func NewOrchestrator(
	sagaRepo SagaRepository,
	vehicleClient VehicleClient,
	customerClient CustomerClient,
) Orchestrator {
	return &orchestrator{
		sagaRepo:       sagaRepo,
		vehicleClient:  vehicleClient,
		customerClient: customerClient,
	}
}

// =============================================================================
// Запуск саги
// =============================================================================

// StartPurchase валидирует участников и атомарно создаёт сагу
// в IN_PROGRESS/CREDIT_RESERVATION вместе с командой ReserveCredit.
// Цена фиксируется из Vehicle Service на момент старта.
func (o *orchestrator) StartPurchase(ctx context.Context, in *StartPurchaseInput) (*SagaState, error) {
	log := logger.FromContext(ctx)

	// Предварительная валидация: автомобиль существует и доступен.
	vehicle, err := o.vehicleClient.GetVehicle(ctx, in.VehicleID)
	if err != nil {
		log.Warn().Err(err).Str("vehicle_id", in.VehicleID).Msg("Валидация автомобиля не пройдена")
		return nil, err
	}
	if !vehicle.Available() {
		log.Warn().
			Str("vehicle_id", in.VehicleID).
			Str("vehicle_status", vehicle.Status).
			Msg("Автомобиль недоступен для покупки")
		return nil, client.ErrVehicleNotAvailable
	}

	// Клиент существует и средств достаточно. Авторитетная проверка —
	// за Customer Service при резервировании; здесь ранний отказ без создания саги.
	customer, err := o.customerClient.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		log.Warn().Err(err).Str("customer_id", in.CustomerID).Msg("Валидация клиента не пройдена")
		return nil, err
	}
	if !o.sufficientFunds(customer, in.PaymentType, vehicle.Price) {
		log.Warn().
			Str("customer_id", in.CustomerID).
			Str("payment_type", in.PaymentType).
			Int64("price", vehicle.Price).
			Int64("account_balance", customer.AccountBalance).
			Int64("available_credit", customer.AvailableCredit).
			Msg("Недостаточно средств для покупки")
		return nil, client.ErrInsufficientFunds
	}

	transactionID := uuid.New().String()
	now := time.Now()

	// Создаём сагу СРАЗУ в IN_PROGRESS/CREDIT_RESERVATION:
	// если транзакция прошла — сага готова принять ответ участника.
	saga := &SagaState{
		TransactionID: transactionID,
		CustomerID:    in.CustomerID,
		VehicleID:     in.VehicleID,
		Amount:        vehicle.Price,
		PaymentType:   in.PaymentType,
		Status:        StatusInProgress,
		CurrentStep:   StepCreditReservation,
		Context: Context{
			Customer: &CustomerSnapshot{
				Name:            customer.Name,
				AccountBalance:  customer.AccountBalance,
				CreditLimit:     customer.CreditLimit,
				AvailableCredit: customer.AvailableCredit,
			},
			Vehicle: &VehicleSnapshot{
				Brand: vehicle.Brand,
				Model: vehicle.Model,
				Year:  vehicle.Year,
				Price: vehicle.Price,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Формируем команду ReserveCredit.
	cmd := &Command{
		TransactionID: transactionID,
		Type:          sagatypes.CommandReserveCredit,
		CustomerID:    in.CustomerID,
		Amount:        vehicle.Price,
		PaymentType:   in.PaymentType,
		Timestamp:     now,
	}

	outbox, err := NewCommandOutbox(uuid.New().String(), cmd, o.headers(ctx, transactionID))
	if err != nil {
		log.Error().Err(err).Str("transaction_id", transactionID).Msg("Ошибка создания outbox записи")
		return nil, fmt.Errorf("ошибка создания outbox: %w", err)
	}

	// АТОМАРНО создаём saga + outbox в ОДНОЙ транзакции.
	// Если что-то падает — откатывается ВСЁ, клиент получает ошибку и может повторить.
	if err := o.sagaRepo.CreateWithOutbox(ctx, saga, []*outboxpkg.Outbox{outbox}); err != nil {
		log.Error().Err(err).Str("transaction_id", transactionID).Msg("Ошибка атомарного создания саги")
		return nil, fmt.Errorf("ошибка создания саги: %w", err)
	}

	metrics.SagaStartedTotal.Inc()

	log.Info().
		Str("transaction_id", transactionID).
		Str("customer_id", in.CustomerID).
		Str("vehicle_id", in.VehicleID).
		Int64("amount", vehicle.Price).
		Str("payment_type", in.PaymentType).
		Msg("Сага покупки запущена, команда ReserveCredit добавлена в outbox")

	return saga, nil
}

// sufficientFunds проверяет достаточность средств по способу оплаты:
// cash - против account_balance, credit - против available_credit.
func (o *orchestrator) sufficientFunds(customer *client.Customer, paymentType string, price int64) bool {
	switch paymentType {
	case sagatypes.PaymentTypeCash:
		return customer.AccountBalance >= price
	case sagatypes.PaymentTypeCredit:
		return customer.AvailableCredit >= price
	default:
		return false
	}
}

// =============================================================================
// Обработка событий участников
// =============================================================================

// HandleEvent применяет событие участника к саге через машину состояний.
// При конфликте версий (параллельная отмена) перечитывает сагу и повторяет.
func (o *orchestrator) HandleEvent(ctx context.Context, ev *Event) error {
	log := logger.FromContext(ctx)

	for attempt := 0; attempt < maxDecideRetries; attempt++ {
		saga, err := o.sagaRepo.GetByID(ctx, ev.TransactionID)
		if err != nil {
			if errors.Is(err, ErrSagaNotFound) {
				// Событие для неизвестной саги — повтор не поможет, подтверждаем.
				log.Warn().
					Str("transaction_id", ev.TransactionID).
					Str("event_type", string(ev.Type)).
					Msg("Событие для неизвестной саги, пропускаем")
				return nil
			}
			return fmt.Errorf("ошибка получения саги: %w", err)
		}

		decision := Decide(saga, ev)
		if decision.Ignore {
			metrics.SagaEventsTotal.WithLabelValues(string(ev.Type), "ignored").Inc()
			log.Info().
				Str("transaction_id", ev.TransactionID).
				Str("event_type", string(ev.Type)).
				Str("saga_status", string(saga.Status)).
				Str("current_step", string(saga.CurrentStep)).
				Str("reason", decision.IgnoreReason).
				Msg("Событие проигнорировано")
			return nil
		}

		err = o.applyDecision(ctx, saga, &decision)
		if errors.Is(err, ErrSagaConcurrentUpdate) {
			log.Warn().
				Str("transaction_id", ev.TransactionID).
				Str("event_type", string(ev.Type)).
				Int("attempt", attempt+1).
				Msg("Конфликт версий, перечитываем сагу")
			continue
		}
		if err != nil {
			metrics.SagaEventsTotal.WithLabelValues(string(ev.Type), "error").Inc()
			return err
		}

		metrics.SagaEventsTotal.WithLabelValues(string(ev.Type), "applied").Inc()

		log.Info().
			Str("transaction_id", ev.TransactionID).
			Str("event_type", string(ev.Type)).
			Str("saga_status", string(saga.Status)).
			Str("current_step", string(saga.CurrentStep)).
			Msg("Событие применено к саге")

		// Финальный шаг: синхронная отметка автомобиля проданным.
		if decision.MarkVehicleSold {
			return o.completeSale(ctx, saga)
		}
		return nil
	}

	return fmt.Errorf("сага %s: конфликт версий после %d попыток", ev.TransactionID, maxDecideRetries)
}

// applyDecision переводит сагу в новое состояние и атомарно персистит её
// вместе с исходящими сообщениями решения.
func (o *orchestrator) applyDecision(ctx context.Context, saga *SagaState, d *Decision) error {
	saga.Context = d.Context
	if err := saga.TransitionTo(d.Status, d.Step); err != nil {
		return fmt.Errorf("переход %s → %s: %w", saga.Status, d.Status, err)
	}

	records, err := o.buildOutbox(ctx, saga.TransactionID, d.Commands, d.Events)
	if err != nil {
		return err
	}

	if err := o.sagaRepo.UpdateWithOutbox(ctx, saga, records); err != nil {
		return err
	}

	if saga.Status.IsTerminal() {
		metrics.SagaCompletedTotal.WithLabelValues(string(saga.Status)).Inc()
	}
	return nil
}

// completeSale — синхронный финальный шаг саги.
// Успех → COMPLETED, отказ → FAILED_REQUIRES_MANUAL_INTERVENTION:
// платёж уже проведён, автоматический откат здесь невозможен.
func (o *orchestrator) completeSale(ctx context.Context, saga *SagaState) error {
	log := logger.FromContext(ctx)

	if err := o.vehicleClient.MarkAsSold(ctx, saga.VehicleID); err != nil {
		log.Error().Err(err).
			Str("transaction_id", saga.TransactionID).
			Str("vehicle_id", saga.VehicleID).
			Msg("Не удалось пометить автомобиль проданным — требуется оператор")

		saga.Context.Error = err.Error()
		if terr := saga.TransitionTo(StatusFailedManualIntervention, StepMarkVehicleAsSoldFailed); terr != nil {
			return fmt.Errorf("переход в FAILED_REQUIRES_MANUAL_INTERVENTION: %w", terr)
		}
		if uerr := o.sagaRepo.UpdateWithOutbox(ctx, saga, nil); uerr != nil {
			return fmt.Errorf("ошибка фиксации отказа mark_as_sold: %w", uerr)
		}
		metrics.SagaCompletedTotal.WithLabelValues(string(StatusFailedManualIntervention)).Inc()
		return nil
	}

	if err := saga.TransitionTo(StatusCompleted, StepSagaComplete); err != nil {
		return fmt.Errorf("переход в COMPLETED: %w", err)
	}
	if err := o.sagaRepo.UpdateWithOutbox(ctx, saga, nil); err != nil {
		if errors.Is(err, ErrSagaConcurrentUpdate) {
			// Между mark_as_sold и персистом сагу изменила отмена —
			// оставляем её состояние как есть (CANCELLATION_FAILED).
			log.Warn().
				Str("transaction_id", saga.TransactionID).
				Msg("Сага изменена параллельно при завершении, оставляем текущее состояние")
			return nil
		}
		return fmt.Errorf("ошибка фиксации COMPLETED: %w", err)
	}

	metrics.SagaCompletedTotal.WithLabelValues(string(StatusCompleted)).Inc()

	log.Info().
		Str("transaction_id", saga.TransactionID).
		Str("vehicle_id", saga.VehicleID).
		Msg("Сага завершена: автомобиль продан")
	return nil
}

// =============================================================================
// Отмена по запросу пользователя
// =============================================================================

// Cancel обрабатывает запрос на отмену покупки.
func (o *orchestrator) Cancel(ctx context.Context, transactionID, reason string) (CancelOutcome, *SagaState, error) {
	log := logger.FromContext(ctx)

	for attempt := 0; attempt < maxDecideRetries; attempt++ {
		saga, err := o.sagaRepo.GetByID(ctx, transactionID)
		if err != nil {
			return 0, nil, err
		}

		d := DecideCancel(saga, reason, time.Now())
		if !d.Apply {
			log.Info().
				Str("transaction_id", transactionID).
				Str("saga_status", string(saga.Status)).
				Int("outcome", int(d.Outcome)).
				Msg("Запрос отмены не меняет состояние саги")
			return d.Outcome, saga, nil
		}

		saga.Context = d.Context
		if err := saga.TransitionTo(d.Status, d.Step); err != nil {
			return 0, nil, fmt.Errorf("переход отмены: %w", err)
		}

		records, err := o.buildOutbox(ctx, transactionID, d.Commands, d.Events)
		if err != nil {
			return 0, nil, err
		}

		err = o.sagaRepo.UpdateWithOutbox(ctx, saga, records)
		if errors.Is(err, ErrSagaConcurrentUpdate) {
			log.Warn().
				Str("transaction_id", transactionID).
				Int("attempt", attempt+1).
				Msg("Конфликт версий при отмене, перечитываем сагу")
			continue
		}
		if err != nil {
			return 0, nil, fmt.Errorf("ошибка применения отмены: %w", err)
		}

		if saga.Status.IsTerminal() {
			metrics.SagaCompletedTotal.WithLabelValues(string(saga.Status)).Inc()
		}

		log.Info().
			Str("transaction_id", transactionID).
			Str("saga_status", string(saga.Status)).
			Str("current_step", string(saga.CurrentStep)).
			Str("reason", reason).
			Msg("Запрос отмены применён")
		return d.Outcome, saga, nil
	}

	return 0, nil, fmt.Errorf("сага %s: конфликт версий при отмене после %d попыток", transactionID, maxDecideRetries)
}

// =============================================================================
// Таймаут зависшей саги
// =============================================================================

// Timeout применяет решение таймаута (вызывается TimeoutWorker-ом).
// Конфликт версий означает, что сага ожила — таймаут не применяем.
func (o *orchestrator) Timeout(ctx context.Context, saga *SagaState, reason string) error {
	log := logger.FromContext(ctx)

	d := DecideTimeout(saga, reason)
	if d.Ignore {
		return nil
	}

	err := o.applyDecision(ctx, saga, &d)
	if errors.Is(err, ErrSagaConcurrentUpdate) {
		log.Info().
			Str("transaction_id", saga.TransactionID).
			Msg("Сага изменилась во время обработки таймаута, пропускаем")
		return nil
	}
	if err != nil {
		return err
	}

	log.Warn().
		Str("transaction_id", saga.TransactionID).
		Str("saga_status", string(saga.Status)).
		Str("current_step", string(saga.CurrentStep)).
		Msg("Сага обработана по таймауту")
	return nil
}

// =============================================================================
// Чтение
// =============================================================================

func (o *orchestrator) GetSaga(ctx context.Context, transactionID string) (*SagaState, error) {
	return o.sagaRepo.GetByID(ctx, transactionID)
}

func (o *orchestrator) ListSagas(ctx context.Context, limit, offset int) ([]*SagaState, error) {
	return o.sagaRepo.List(ctx, limit, offset)
}

// =============================================================================
// Вспомогательные методы
// =============================================================================

// headers собирает Kafka заголовки для трассировки сообщений саги.
func (o *orchestrator) headers(ctx context.Context, transactionID string) map[string]string {
	return map[string]string{
		kafka.HeaderTransactionID: transactionID,
		kafka.HeaderTraceID:       kafka.TraceIDFromContext(ctx),
		kafka.HeaderCorrelationID: kafka.CorrelationIDFromContext(ctx),
	}
}

// buildOutbox превращает команды и события решения в записи outbox.
func (o *orchestrator) buildOutbox(ctx context.Context, transactionID string, commands []Command, events []Event) ([]*outboxpkg.Outbox, error) {
	headers := o.headers(ctx, transactionID)
	records := make([]*outboxpkg.Outbox, 0, len(commands)+len(events))

	for i := range commands {
		record, err := NewCommandOutbox(uuid.New().String(), &commands[i], headers)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания outbox для команды %s: %w", commands[i].Type, err)
		}
		records = append(records, record)
	}
	for i := range events {
		record, err := NewEventOutbox(uuid.New().String(), &events[i], headers)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания outbox для события %s: %w", events[i].Type, err)
		}
		records = append(records, record)
	}
	return records, nil
}
