// Package saga реализует оркестрацию саги покупки автомобиля.
// Оркестратор управляет шагами:
// 1. Резервирование кредита → Customer Service
// 2. Резервирование автомобиля → Vehicle Service
// 3. Генерация платёжного кода и оплата → Payment Service
// 4. Отметка автомобиля проданным (синхронный HTTP вызов)
// При отказе любого шага выполняются компенсирующие операции в обратном порядке.
package saga

import (
	"errors"
	"time"

	outboxpkg "example.com/vehicle-sales/pkg/outbox"
	sagatypes "example.com/vehicle-sales/pkg/saga"
)

// =============================================================================
// Состояния саги
// =============================================================================

// Status — состояние саги в state machine.
type Status string

const (
	// StatusStarted — сага создана, начальная команда ещё не записана.
	StatusStarted Status = "STARTED"

	// StatusInProgress — сага движется по прямому пути.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusCompensating — получен отказ участника, выполняем компенсацию.
	StatusCompensating Status = "COMPENSATING"

	// StatusCancellationRequested — принят запрос на отмену, отмена ещё не начата.
	StatusCancellationRequested Status = "CANCELLATION_REQUESTED"

	// StatusCancelling — выполняются компенсирующие операции отмены.
	StatusCancelling Status = "CANCELLING"

	// StatusCompleted — покупка завершена, автомобиль продан.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed — сага прервана на первом шаге, компенсация не требуется.
	StatusFailed Status = "FAILED"

	// StatusFailedCompensated — сага прервана, все выполненные шаги откачены.
	StatusFailedCompensated Status = "FAILED_COMPENSATED"

	// StatusCancelled — отмена по запросу пользователя выполнена.
	StatusCancelled Status = "CANCELLED"

	// StatusCancellationFailed — запрос на отмену отклонён (сделка зашла слишком далеко).
	StatusCancellationFailed Status = "CANCELLATION_FAILED"

	// StatusFailedManualIntervention — автоматическое восстановление невозможно,
	// требуется вмешательство оператора.
	StatusFailedManualIntervention Status = "FAILED_REQUIRES_MANUAL_INTERVENTION"

	// StatusFailedInitialCommand — не удалось записать начальную команду.
	// С транзакционным outbox недостижим (команда и сага пишутся атомарно),
	// константа сохранена для совместимости представления статусов.
	StatusFailedInitialCommand Status = "FAILED_INITIAL_COMMAND"
)

// IsTerminal возвращает true, если сага в финальном состоянии.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusFailedCompensated,
		StatusCancelled, StatusCancellationFailed,
		StatusFailedManualIntervention, StatusFailedInitialCommand:
		return true
	}
	return false
}

// =============================================================================
// Шаги саги
// =============================================================================

// Step — текущий шаг саги (current_step).
type Step string

// Прямой путь.
const (
	StepCreditReservation     Step = "CREDIT_RESERVATION"
	StepVehicleReservation    Step = "VEHICLE_RESERVATION"
	StepPaymentCodeGeneration Step = "PAYMENT_CODE_GENERATION"
	StepPaymentProcessing     Step = "PAYMENT_PROCESSING"
	StepMarkVehicleAsSold     Step = "MARK_VEHICLE_AS_SOLD"
	StepSagaComplete          Step = "SAGA_COMPLETE"
)

// Шаги компенсации.
const (
	StepVehicleRelease       Step = "VEHICLE_RELEASE"
	StepCreditRelease        Step = "CREDIT_RELEASE"
	StepCompensationComplete Step = "COMPENSATION_COMPLETE"
	StepPaymentRefund        Step = "PAYMENT_REFUND"
)

// Шаги отмены.
const (
	StepCancellationVehicleRelease Step = "CANCELLATION_VEHICLE_RELEASE"
	StepCancellationCreditRelease  Step = "CANCELLATION_CREDIT_RELEASE"
	StepCancellationComplete       Step = "CANCELLATION_COMPLETE"
)

// Шаги-отказы (фиксируют место, где сага остановилась).
const (
	StepCreditReservationFailed Step = "CREDIT_RESERVATION_FAILED"
	StepMarkVehicleAsSoldFailed Step = "MARK_VEHICLE_AS_SOLD_FAILED"
	StepPaymentRefundFailed     Step = "PAYMENT_REFUND_FAILED"
)

// =============================================================================
// SagaState — доменная сущность
// =============================================================================

// SagaState — авторитетная запись оркестратора о саге покупки.
type SagaState struct {
	TransactionID string    // UUID саги, ключ всех сообщений
	CustomerID    string    // Покупатель
	VehicleID     string    // Автомобиль
	Amount        int64     // Цена в центах, фиксируется при старте саги
	PaymentType   string    // cash | credit
	Status        Status    // Текущее состояние
	CurrentStep   Step      // Последний начатый шаг
	Context       Context   // Диагностические данные (JSON в БД)
	Version       int       // Optimistic Locking: инкрементируется при каждом обновлении
	CreatedAt     time.Time // Время создания
	UpdatedAt     time.Time // Время последнего обновления
}

// Context — диагностическая сумка саги.
// Снимки участников кешируются только для операторов,
// авторитетным состоянием остаются сами участники.
type Context struct {
	Error              string     `json:"error,omitempty"`
	CompensationError  string     `json:"compensation_error,omitempty"`
	CancellationError  string     `json:"cancellation_error,omitempty"`
	PaymentCode        string     `json:"payment_code,omitempty"`
	PaymentID          string     `json:"payment_id,omitempty"`
	PaymentRefunded    bool       `json:"payment_refunded,omitempty"`
	OriginalStep       string     `json:"original_step,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelRequestedAt  *time.Time `json:"cancellation_requested_at,omitempty"`

	Customer *CustomerSnapshot `json:"customer,omitempty"`
	Vehicle  *VehicleSnapshot  `json:"vehicle,omitempty"`
}

// CustomerSnapshot — кешированный снимок клиента на момент старта саги.
type CustomerSnapshot struct {
	Name            string `json:"name"`
	AccountBalance  int64  `json:"account_balance"`
	CreditLimit     int64  `json:"credit_limit"`
	AvailableCredit int64  `json:"available_credit"`
}

// VehicleSnapshot — кешированный снимок автомобиля на момент старта саги.
type VehicleSnapshot struct {
	Brand string `json:"brand"`
	Model string `json:"model"`
	Year  int    `json:"year"`
	Price int64  `json:"price"`
}

// =============================================================================
// Переходы состояний (State Machine)
// =============================================================================

// Ошибки переходов состояний.
var (
	ErrInvalidTransition = errors.New("недопустимый переход состояния саги")
	ErrSagaTerminal      = errors.New("сага уже в терминальном состоянии")
)

// allowedTransitions определяет допустимые переходы состояний.
// Ключ — текущее состояние, значение — список допустимых следующих состояний.
// Переход Status → Status (тот же статус) разрешён для IN_PROGRESS,
// COMPENSATING и CANCELLING: сага меняет шаг, оставаясь в том же статусе.
var allowedTransitions = map[Status][]Status{
	// Из STARTED сага обычно уходит в IN_PROGRESS, но таймаут и отмена
	// могут сработать до первого события участника — тогда переход идёт
	// сразу в COMPENSATING или CANCELLING.
	StatusStarted: {
		StatusInProgress,
		StatusCompensating,
		StatusCancelling,
		StatusCancellationRequested,
		StatusCancellationFailed,
		StatusFailedManualIntervention,
		StatusFailedInitialCommand,
	},
	StatusInProgress: {
		StatusInProgress,
		StatusCompleted,
		StatusCompensating,
		StatusFailed,
		StatusFailedManualIntervention,
		StatusCancellationRequested,
		StatusCancellationFailed,
	},
	StatusCompensating: {
		StatusCompensating,
		StatusFailedCompensated,
		StatusFailedManualIntervention,
	},
	StatusCancellationRequested: {
		StatusCancelling,
		StatusCancellationFailed,
	},
	StatusCancelling: {
		StatusCancelling,
		StatusCancelled,
		StatusCancellationFailed,
		StatusFailedManualIntervention,
	},
	// COMPLETED формально терминален, но отклонённый запрос отмены
	// завершённой саги фиксируется статусом CANCELLATION_FAILED.
	StatusCompleted: {
		StatusCancellationFailed,
	},
	// Остальные терминальные состояния переходов не имеют.
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (s *SagaState) CanTransitionTo(newStatus Status) bool {
	allowed, ok := allowedTransitions[s.Status]
	if !ok {
		return false // Терминальное состояние
	}

	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo выполняет переход в новое состояние и фиксирует шаг.
// Возвращает ошибку, если переход недопустим.
func (s *SagaState) TransitionTo(newStatus Status, step Step) error {
	if !s.CanTransitionTo(newStatus) {
		if s.Status.IsTerminal() {
			return ErrSagaTerminal
		}
		return ErrInvalidTransition
	}

	s.Status = newStatus
	s.CurrentStep = step
	s.UpdatedAt = time.Now()
	return nil
}

// =============================================================================
// Алиасы типов сообщений из pkg/saga (единый источник правды)
// =============================================================================

type (
	CommandType = sagatypes.CommandType
	Command     = sagatypes.Command
	EventType   = sagatypes.EventType
	Event       = sagatypes.Event
)

var (
	CommandFromJSON = sagatypes.CommandFromJSON
	EventFromJSON   = sagatypes.EventFromJSON
)

// =============================================================================
// NewCommandOutbox / NewEventOutbox — фабрики записей outbox
// =============================================================================

// aggregateType оркестратора в таблице outbox.
const aggregateTypeSaga = "saga"

// NewCommandOutbox создаёт запись outbox для команды саги.
// Ключ сообщения — transaction_id: все сообщения одной саги
// попадают в одну партицию Kafka.
func NewCommandOutbox(id string, cmd *Command, headers map[string]string) (*outboxpkg.Outbox, error) {
	payload, err := cmd.ToJSON()
	if err != nil {
		return nil, err
	}

	return &outboxpkg.Outbox{
		ID:            id,
		AggregateType: aggregateTypeSaga,
		AggregateID:   cmd.TransactionID,
		EventType:     "saga.command." + string(cmd.Type),
		Topic:         sagatypes.CommandTopic(cmd.Type),
		MessageKey:    cmd.TransactionID,
		Payload:       payload,
		Headers:       headers,
		CreatedAt:     time.Now(),
	}, nil
}

// NewEventOutbox создаёт запись outbox для события, публикуемого самим
// оркестратором (PurchaseCancelled / PurchaseCancellationFailed).
func NewEventOutbox(id string, ev *Event, headers map[string]string) (*outboxpkg.Outbox, error) {
	payload, err := ev.ToJSON()
	if err != nil {
		return nil, err
	}

	return &outboxpkg.Outbox{
		ID:            id,
		AggregateType: aggregateTypeSaga,
		AggregateID:   ev.TransactionID,
		EventType:     "saga.event." + string(ev.Type),
		Topic:         sagatypes.EventTopic(ev.Type),
		MessageKey:    ev.TransactionID,
		Payload:       payload,
		Headers:       headers,
		CreatedAt:     time.Now(),
	}, nil
}
