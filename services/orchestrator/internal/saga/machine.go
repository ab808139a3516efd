package saga

import (
	"time"

	sagatypes "example.com/vehicle-sales/pkg/saga"
)

// =============================================================================
// Чистая машина состояний саги
// =============================================================================
//
// Decide / DecideCancel / DecideTimeout — чистые функции без I/O:
// получают текущее состояние саги и входное событие, возвращают Decision.
// Оболочка (Orchestrator) отвечает за загрузку саги, персист решения
// и запись исходящих сообщений в outbox одной транзакцией.

// Decision — результат работы машины состояний.
type Decision struct {
	// Ignore — событие не меняет сагу (повторная доставка, поздний приход).
	Ignore bool

	// IgnoreReason — пояснение для логов, почему событие проигнорировано.
	IgnoreReason string

	// Status и Step — новое состояние саги.
	Status Status
	Step   Step

	// Context — обновлённый context саги (копия с изменениями).
	Context Context

	// Commands — команды участникам, записываются в outbox.
	Commands []Command

	// Events — события самого оркестратора (PurchaseCancelled и т.п.),
	// записываются в outbox.
	Events []Event

	// MarkVehicleSold — оболочка должна синхронно вызвать
	// PATCH /vehicles/{id}/mark_as_sold после персиста этого решения.
	MarkVehicleSold bool
}

// ignore возвращает Decision "событие не применяется".
func ignore(reason string) Decision {
	return Decision{Ignore: true, IgnoreReason: reason}
}

// Decide применяет событие участника к текущему состоянию саги.
//
// События освобождения (VehicleReleased, CreditReleased) полисемичны:
// они означают либо обычную компенсацию, либо компенсацию отмены.
// Ветвление идёт по текущему status: CANCELLING → подмашина отмены,
// COMPENSATING → подмашина компенсации, иначе событие игнорируется
// (повторная доставка после терминального состояния).
func Decide(s *SagaState, ev *Event) Decision {
	switch ev.Type {
	case sagatypes.EventCreditReserved:
		return decideCreditReserved(s)
	case sagatypes.EventCreditReservationFailed:
		return decideCreditReservationFailed(s, ev)
	case sagatypes.EventVehicleReserved:
		return decideVehicleReserved(s)
	case sagatypes.EventVehicleReservationFailed:
		return decideVehicleReservationFailed(s, ev)
	case sagatypes.EventPaymentCodeGenerated:
		return decidePaymentCodeGenerated(s, ev)
	case sagatypes.EventPaymentCodeGenerationFailed:
		return decidePaymentFailure(s, ev, StepPaymentCodeGeneration)
	case sagatypes.EventPaymentProcessed:
		return decidePaymentProcessed(s, ev)
	case sagatypes.EventPaymentFailed:
		return decidePaymentFailure(s, ev, StepPaymentProcessing)
	case sagatypes.EventVehicleReleased:
		return decideVehicleReleased(s)
	case sagatypes.EventCreditReleased:
		return decideCreditReleased(s)
	case sagatypes.EventPaymentRefunded:
		return decidePaymentRefunded(s)
	case sagatypes.EventPaymentRefundFailed:
		return decidePaymentRefundFailed(s, ev)
	case sagatypes.EventPurchaseCancelled, sagatypes.EventPurchaseCancellationFailed:
		// Собственные события оркестратора, приходят из подписки на все
		// событийные топики. Состояние саги уже учитывает их.
		return ignore("собственное событие оркестратора")
	default:
		return ignore("неизвестный тип события")
	}
}

// decideCreditReserved: CREDIT_RESERVATION → VEHICLE_RESERVATION.
func decideCreditReserved(s *SagaState) Decision {
	if s.Status != StatusInProgress || s.CurrentStep != StepCreditReservation {
		return ignore("сага не ожидает резервирование кредита")
	}

	return Decision{
		Status:  StatusInProgress,
		Step:    StepVehicleReservation,
		Context: s.Context,
		Commands: []Command{{
			TransactionID: s.TransactionID,
			Type:          sagatypes.CommandReserveVehicle,
			VehicleID:     s.VehicleID,
			Timestamp:     time.Now(),
		}},
	}
}

// decideCreditReservationFailed: первый шаг не выполнен, компенсация не нужна.
func decideCreditReservationFailed(s *SagaState, ev *Event) Decision {
	if s.Status != StatusInProgress || s.CurrentStep != StepCreditReservation {
		return ignore("сага не ожидает резервирование кредита")
	}

	ctx := s.Context
	ctx.Error = ev.Reason

	return Decision{
		Status:  StatusFailed,
		Step:    StepCreditReservationFailed,
		Context: ctx,
	}
}

// decideVehicleReserved: VEHICLE_RESERVATION → PAYMENT_CODE_GENERATION.
func decideVehicleReserved(s *SagaState) Decision {
	if s.Status != StatusInProgress || s.CurrentStep != StepVehicleReservation {
		return ignore("сага не ожидает резервирование автомобиля")
	}

	return Decision{
		Status:  StatusInProgress,
		Step:    StepPaymentCodeGeneration,
		Context: s.Context,
		Commands: []Command{{
			TransactionID: s.TransactionID,
			Type:          sagatypes.CommandGeneratePaymentCode,
			CustomerID:    s.CustomerID,
			VehicleID:     s.VehicleID,
			Amount:        s.Amount,
			PaymentType:   s.PaymentType,
			Timestamp:     time.Now(),
		}},
	}
}

// decideVehicleReservationFailed: кредит уже зарезервирован — освобождаем его.
func decideVehicleReservationFailed(s *SagaState, ev *Event) Decision {
	if s.Status != StatusInProgress || s.CurrentStep != StepVehicleReservation {
		return ignore("сага не ожидает резервирование автомобиля")
	}

	ctx := s.Context
	ctx.Error = ev.Reason

	return Decision{
		Status:  StatusCompensating,
		Step:    StepCreditRelease,
		Context: ctx,
		Commands: []Command{{
			TransactionID: s.TransactionID,
			Type:          sagatypes.CommandReleaseCredit,
			CustomerID:    s.CustomerID,
			Amount:        s.Amount,
			PaymentType:   s.PaymentType,
			Timestamp:     time.Now(),
		}},
	}
}

// decidePaymentCodeGenerated: PAYMENT_CODE_GENERATION → PAYMENT_PROCESSING.
func decidePaymentCodeGenerated(s *SagaState, ev *Event) Decision {
	if s.Status != StatusInProgress || s.CurrentStep != StepPaymentCodeGeneration {
		return ignore("сага не ожидает генерацию платёжного кода")
	}

	ctx := s.Context
	ctx.PaymentCode = ev.PaymentCode

	return Decision{
		Status:  StatusInProgress,
		Step:    StepPaymentProcessing,
		Context: ctx,
		Commands: []Command{{
			TransactionID: s.TransactionID,
			Type:          sagatypes.CommandProcessPayment,
			PaymentCode:   ev.PaymentCode,
			PaymentMethod: sagatypes.PaymentMethodPix,
			Timestamp:     time.Now(),
		}},
	}
}

// decidePaymentFailure обрабатывает PaymentCodeGenerationFailed и PaymentFailed:
// автомобиль уже зарезервирован — начинаем компенсацию с его освобождения.
func decidePaymentFailure(s *SagaState, ev *Event, expectedStep Step) Decision {
	if s.Status != StatusInProgress || s.CurrentStep != expectedStep {
		return ignore("сага не ожидает платёжную операцию")
	}

	ctx := s.Context
	ctx.Error = ev.Reason

	return Decision{
		Status:  StatusCompensating,
		Step:    StepVehicleRelease,
		Context: ctx,
		Commands: []Command{{
			TransactionID: s.TransactionID,
			Type:          sagatypes.CommandReleaseVehicle,
			VehicleID:     s.VehicleID,
			Timestamp:     time.Now(),
		}},
	}
}

// decidePaymentProcessed обрабатывает успешную оплату.
//
// Поздний PaymentProcessed при CANCELLING: платёж уже зафиксирован
// участником, но пользователь отменил сделку. Принимаем payment_id
// в context и запрашиваем возврат — отмена продолжает свой путь.
func decidePaymentProcessed(s *SagaState, ev *Event) Decision {
	if s.Status == StatusCancelling {
		ctx := s.Context
		ctx.PaymentID = ev.PaymentID

		return Decision{
			Status:  s.Status,
			Step:    s.CurrentStep,
			Context: ctx,
			Commands: []Command{{
				TransactionID: s.TransactionID,
				Type:          sagatypes.CommandRefundPayment,
				PaymentID:     ev.PaymentID,
				Timestamp:     time.Now(),
			}},
		}
	}

	if s.Status != StatusInProgress || s.CurrentStep != StepPaymentProcessing {
		return ignore("сага не ожидает обработку платежа")
	}

	ctx := s.Context
	ctx.PaymentID = ev.PaymentID

	return Decision{
		Status:          StatusInProgress,
		Step:            StepMarkVehicleAsSold,
		Context:         ctx,
		MarkVehicleSold: true,
	}
}

// decideVehicleReleased — полисемичное событие: ветвление по статусу.
func decideVehicleReleased(s *SagaState) Decision {
	switch {
	case s.Status == StatusCompensating && s.CurrentStep == StepVehicleRelease:
		// Компенсация: автомобиль освобождён, освобождаем кредит.
		return Decision{
			Status:  StatusCompensating,
			Step:    StepCreditRelease,
			Context: s.Context,
			Commands: []Command{{
				TransactionID: s.TransactionID,
				Type:          sagatypes.CommandReleaseCredit,
				CustomerID:    s.CustomerID,
				Amount:        s.Amount,
				PaymentType:   s.PaymentType,
				Timestamp:     time.Now(),
			}},
		}

	case s.Status == StatusCancelling && s.CurrentStep == StepCancellationVehicleRelease:
		// Отмена: автомобиль освобождён, освобождаем кредит.
		return Decision{
			Status:  StatusCancelling,
			Step:    StepCancellationCreditRelease,
			Context: s.Context,
			Commands: []Command{{
				TransactionID: s.TransactionID,
				Type:          sagatypes.CommandReleaseCredit,
				CustomerID:    s.CustomerID,
				Amount:        s.Amount,
				PaymentType:   s.PaymentType,
				Timestamp:     time.Now(),
			}},
		}

	default:
		return ignore("сага не ожидает освобождение автомобиля")
	}
}

// decideCreditReleased — полисемичное событие: ветвление по статусу.
func decideCreditReleased(s *SagaState) Decision {
	switch {
	case s.Status == StatusCompensating && s.CurrentStep == StepCreditRelease:
		// Компенсация завершена: все выполненные шаги откачены.
		return Decision{
			Status:  StatusFailedCompensated,
			Step:    StepCompensationComplete,
			Context: s.Context,
		}

	case s.Status == StatusCancelling && s.CurrentStep == StepCancellationCreditRelease:
		// Отмена завершена: публикуем PurchaseCancelled.
		return Decision{
			Status:  StatusCancelled,
			Step:    StepCancellationComplete,
			Context: s.Context,
			Events: []Event{{
				TransactionID:         s.TransactionID,
				Type:                  sagatypes.EventPurchaseCancelled,
				CustomerID:            s.CustomerID,
				VehicleID:             s.VehicleID,
				CancelledStep:         s.Context.OriginalStep,
				Reason:                s.Context.CancellationReason,
				CompensationCompleted: true,
				Timestamp:             time.Now(),
			}},
		}

	default:
		return ignore("сага не ожидает освобождение кредита")
	}
}

// decidePaymentRefunded фиксирует возврат платежа, запрошенный при отмене.
// Движение подмашины отмены определяют события освобождения,
// возврат лишь отмечается в context.
func decidePaymentRefunded(s *SagaState) Decision {
	if s.Status != StatusCancelling && s.Status != StatusCompensating {
		return ignore("сага не ожидает возврат платежа")
	}

	ctx := s.Context
	ctx.PaymentRefunded = true

	return Decision{
		Status:  s.Status,
		Step:    s.CurrentStep,
		Context: ctx,
	}
}

// decidePaymentRefundFailed — деньги списаны, вернуть не удалось.
// Автоматика дальше не идёт: эскалация оператору.
func decidePaymentRefundFailed(s *SagaState, ev *Event) Decision {
	if s.Status != StatusCancelling && s.Status != StatusCompensating {
		return ignore("сага не ожидает возврат платежа")
	}

	ctx := s.Context
	ctx.CompensationError = ev.Reason

	return Decision{
		Status:  StatusFailedManualIntervention,
		Step:    StepPaymentRefundFailed,
		Context: ctx,
	}
}

// =============================================================================
// Отмена по запросу пользователя
// =============================================================================

// CancelOutcome — классификация результата запроса на отмену.
type CancelOutcome int

const (
	// CancelAccepted — отмена принята, запущена подмашина отмены.
	CancelAccepted CancelOutcome = iota

	// CancelAlreadyInProgress — отмена уже выполняется (409).
	CancelAlreadyInProgress

	// CancelCompensating — сага уже компенсируется, отменять нечего (409).
	CancelCompensating

	// CancelTooAdvanced — продажа финализируется, отмена отклонена (400).
	CancelTooAdvanced

	// CancelAlreadyCompleted — сага уже завершена, отмена отклонена (400).
	CancelAlreadyCompleted

	// CancelTerminal — сага в ином терминальном состоянии, отменять нечего (400).
	CancelTerminal
)

// Тексты отказов отмены (видимы клиенту и в context.cancellation_error).
const (
	ReasonCancelTooAdvanced      = "Transaction too advanced to cancel. Vehicle sale is being finalized."
	ReasonCancelAlreadyCompleted = "Transaction already completed"
)

// CancelDecision — результат DecideCancel.
type CancelDecision struct {
	Outcome CancelOutcome

	// Apply — true, если состояние саги нужно персистить
	// (в том числе для отклонённой отмены со статусом CANCELLATION_FAILED).
	Apply bool

	Status  Status
	Step    Step
	Context Context

	Commands []Command
	Events   []Event
}

// DecideCancel обрабатывает запрос на отмену саги.
// Диспетчеризация идёт по исходному шагу: отменяются только те операции,
// которые сага уже успела выполнить.
func DecideCancel(s *SagaState, reason string, now time.Time) CancelDecision {
	// Отмена уже идёт.
	if s.Status == StatusCancelling || s.Status == StatusCancellationRequested {
		return CancelDecision{Outcome: CancelAlreadyInProgress}
	}

	// Компенсация уже разворачивает сагу.
	if s.Status == StatusCompensating {
		return CancelDecision{Outcome: CancelCompensating}
	}

	ctx := s.Context
	ctx.CancellationReason = reason
	ctx.CancelRequestedAt = &now
	ctx.OriginalStep = string(s.CurrentStep)

	// Завершённая сага: фиксируем отклонённую отмену.
	if s.Status == StatusCompleted {
		ctx.CancellationError = ReasonCancelAlreadyCompleted
		return CancelDecision{
			Outcome: CancelAlreadyCompleted,
			Apply:   true,
			Status:  StatusCancellationFailed,
			Step:    s.CurrentStep,
			Context: ctx,
			Events: []Event{{
				TransactionID: s.TransactionID,
				Type:          sagatypes.EventPurchaseCancellationFailed,
				Reason:        ReasonCancelAlreadyCompleted,
				CurrentStep:   string(s.CurrentStep),
				Timestamp:     now,
			}},
		}
	}

	// Прочие терминальные состояния: отменять нечего.
	if s.Status.IsTerminal() {
		return CancelDecision{Outcome: CancelTerminal}
	}

	switch s.CurrentStep {
	case StepMarkVehicleAsSold, StepSagaComplete:
		// Продажа финализируется — отклоняем.
		ctx.CancellationError = ReasonCancelTooAdvanced
		return CancelDecision{
			Outcome: CancelTooAdvanced,
			Apply:   true,
			Status:  StatusCancellationFailed,
			Step:    s.CurrentStep,
			Context: ctx,
			Events: []Event{{
				TransactionID: s.TransactionID,
				Type:          sagatypes.EventPurchaseCancellationFailed,
				Reason:        ReasonCancelTooAdvanced,
				CurrentStep:   string(s.CurrentStep),
				Timestamp:     now,
			}},
		}

	case StepVehicleReservation, StepPaymentCodeGeneration, StepPaymentProcessing:
		// Автомобиль уже (возможно) зарезервирован — освобождаем сначала его.
		return CancelDecision{
			Outcome: CancelAccepted,
			Apply:   true,
			Status:  StatusCancelling,
			Step:    StepCancellationVehicleRelease,
			Context: ctx,
			Commands: []Command{{
				TransactionID: s.TransactionID,
				Type:          sagatypes.CommandReleaseVehicle,
				VehicleID:     s.VehicleID,
				Timestamp:     now,
			}},
		}

	default:
		// STARTED или CREDIT_RESERVATION — выполнен максимум кредитный шаг.
		return CancelDecision{
			Outcome: CancelAccepted,
			Apply:   true,
			Status:  StatusCancelling,
			Step:    StepCancellationCreditRelease,
			Context: ctx,
			Commands: []Command{{
				TransactionID: s.TransactionID,
				Type:          sagatypes.CommandReleaseCredit,
				CustomerID:    s.CustomerID,
				Amount:        s.Amount,
				PaymentType:   s.PaymentType,
				Timestamp:     now,
			}},
		}
	}
}

// =============================================================================
// Таймаут зависших саг
// =============================================================================

// DecideTimeout строит решение для саги, зависшей в нетерминальном состоянии
// дольше допустимого. Ответ участника мог потеряться до записи в его outbox —
// запускаем компенсацию с того места, где сага остановилась.
func DecideTimeout(s *SagaState, reason string) Decision {
	if s.Status.IsTerminal() {
		return ignore("сага уже в терминальном состоянии")
	}

	ctx := s.Context
	ctx.Error = reason

	switch s.Status {
	case StatusInProgress, StatusStarted:
		switch s.CurrentStep {
		case StepCreditReservation:
			// Кредитный шаг не подтверждён — компенсация не требуется,
			// но кредит мог быть зарезервирован без ответа: освобождаем вслепую
			// (release идемпотентен на стороне участника).
			return Decision{
				Status:  StatusCompensating,
				Step:    StepCreditRelease,
				Context: ctx,
				Commands: []Command{{
					TransactionID: s.TransactionID,
					Type:          sagatypes.CommandReleaseCredit,
					CustomerID:    s.CustomerID,
					Amount:        s.Amount,
					PaymentType:   s.PaymentType,
					Timestamp:     time.Now(),
				}},
			}
		case StepMarkVehicleAsSold:
			// Платёж прошёл, продажа не подтверждена — только оператор.
			return Decision{
				Status:  StatusFailedManualIntervention,
				Step:    StepMarkVehicleAsSoldFailed,
				Context: ctx,
			}
		default:
			// Автомобиль мог быть зарезервирован: полная компенсация.
			return Decision{
				Status:  StatusCompensating,
				Step:    StepVehicleRelease,
				Context: ctx,
				Commands: []Command{{
					TransactionID: s.TransactionID,
					Type:          sagatypes.CommandReleaseVehicle,
					VehicleID:     s.VehicleID,
					Timestamp:     time.Now(),
				}},
			}
		}

	case StatusCompensating, StatusCancelling, StatusCancellationRequested:
		// Компенсация или отмена зависла — повторная доставка не помогла,
		// эскалация оператору.
		ctx.CompensationError = reason
		return Decision{
			Status:  StatusFailedManualIntervention,
			Step:    s.CurrentStep,
			Context: ctx,
		}

	default:
		return ignore("статус не подлежит обработке по таймауту")
	}
}
