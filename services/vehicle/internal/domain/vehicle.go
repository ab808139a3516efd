package domain

import (
	"errors"
	"strings"
	"time"
)

// Статусы автомобиля (производные от флагов is_reserved / is_sold).
const (
	VehicleStatusAvailable = "available"
	VehicleStatusReserved  = "reserved"
	VehicleStatusSold      = "sold"
)

// =============================================================================
// Vehicle — доменная сущность
// =============================================================================

// Vehicle — автомобиль в каталоге. Цена в центах.
// ReservedBy хранит transaction_id саги, удерживающей резерв:
// повторная доставка команды RESERVE_VEHICLE той же саги распознаётся
// как уже применённая, а release чужой саги резерв не снимает.
type Vehicle struct {
	ID           string    // UUID автомобиля
	Brand        string    // Марка
	Model        string    // Модель
	Year         int       // Год выпуска
	Color        string    // Цвет
	Price        int64     // Цена в центах
	LicensePlate string    // Госномер (уникальный)
	IsReserved   bool      // Зарезервирован сагой
	IsSold       bool      // Продан
	ReservedBy   string    // transaction_id удерживающей саги
	CreatedAt    time.Time // Дата создания
	UpdatedAt    time.Time // Дата обновления
}

// Status возвращает статус автомобиля. Продан имеет приоритет над резервом.
func (v *Vehicle) Status() string {
	switch {
	case v.IsSold:
		return VehicleStatusSold
	case v.IsReserved:
		return VehicleStatusReserved
	default:
		return VehicleStatusAvailable
	}
}

// MaskedLicensePlate возвращает госномер с маскированными символами,
// кроме последних трёх.
func (v *Vehicle) MaskedLicensePlate() string {
	if len(v.LicensePlate) <= 3 {
		return v.LicensePlate
	}
	return strings.Repeat("*", len(v.LicensePlate)-3) + v.LicensePlate[len(v.LicensePlate)-3:]
}

// Editable сообщает, допускает ли автомобиль изменение через CRUD.
// Зарезервированный или проданный автомобиль редактировать нельзя:
// цена зафиксирована в идущей саге.
func (v *Vehicle) Editable() bool {
	return !v.IsReserved && !v.IsSold
}

// Reserve резервирует автомобиль под сагу transactionID.
// Повторный вызов той же саги — no-op без ошибки (идемпотентность
// при повторной доставке команды). Продан или занят другой сагой —
// ErrVehicleNotAvailable.
func (v *Vehicle) Reserve(transactionID string) error {
	if v.IsSold {
		return ErrVehicleNotAvailable
	}
	if v.IsReserved {
		if v.ReservedBy == transactionID {
			return nil
		}
		return ErrVehicleNotAvailable
	}

	v.IsReserved = true
	v.ReservedBy = transactionID
	return nil
}

// Release снимает резерв саги transactionID.
// Не отказывает никогда: снятие уже снятого резерва, резерв чужой саги
// или проданный автомобиль — no-op. Возвращает true, если резерв
// действительно был снят этим вызовом.
func (v *Vehicle) Release(transactionID string) bool {
	if !v.IsReserved || v.IsSold {
		return false
	}
	if v.ReservedBy != "" && v.ReservedBy != transactionID {
		return false
	}

	v.IsReserved = false
	v.ReservedBy = ""
	return true
}

// MarkAsSold помечает автомобиль проданным и снимает резерв.
func (v *Vehicle) MarkAsSold() {
	v.IsSold = true
	v.IsReserved = false
}

// Validate проверяет корректность полей автомобиля.
func (v *Vehicle) Validate() error {
	if len(v.Brand) < 2 {
		return errors.New("марка должна содержать минимум 2 символа")
	}
	if v.Model == "" {
		return errors.New("модель обязательна")
	}
	if v.Year < 1900 || v.Year > time.Now().Year()+1 {
		return errors.New("год выпуска вне допустимого диапазона")
	}
	if len(v.Color) < 3 {
		return errors.New("цвет должен содержать минимум 3 символа")
	}
	if v.Price <= 0 {
		return errors.New("цена должна быть положительной")
	}
	if len(v.LicensePlate) < 7 || len(v.LicensePlate) > 10 {
		return errors.New("госномер должен содержать от 7 до 10 символов")
	}
	return nil
}
