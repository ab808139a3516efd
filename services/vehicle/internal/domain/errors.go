package domain

import "errors"

// Ошибки доменного слоя Vehicle Service.
// Тексты ErrVehicleNotFound и ErrVehicleNotAvailable уходят в поле reason
// события VehicleReservationFailed и в ответы API — это часть контракта,
// поэтому они на английском.
var (
	ErrVehicleNotFound       = errors.New("Vehicle not found")
	ErrVehicleNotAvailable   = errors.New("Vehicle already reserved or sold")
	ErrVehicleNotEditable    = errors.New("Cannot edit vehicle that is reserved or sold")
	ErrDuplicateLicensePlate = errors.New("Vehicle with this license plate already exists")
)
