package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVehicle() *Vehicle {
	return &Vehicle{
		ID:           "veh-1",
		Brand:        "Toyota",
		Model:        "Corolla",
		Year:         2023,
		Color:        "Prata",
		Price:        3500000,
		LicensePlate: "ABC1D23",
	}
}

// =============================================================================
// Reserve
// =============================================================================

func TestVehicle_Reserve_Available(t *testing.T) {
	vehicle := newTestVehicle()

	err := vehicle.Reserve("txn-1")

	require.NoError(t, err)
	assert.True(t, vehicle.IsReserved)
	assert.Equal(t, "txn-1", vehicle.ReservedBy)
	assert.Equal(t, VehicleStatusReserved, vehicle.Status())
}

func TestVehicle_Reserve_SameTransaction_Idempotent(t *testing.T) {
	vehicle := newTestVehicle()
	require.NoError(t, vehicle.Reserve("txn-1"))

	// Повторная доставка команды той же саги.
	err := vehicle.Reserve("txn-1")

	require.NoError(t, err)
	assert.True(t, vehicle.IsReserved)
	assert.Equal(t, "txn-1", vehicle.ReservedBy)
}

func TestVehicle_Reserve_AlreadyReservedByOther(t *testing.T) {
	vehicle := newTestVehicle()
	require.NoError(t, vehicle.Reserve("txn-1"))

	err := vehicle.Reserve("txn-2")

	assert.ErrorIs(t, err, ErrVehicleNotAvailable)
	assert.Equal(t, "Vehicle already reserved or sold", err.Error())
	assert.Equal(t, "txn-1", vehicle.ReservedBy)
}

func TestVehicle_Reserve_Sold(t *testing.T) {
	vehicle := newTestVehicle()
	vehicle.IsSold = true

	err := vehicle.Reserve("txn-1")

	assert.ErrorIs(t, err, ErrVehicleNotAvailable)
	assert.False(t, vehicle.IsReserved)
}

// =============================================================================
// Release
// =============================================================================

func TestVehicle_Release_Reserved(t *testing.T) {
	vehicle := newTestVehicle()
	require.NoError(t, vehicle.Reserve("txn-1"))

	released := vehicle.Release("txn-1")

	assert.True(t, released)
	assert.False(t, vehicle.IsReserved)
	assert.Empty(t, vehicle.ReservedBy)
	assert.Equal(t, VehicleStatusAvailable, vehicle.Status())
}

func TestVehicle_Release_NotReserved_NoOp(t *testing.T) {
	vehicle := newTestVehicle()

	released := vehicle.Release("txn-1")

	assert.False(t, released)
	assert.False(t, vehicle.IsReserved)
}

func TestVehicle_Release_OtherTransaction_KeepsReservation(t *testing.T) {
	vehicle := newTestVehicle()
	require.NoError(t, vehicle.Reserve("txn-1"))

	// Запоздавший release чужой саги не снимает актуальный резерв.
	released := vehicle.Release("txn-2")

	assert.False(t, released)
	assert.True(t, vehicle.IsReserved)
	assert.Equal(t, "txn-1", vehicle.ReservedBy)
}

func TestVehicle_Release_Sold_NoOp(t *testing.T) {
	vehicle := newTestVehicle()
	require.NoError(t, vehicle.Reserve("txn-1"))
	vehicle.MarkAsSold()

	released := vehicle.Release("txn-1")

	assert.False(t, released)
	assert.True(t, vehicle.IsSold)
}

// =============================================================================
// MarkAsSold / Status / Editable
// =============================================================================

func TestVehicle_MarkAsSold_ClearsReservation(t *testing.T) {
	vehicle := newTestVehicle()
	require.NoError(t, vehicle.Reserve("txn-1"))

	vehicle.MarkAsSold()

	assert.True(t, vehicle.IsSold)
	assert.False(t, vehicle.IsReserved)
	assert.Equal(t, VehicleStatusSold, vehicle.Status())
}

func TestVehicle_Status(t *testing.T) {
	tests := []struct {
		name       string
		isReserved bool
		isSold     bool
		want       string
	}{
		{"доступен", false, false, VehicleStatusAvailable},
		{"зарезервирован", true, false, VehicleStatusReserved},
		{"продан", false, true, VehicleStatusSold},
		{"продан приоритетнее резерва", true, true, VehicleStatusSold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vehicle := newTestVehicle()
			vehicle.IsReserved = tt.isReserved
			vehicle.IsSold = tt.isSold

			assert.Equal(t, tt.want, vehicle.Status())
		})
	}
}

func TestVehicle_Editable(t *testing.T) {
	vehicle := newTestVehicle()
	assert.True(t, vehicle.Editable())

	require.NoError(t, vehicle.Reserve("txn-1"))
	assert.False(t, vehicle.Editable())

	vehicle.Release("txn-1")
	assert.True(t, vehicle.Editable())

	vehicle.MarkAsSold()
	assert.False(t, vehicle.Editable())
}

// =============================================================================
// MaskedLicensePlate / Validate
// =============================================================================

func TestVehicle_MaskedLicensePlate(t *testing.T) {
	tests := []struct {
		plate string
		want  string
	}{
		{"ABC1D23", "****D23"},
		{"XYZ9876AB", "******6AB"},
		{"AB1", "AB1"},
	}

	for _, tt := range tests {
		vehicle := newTestVehicle()
		vehicle.LicensePlate = tt.plate

		assert.Equal(t, tt.want, vehicle.MaskedLicensePlate())
	}
}

func TestVehicle_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(v *Vehicle)
		wantErr bool
	}{
		{"валидный", func(v *Vehicle) {}, false},
		{"короткая марка", func(v *Vehicle) { v.Brand = "T" }, true},
		{"пустая модель", func(v *Vehicle) { v.Model = "" }, true},
		{"год до 1900", func(v *Vehicle) { v.Year = 1899 }, true},
		{"год из будущего", func(v *Vehicle) { v.Year = time.Now().Year() + 2 }, true},
		{"следующий год допустим", func(v *Vehicle) { v.Year = time.Now().Year() + 1 }, false},
		{"короткий цвет", func(v *Vehicle) { v.Color = "ab" }, true},
		{"нулевая цена", func(v *Vehicle) { v.Price = 0 }, true},
		{"короткий госномер", func(v *Vehicle) { v.LicensePlate = "AB12" }, true},
		{"длинный госномер", func(v *Vehicle) { v.LicensePlate = "ABCDE123456" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vehicle := newTestVehicle()
			tt.mutate(vehicle)

			err := vehicle.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
