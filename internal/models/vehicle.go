package models

import "github.com/shopspring/decimal"

type Vehicle struct {
	ID             uint64
	Plate          string
	HomeCenter     string
	CurrentCenter  string
	Available      bool
	WeightCapacity decimal.Decimal
	VolumeCapacity decimal.Decimal
	DriverID       *string
}

// Fits reports whether the vehicle can carry the given load.
func (v *Vehicle) Fits(weight, volume decimal.Decimal) bool {
	return v.WeightCapacity.GreaterThanOrEqual(weight) && v.VolumeCapacity.GreaterThanOrEqual(volume)
}
