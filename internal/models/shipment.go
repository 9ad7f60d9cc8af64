package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DeliveryType string

const (
	DeliveryExpress  DeliveryType = "Express"
	DeliveryStandard DeliveryType = "Standard"
)

func (t DeliveryType) IsValid() bool {
	switch t {
	case DeliveryExpress, DeliveryStandard:
		return true
	default:
		return false
	}
}

// IDPrefix is the shipment id prefix: EX for Express, ST for Standard.
func (t DeliveryType) IDPrefix() string {
	if t == DeliveryExpress {
		return "EX"
	}
	return "ST"
}

const (
	ShipmentStatusPending    = "Pending"
	ShipmentStatusVerified   = "Verified"
	ShipmentStatusInTransit  = "In Transit"
	ShipmentStatusDispatched = "Dispatched"
	ShipmentStatusCompleted  = "Completed"
)

func IsValidShipmentStatus(s string) bool {
	switch s {
	case ShipmentStatusPending, ShipmentStatusVerified, ShipmentStatusInTransit,
		ShipmentStatusDispatched, ShipmentStatusCompleted:
		return true
	default:
		return false
	}
}

// Arrival is the cumulative hour offset at which the shipment reaches Center.
type Arrival struct {
	Center string          `json:"center"`
	Hours  decimal.Decimal `json:"hours"`
}

type Shipment struct {
	ID              string
	Sequence        int
	DeliveryType    DeliveryType
	SourceCenter    string
	Route           []string
	CurrentLocation string

	TotalDistance decimal.Decimal
	TotalTime     decimal.Decimal
	TotalWeight   decimal.Decimal
	TotalVolume   decimal.Decimal
	ParcelCount   int
	ParcelIDs     []uint64

	Arrivals   []Arrival
	FinishTime decimal.Decimal

	VehicleID *uint64
	DriverID  *string
	// VehicleReleased: машину уже вернули в пул (Completed или удаление).
	VehicleReleased bool
	Status          string
	RelayFor        *string

	CreatedByCenter string
	CreatedByStaff  string

	VehicleAttempts int32
	NextAssignAt    time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LastStop returns the tail of the route.
func (s *Shipment) LastStop() string {
	if len(s.Route) == 0 {
		return s.SourceCenter
	}
	return s.Route[len(s.Route)-1]
}
