package messages

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ShipmentCreated struct {
	EventID      uuid.UUID `json:"event_id"`
	ShipmentID   string    `json:"shipment_id"`
	DeliveryType string    `json:"delivery_type"`
	SourceCenter string    `json:"source_center"`
	Route        []string  `json:"route"`
	ParcelIDs    []uint64  `json:"parcel_ids"`

	TotalDistance decimal.Decimal `json:"total_distance_km"`
	TotalTime     decimal.Decimal `json:"total_time_hours"`
	TotalWeight   decimal.Decimal `json:"total_weight_kg"`
	TotalVolume   decimal.Decimal `json:"total_volume_m3"`
	FinishTime    decimal.Decimal `json:"finish_time_hours"`

	RelayFor  *string   `json:"relay_for,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type VehicleAssigned struct {
	EventID     uuid.UUID `json:"event_id"`
	ShipmentID  string    `json:"shipment_id"`
	VehicleID   uint64    `json:"vehicle_id"`
	DriverID    *string   `json:"driver_id,omitempty"`
	Status      string    `json:"status"`
	Relay       bool      `json:"relay"`
	RelayCenter string    `json:"relay_center,omitempty"`
	// Отгрузка-подвоз, созданная вместе с назначением.
	RelayShipmentID *string   `json:"relay_shipment_id,omitempty"`
	AssignedAt      time.Time `json:"assigned_at"`
}

// ShipmentStatusChanged comes from downstream stages (dispatch, delivery).
type ShipmentStatusChanged struct {
	EventID    uuid.UUID `json:"event_id"`
	ShipmentID string    `json:"shipment_id"`
	Status     string    `json:"status"`
	Location   *string   `json:"location,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}
