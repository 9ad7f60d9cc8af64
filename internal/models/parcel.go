package models

import "time"

// Статусы посылки. Дальше ShipmentAssigned посылку двигают другие стадии.
const (
	ParcelStatusCreated                   = "Created"
	ParcelStatusShipmentAssigned          = "ShipmentAssigned"
	ParcelStatusInTransit                 = "InTransit"
	ParcelStatusArrivedAtCollectionCenter = "ArrivedAtCollectionCenter"
	ParcelStatusDelivered                 = "Delivered"
)

type ItemSize string

const (
	ItemSizeSmall  ItemSize = "small"
	ItemSizeMedium ItemSize = "medium"
	ItemSizeLarge  ItemSize = "large"
)

type Parcel struct {
	ID                uint64
	SourceCenter      string
	DestinationCenter string
	ItemSize          ItemSize
	ShippingMethod    DeliveryType
	ShipmentID        *string
	Status            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Assigned reports whether the parcel is already part of a shipment.
func (p *Parcel) Assigned() bool {
	return p.ShipmentID != nil && *p.ShipmentID != ""
}

type ParcelQuery struct {
	SourceCenter      string
	DestinationCenter string // optional
	ShippingMethod    DeliveryType
}
