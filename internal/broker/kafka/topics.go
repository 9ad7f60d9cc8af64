package kafka

// Топики по умолчанию, переопределяются в конфиге.
const (
	TopicShipmentCreated       = "shipment.created"
	TopicVehicleAssigned       = "shipment.vehicle_assigned"
	TopicShipmentStatusChanged = "shipment.status_changed"
)
