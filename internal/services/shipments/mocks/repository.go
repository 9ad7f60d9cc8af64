package mocks

import (
	"context"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetShipmentsByIDs(ctx context.Context, ids []string) ([]*models.Shipment, error) {
	args := m.Called(ctx, ids)
	var out []*models.Shipment
	if v := args.Get(0); v != nil {
		out = v.([]*models.Shipment)
	}
	return out, args.Error(1)
}

func (m *MockRepository) UpdateShipmentStatus(ctx context.Context, shipmentID, status string, location *string) (*models.Shipment, error) {
	args := m.Called(ctx, shipmentID, status, location)
	var out *models.Shipment
	if v := args.Get(0); v != nil {
		out = v.(*models.Shipment)
	}
	return out, args.Error(1)
}

func (m *MockRepository) DeleteShipment(ctx context.Context, shipmentID string) error {
	args := m.Called(ctx, shipmentID)
	return args.Error(0)
}
