package mocks

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage/pgshipping"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type Rand struct {
	mock.Mock
}

func (m *Rand) Intn(n int) int {
	args := m.Called(n)
	return args.Int(0)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ListAvailableVehicles(ctx context.Context, center string, weight, volume decimal.Decimal) ([]*models.Vehicle, error) {
	args := m.Called(ctx, center, weight, volume)
	var out []*models.Vehicle
	if v := args.Get(0); v != nil {
		out = v.([]*models.Vehicle)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ReserveVehicle(ctx context.Context, r pgshipping.Reservation) (*models.Vehicle, bool, error) {
	args := m.Called(ctx, r)
	var v *models.Vehicle
	if x := args.Get(0); x != nil {
		v = x.(*models.Vehicle)
	}
	return v, args.Bool(1), args.Error(2)
}

func (m *MockRepository) ListPendingParcels(ctx context.Context, q models.ParcelQuery) ([]*models.Parcel, error) {
	args := m.Called(ctx, q)
	var out []*models.Parcel
	if v := args.Get(0); v != nil {
		out = v.([]*models.Parcel)
	}
	return out, args.Error(1)
}

func (m *MockRepository) RescheduleAssignment(ctx context.Context, shipmentID string, attempts int32, next time.Time) error {
	args := m.Called(ctx, shipmentID, attempts, next)
	return args.Error(0)
}

type MockShipmentCreator struct {
	mock.Mock
}

func (m *MockShipmentCreator) Create(ctx context.Context, sh *models.Shipment) error {
	args := m.Called(ctx, sh)
	return args.Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	args := m.Called(ctx, key, ttl)
	var unlock func(context.Context) error
	if v := args.Get(0); v != nil {
		unlock = v.(func(context.Context) error)
	}
	return unlock, args.Bool(1), args.Error(2)
}

type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) Forget(ctx context.Context, shipmentID string) {
	m.Called(ctx, shipmentID)
}
