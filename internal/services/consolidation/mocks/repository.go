package mocks

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ListPendingParcels(ctx context.Context, q models.ParcelQuery) ([]*models.Parcel, error) {
	args := m.Called(ctx, q)
	var out []*models.Parcel
	if v := args.Get(0); v != nil {
		out = v.([]*models.Parcel)
	}
	return out, args.Error(1)
}

func (m *MockRepository) GetParcelsByIDs(ctx context.Context, ids []uint64) ([]*models.Parcel, error) {
	args := m.Called(ctx, ids)
	var out []*models.Parcel
	if v := args.Get(0); v != nil {
		out = v.([]*models.Parcel)
	}
	return out, args.Error(1)
}

func (m *MockRepository) NextShipmentSequence(ctx context.Context, center string, dt models.DeliveryType) (int, error) {
	args := m.Called(ctx, center, dt)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) CreateShipment(ctx context.Context, sh *models.Shipment) error {
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
