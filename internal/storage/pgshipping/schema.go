package pgshipping

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS vehicles (
  id BIGSERIAL PRIMARY KEY,
  plate TEXT NOT NULL UNIQUE,
  home_center TEXT NOT NULL,
  current_center TEXT NOT NULL,
  available BOOLEAN NOT NULL DEFAULT TRUE,
  weight_capacity NUMERIC NOT NULL,
  volume_capacity NUMERIC NOT NULL,
  driver_id TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_available ON vehicles(current_center) WHERE available`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id TEXT PRIMARY KEY,
  seq INT NOT NULL,
  delivery_type TEXT NOT NULL,
  source_center TEXT NOT NULL,
  route TEXT[] NOT NULL,
  current_location TEXT NOT NULL,
  total_distance NUMERIC NOT NULL,
  total_time NUMERIC NOT NULL,
  total_weight NUMERIC NOT NULL,
  total_volume NUMERIC NOT NULL,
  parcel_count INT NOT NULL,
  parcel_ids BIGINT[] NOT NULL,
  arrivals JSONB NOT NULL,
  finish_time NUMERIC NOT NULL,
  vehicle_id BIGINT NULL REFERENCES vehicles(id),
  driver_id TEXT NULL,
  vehicle_released BOOLEAN NOT NULL DEFAULT FALSE,
  status TEXT NOT NULL,
  relay_for TEXT NULL,
  created_by_center TEXT NOT NULL,
  created_by_staff TEXT NOT NULL DEFAULT '',
  vehicle_attempts INT NOT NULL DEFAULT 0,
  next_assign_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_source_type_seq ON shipments(source_center, delivery_type, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_next_assign_at ON shipments(next_assign_at) WHERE vehicle_id IS NULL`,
		// Одна машина на одну отгрузку, пока машину не отпустили.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipments_held_vehicle ON shipments(vehicle_id) WHERE vehicle_id IS NOT NULL AND NOT vehicle_released`,
		`
CREATE TABLE IF NOT EXISTS parcels (
  id BIGSERIAL PRIMARY KEY,
  source_center TEXT NOT NULL DEFAULT '',
  destination_center TEXT NOT NULL DEFAULT '',
  item_size TEXT NOT NULL,
  shipping_method TEXT NOT NULL,
  shipment_id TEXT NULL REFERENCES shipments(id) ON DELETE SET NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_parcels_pending ON parcels(source_center, shipping_method) WHERE shipment_id IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_parcels_shipment_id ON parcels(shipment_id)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
