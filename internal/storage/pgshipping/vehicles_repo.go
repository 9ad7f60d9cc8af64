package pgshipping

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const vehicleColumns = `
  id, plate, home_center, current_center, available,
  weight_capacity, volume_capacity, driver_id`

// UpsertVehicle creates the vehicle or refreshes its static data by plate.
// Availability and position of an existing vehicle are left alone.
func (s *Storage) UpsertVehicle(ctx context.Context, v *models.Vehicle) error {
	now := time.Now().UTC()
	err := s.db.QueryRow(ctx, `
INSERT INTO vehicles (
  plate, home_center, current_center, available, weight_capacity, volume_capacity, driver_id, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (plate) DO UPDATE SET
  home_center = EXCLUDED.home_center,
  weight_capacity = EXCLUDED.weight_capacity,
  volume_capacity = EXCLUDED.volume_capacity,
  driver_id = EXCLUDED.driver_id,
  updated_at = EXCLUDED.updated_at
RETURNING id, current_center, available
`, v.Plate, v.HomeCenter, v.CurrentCenter, v.Available, v.WeightCapacity, v.VolumeCapacity, v.DriverID, now).
		Scan(&v.ID, &v.CurrentCenter, &v.Available)
	if err != nil {
		return errors.Wrap(err, "upsert vehicle")
	}
	return nil
}

func (s *Storage) GetVehicle(ctx context.Context, id uint64) (*models.Vehicle, error) {
	rows, err := s.db.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id)
	if err != nil {
		return nil, errors.Wrap(err, "select vehicle")
	}
	defer rows.Close()
	out, err := scanVehicles(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out[0], nil
}

// ListAvailableVehicles returns free vehicles parked at center that can carry
// the load, smallest sufficient first.
func (s *Storage) ListAvailableVehicles(ctx context.Context, center string, weight, volume decimal.Decimal) ([]*models.Vehicle, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+vehicleColumns+`
FROM vehicles
WHERE available
  AND current_center = $1
  AND weight_capacity >= $2
  AND volume_capacity >= $3
ORDER BY weight_capacity ASC, volume_capacity ASC, id ASC
`, center, weight, volume)
	if err != nil {
		return nil, errors.Wrap(err, "select available vehicles")
	}
	defer rows.Close()
	return scanVehicles(rows)
}

type Reservation struct {
	VehicleID  uint64
	ShipmentID string
	// Status the shipment moves to once the vehicle is attached.
	Status string
	// MoveTo relocates the vehicle (relay pickup). Empty keeps it where it is.
	MoveTo string
}

// ReserveVehicle flips the vehicle from available to taken and attaches it to
// the shipment in one tx. ok is false when another shipment got the vehicle
// first.
func (s *Storage) ReserveVehicle(ctx context.Context, r Reservation) (*models.Vehicle, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
UPDATE vehicles
SET available = FALSE,
    current_center = CASE WHEN $2 = '' THEN current_center ELSE $2 END,
    updated_at = now()
WHERE id = $1 AND available
RETURNING `+vehicleColumns, r.VehicleID, r.MoveTo)
	if err != nil {
		return nil, false, errors.Wrap(err, "reserve vehicle")
	}
	got, err := scanVehicles(rows)
	rows.Close()
	if err != nil {
		return nil, false, err
	}
	if len(got) == 0 {
		return nil, false, nil
	}
	v := got[0]

	tag, err := tx.Exec(ctx, `
UPDATE shipments
SET vehicle_id = $2, driver_id = $3, status = $4, updated_at = now()
WHERE id = $1 AND vehicle_id IS NULL
`, r.ShipmentID, v.ID, v.DriverID, r.Status)
	if err != nil {
		return nil, false, errors.Wrap(err, "attach vehicle")
	}
	if tag.RowsAffected() == 0 {
		return nil, false, errors.Wrap(ErrShipmentNotPending, r.ShipmentID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "commit tx")
	}
	return v, true, nil
}

func releaseVehicle(ctx context.Context, tx pgx.Tx, id uint64) error {
	_, err := tx.Exec(ctx, `UPDATE vehicles SET available = TRUE, updated_at = now() WHERE id = $1`, id)
	return errors.Wrap(err, "release vehicle")
}

func scanVehicles(rows pgx.Rows) ([]*models.Vehicle, error) {
	var out []*models.Vehicle
	for rows.Next() {
		var v models.Vehicle
		if err := rows.Scan(
			&v.ID, &v.Plate, &v.HomeCenter, &v.CurrentCenter, &v.Available,
			&v.WeightCapacity, &v.VolumeCapacity, &v.DriverID,
		); err != nil {
			return nil, errors.Wrap(err, "scan vehicle")
		}
		out = append(out, &v)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
