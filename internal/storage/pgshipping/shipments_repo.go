package pgshipping

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const shipmentColumns = `
  id, seq, delivery_type, source_center, route, current_location,
  total_distance, total_time, total_weight, total_volume,
  parcel_count, parcel_ids, arrivals, finish_time,
  vehicle_id, driver_id, vehicle_released, status, relay_for,
  created_by_center, created_by_staff,
  vehicle_attempts, next_assign_at,
  created_at, updated_at`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// NextShipmentSequence is one more than the highest sequence used so far for
// the center and delivery type.
func (s *Storage) NextShipmentSequence(ctx context.Context, center string, dt models.DeliveryType) (int, error) {
	var seq int
	err := s.db.QueryRow(ctx, `
SELECT COALESCE(MAX(seq), 0) + 1
FROM shipments
WHERE source_center = $1 AND delivery_type = $2
`, center, string(dt)).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "select next shipment seq")
	}
	return seq, nil
}

// CreateShipment inserts the shipment and attaches its parcels in one tx.
// Parcels that already belong to a shipment abort the whole insert.
func (s *Storage) CreateShipment(ctx context.Context, sh *models.Shipment) error {
	now := time.Now().UTC()
	if sh.NextAssignAt.IsZero() {
		sh.NextAssignAt = now
	}
	if sh.CurrentLocation == "" {
		sh.CurrentLocation = sh.SourceCenter
	}
	arrivals, err := json.Marshal(sh.Arrivals)
	if err != nil {
		return errors.Wrap(err, "marshal arrivals")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
INSERT INTO shipments (`+shipmentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$24)
ON CONFLICT (id) DO NOTHING
`,
		sh.ID, sh.Sequence, string(sh.DeliveryType), sh.SourceCenter, sh.Route, sh.CurrentLocation,
		sh.TotalDistance, sh.TotalTime, sh.TotalWeight, sh.TotalVolume,
		sh.ParcelCount, toInt64s(sh.ParcelIDs), arrivals, sh.FinishTime,
		sh.VehicleID, sh.DriverID, sh.VehicleReleased, sh.Status, sh.RelayFor,
		sh.CreatedByCenter, sh.CreatedByStaff,
		sh.VehicleAttempts, sh.NextAssignAt.UTC(),
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(ErrDuplicateShipmentID, sh.ID)
		}
		return errors.Wrap(err, "insert shipment")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(ErrDuplicateShipmentID, sh.ID)
	}

	if len(sh.ParcelIDs) > 0 {
		tag, err = tx.Exec(ctx, `
UPDATE parcels
SET shipment_id = $1, status = $3, updated_at = now()
WHERE id = ANY($2) AND shipment_id IS NULL
`, sh.ID, sh.ParcelIDs, models.ParcelStatusShipmentAssigned)
		if err != nil {
			return errors.Wrap(err, "assign parcels")
		}
		if int(tag.RowsAffected()) != len(sh.ParcelIDs) {
			return errors.Wrap(ErrParcelConflict, sh.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	sh.CreatedAt, sh.UpdatedAt = now, now
	return nil
}

func (s *Storage) GetShipmentsByIDs(ctx context.Context, ids []string) ([]*models.Shipment, error) {
	if len(ids) == 0 {
		return []*models.Shipment{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()
	return scanShipments(rows)
}

// ClaimDueShipments выбирает Pending-отгрузки без машины, у которых подошло
// время попытки назначения, и сдвигает им next_assign_at на lease, чтобы их не
// взял параллельный воркер. SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE next_assign_at <= $1
  AND status = $2
  AND vehicle_id IS NULL
ORDER BY next_assign_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), models.ShipmentStatusPending, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due shipments")
	}
	picked, err := scanShipments(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	leaseUntil := now.UTC().Add(lease)
	for _, sh := range picked {
		_, err := tx.Exec(ctx, `UPDATE shipments SET next_assign_at = $2, updated_at = now() WHERE id = $1`, sh.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease shipment")
		}
		sh.NextAssignAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// RescheduleAssignment records a failed vehicle search.
func (s *Storage) RescheduleAssignment(ctx context.Context, shipmentID string, attempts int32, next time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET vehicle_attempts = $2, next_assign_at = $3, updated_at = now()
WHERE id = $1
`, shipmentID, attempts, next.UTC())
	return errors.Wrap(err, "reschedule assignment")
}

// UpdateShipmentStatus sets a new status. A Completed update hands the
// vehicle back to the pool once; repeating it is harmless.
func (s *Storage) UpdateShipmentStatus(ctx context.Context, shipmentID, status string, location *string) (*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	vehicleID, released, err := lockShipment(ctx, tx, shipmentID)
	if err != nil {
		return nil, err
	}

	release := status == models.ShipmentStatusCompleted && vehicleID != nil && !released
	if _, err := tx.Exec(ctx, `
UPDATE shipments
SET status = $2,
    current_location = COALESCE($3, current_location),
    vehicle_released = vehicle_released OR $4,
    updated_at = now()
WHERE id = $1
`, shipmentID, status, location, release); err != nil {
		return nil, errors.Wrap(err, "update shipment status")
	}
	if release {
		if err := releaseVehicle(ctx, tx, *vehicleID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	out, err := s.GetShipmentsByIDs(ctx, []string{shipmentID})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Wrap(ErrNotFound, shipmentID)
	}
	return out[0], nil
}

func lockShipment(ctx context.Context, tx pgx.Tx, shipmentID string) (*uint64, bool, error) {
	var vehicleID *uint64
	var released bool
	err := tx.QueryRow(ctx, `SELECT vehicle_id, vehicle_released FROM shipments WHERE id = $1 FOR UPDATE`, shipmentID).
		Scan(&vehicleID, &released)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, errors.Wrap(ErrNotFound, shipmentID)
		}
		return nil, false, errors.Wrap(err, "select shipment")
	}
	return vehicleID, released, nil
}

// DeleteShipment removes the shipment, returns its parcels to the pending
// pool and releases the vehicle.
func (s *Storage) DeleteShipment(ctx context.Context, shipmentID string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	vehicleID, released, err := lockShipment(ctx, tx, shipmentID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
UPDATE parcels
SET shipment_id = NULL, status = $2, updated_at = now()
WHERE shipment_id = $1
`, shipmentID, models.ParcelStatusCreated); err != nil {
		return errors.Wrap(err, "release parcels")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM shipments WHERE id = $1`, shipmentID); err != nil {
		return errors.Wrap(err, "delete shipment")
	}

	if vehicleID != nil && !released {
		if err := releaseVehicle(ctx, tx, *vehicleID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func scanShipments(rows pgx.Rows) ([]*models.Shipment, error) {
	var out []*models.Shipment
	for rows.Next() {
		var sh models.Shipment
		var dt string
		var parcelIDs []int64
		var arrivals []byte
		if err := rows.Scan(
			&sh.ID, &sh.Sequence, &dt, &sh.SourceCenter, &sh.Route, &sh.CurrentLocation,
			&sh.TotalDistance, &sh.TotalTime, &sh.TotalWeight, &sh.TotalVolume,
			&sh.ParcelCount, &parcelIDs, &arrivals, &sh.FinishTime,
			&sh.VehicleID, &sh.DriverID, &sh.VehicleReleased, &sh.Status, &sh.RelayFor,
			&sh.CreatedByCenter, &sh.CreatedByStaff,
			&sh.VehicleAttempts, &sh.NextAssignAt,
			&sh.CreatedAt, &sh.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		sh.DeliveryType = models.DeliveryType(dt)
		sh.ParcelIDs = toUint64s(parcelIDs)
		if len(arrivals) > 0 {
			if err := json.Unmarshal(arrivals, &sh.Arrivals); err != nil {
				return nil, errors.Wrap(err, "unmarshal arrivals")
			}
		}
		out = append(out, &sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func toInt64s(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func toUint64s(ids []int64) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}
