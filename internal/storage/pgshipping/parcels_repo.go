package pgshipping

import (
	"context"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ListPendingParcels returns parcels not yet in any shipment, ordered by id.
// An empty DestinationCenter matches every destination.
func (s *Storage) ListPendingParcels(ctx context.Context, q models.ParcelQuery) ([]*models.Parcel, error) {
	rows, err := s.db.Query(ctx, `
SELECT
  id, source_center, destination_center, item_size, shipping_method,
  shipment_id, status, created_at, updated_at
FROM parcels
WHERE shipment_id IS NULL
  AND source_center = $1
  AND shipping_method = $2
  AND ($3 = '' OR destination_center = $3)
ORDER BY id ASC
`, q.SourceCenter, string(q.ShippingMethod), q.DestinationCenter)
	if err != nil {
		return nil, errors.Wrap(err, "select pending parcels")
	}
	defer rows.Close()
	return scanParcels(rows)
}

func (s *Storage) GetParcelsByIDs(ctx context.Context, ids []uint64) ([]*models.Parcel, error) {
	if len(ids) == 0 {
		return []*models.Parcel{}, nil
	}
	rows, err := s.db.Query(ctx, `
SELECT
  id, source_center, destination_center, item_size, shipping_method,
  shipment_id, status, created_at, updated_at
FROM parcels
WHERE id = ANY($1)
ORDER BY id ASC
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select parcels")
	}
	defer rows.Close()
	return scanParcels(rows)
}

func scanParcels(rows pgx.Rows) ([]*models.Parcel, error) {
	var out []*models.Parcel
	for rows.Next() {
		var p models.Parcel
		var size, method string
		if err := rows.Scan(
			&p.ID, &p.SourceCenter, &p.DestinationCenter, &size, &method,
			&p.ShipmentID, &p.Status, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan parcel")
		}
		p.ItemSize = models.ItemSize(size)
		p.ShippingMethod = models.DeliveryType(method)
		out = append(out, &p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
