package pgshipping

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// createParcels seeds the intake table; in production parcels are written by
// the intake service, the worker only reads them.
func (s *Storage) createParcels(ctx context.Context, items []*models.Parcel) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, p := range items {
		if p.Status == "" {
			p.Status = models.ParcelStatusCreated
		}
		err := tx.QueryRow(ctx, `
INSERT INTO parcels (
  source_center, destination_center, item_size, shipping_method, shipment_id, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
RETURNING id
`, p.SourceCenter, p.DestinationCenter, string(p.ItemSize), string(p.ShippingMethod), p.ShipmentID, p.Status, now).Scan(&p.ID)
		if err != nil {
			return errors.Wrap(err, "insert parcel")
		}
		p.CreatedAt, p.UpdatedAt = now, now
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

