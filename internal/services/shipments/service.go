package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/cache"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
)

// ErrInvalidUpdate marks a status message that can never be applied.
var ErrInvalidUpdate = errors.New("invalid status update")

type Repository interface {
	GetShipmentsByIDs(ctx context.Context, ids []string) ([]*models.Shipment, error)
	UpdateShipmentStatus(ctx context.Context, shipmentID, status string, location *string) (*models.Shipment, error)
	DeleteShipment(ctx context.Context, shipmentID string) error
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

func (s *Service) GetShipmentsByIDs(ctx context.Context, ids []string) ([]*models.Shipment, error) {
	if len(ids) == 0 {
		return []*models.Shipment{}, nil
	}
	// Кэш best-effort: любая ошибка Get/Unmarshal = промах.
	miss := make([]string, 0, len(ids))
	got := make(map[string]*models.Shipment, len(ids))

	if s.cacheEnabled() {
		for _, id := range ids {
			b, ok, err := s.cache.Get(ctx, currentKey(id))
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var sh models.Shipment
			if json.Unmarshal(b, &sh) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &sh
		}
	} else {
		miss = ids
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetShipmentsByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		for _, sh := range fromDB {
			s.remember(ctx, sh)
			got[sh.ID] = sh
		}
	}

	// Ответ в том же порядке, что ids.
	out := make([]*models.Shipment, 0, len(ids))
	for _, id := range ids {
		if sh, ok := got[id]; ok {
			out = append(out, sh)
		}
	}
	return out, nil
}

// ApplyStatusUpdate stores a status change coming from the dispatch side. A
// Completed status frees the shipment's vehicle.
func (s *Service) ApplyStatusUpdate(ctx context.Context, msg messages.ShipmentStatusChanged) (*models.Shipment, error) {
	if msg.ShipmentID == "" {
		return nil, errors.Wrap(ErrInvalidUpdate, "shipment_id is required")
	}
	if !models.IsValidShipmentStatus(msg.Status) {
		return nil, errors.Wrapf(ErrInvalidUpdate, "unknown shipment status %q", msg.Status)
	}

	sh, err := s.repo.UpdateShipmentStatus(ctx, msg.ShipmentID, msg.Status, msg.Location)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, sh)

	slog.Info("shipment status updated",
		"shipment_id", sh.ID,
		"status", sh.Status,
		"location", sh.CurrentLocation,
		"vehicle_released", sh.VehicleReleased,
	)
	return sh, nil
}

// DeleteShipment drops the shipment and puts its parcels back in the pending pool.
func (s *Service) DeleteShipment(ctx context.Context, shipmentID string) error {
	if shipmentID == "" {
		return errors.New("shipment id is required")
	}
	if err := s.repo.DeleteShipment(ctx, shipmentID); err != nil {
		return err
	}
	s.Forget(ctx, shipmentID)
	return nil
}

// Forget drops the cached copy of a shipment that was changed elsewhere
// (vehicle assignment, rescheduling).
func (s *Service) Forget(ctx context.Context, shipmentID string) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.Delete(ctx, currentKey(shipmentID)); err != nil {
		slog.Warn("cache delete failed", "shipment_id", shipmentID, "error", err.Error())
	}
}

func (s *Service) remember(ctx context.Context, sh *models.Shipment) {
	if !s.cacheEnabled() || sh == nil {
		return
	}
	b, err := json.Marshal(sh)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, currentKey(sh.ID), b, s.currentTTL)
}

func currentKey(id string) string {
	return fmt.Sprintf("shipment:%s:current", id)
}
