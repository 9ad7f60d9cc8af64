package consolidation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/limits"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage/pgshipping"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrBatchInProgress = errors.New("consolidation batch already in progress")
	ErrIDAllocation    = errors.New("could not allocate unique shipment ID")
)

type ShipmentStore interface {
	NextShipmentSequence(ctx context.Context, center string, dt models.DeliveryType) (int, error)
	CreateShipment(ctx context.Context, sh *models.Shipment) error
}

type Repository interface {
	ShipmentStore
	ListPendingParcels(ctx context.Context, q models.ParcelQuery) ([]*models.Parcel, error)
	GetParcelsByIDs(ctx context.Context, ids []uint64) ([]*models.Parcel, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Locker hands out a best-effort distributed lock. ok is false when somebody
// else holds key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

func FormatShipmentID(dt models.DeliveryType, seq int, center string) string {
	return fmt.Sprintf("%s-S%03d-%s", dt.IDPrefix(), seq, center)
}

// Allocator persists shipments under the next free id of their
// (source, delivery type) sequence.
type Allocator struct {
	store       ShipmentStore
	maxAttempts int
}

func NewAllocator(store ShipmentStore, maxAttempts int) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Allocator{store: store, maxAttempts: maxAttempts}
}

// Create assigns sh.ID and sh.Sequence and stores the shipment together with
// its parcel assignments. A collision on the id moves to the next sequence
// number.
func (a *Allocator) Create(ctx context.Context, sh *models.Shipment) error {
	seq, err := a.store.NextShipmentSequence(ctx, sh.SourceCenter, sh.DeliveryType)
	if err != nil {
		return errors.Wrap(err, "next shipment sequence")
	}

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		sh.Sequence = seq
		sh.ID = FormatShipmentID(sh.DeliveryType, seq, sh.SourceCenter)

		err := a.store.CreateShipment(ctx, sh)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgshipping.ErrDuplicateShipmentID) {
			return err
		}
		slog.Warn("shipment id taken", "shipment_id", sh.ID, "attempt", attempt+1)
		seq++
	}
	sh.ID = ""
	return errors.Wrap(ErrIDAllocation, fmt.Sprintf("%s/%s after %d attempts", sh.SourceCenter, sh.DeliveryType, a.maxAttempts))
}

type BatchRequest struct {
	Center       string
	DeliveryType models.DeliveryType
	StaffID      string
}

type Service struct {
	builder  *Builder
	repo     Repository
	ids      *Allocator
	producer Producer
	locker   Locker

	topic   string
	lockTTL time.Duration
}

func NewService(builder *Builder, repo Repository, producer Producer, locker Locker, topic string) *Service {
	return &Service{
		builder:  builder,
		repo:     repo,
		ids:      NewAllocator(repo, 5),
		producer: producer,
		locker:   locker,
		topic:    topic,
		lockTTL:  2 * time.Minute,
	}
}

func (s *Service) WithSettings(maxIDAttempts int, lockTTL time.Duration) *Service {
	if maxIDAttempts > 0 {
		s.ids = NewAllocator(s.repo, maxIDAttempts)
	}
	if lockTTL > 0 {
		s.lockTTL = lockTTL
	}
	return s
}

// Allocator is shared with vehicle assignment, which creates relay shipments.
func (s *Service) Allocator() *Allocator {
	return s.ids
}

// LockKey names the lock held while parcels of center and dt are being
// packed, by a batch or by a relay.
func LockKey(center string, dt models.DeliveryType) string {
	return fmt.Sprintf("consolidate:%s:%s", center, dt)
}

// RunBatch consolidates all unassigned parcels of one center and delivery
// type. Every shipment is committed as soon as it is built, so on error the
// result still lists what was created before it.
func (s *Service) RunBatch(ctx context.Context, req BatchRequest) (*Result, error) {
	if !req.DeliveryType.IsValid() {
		return nil, errors.Wrap(limits.ErrUnknownDeliveryType, fmt.Sprintf("run batch: %q", req.DeliveryType))
	}
	if !s.builder.net.Has(req.Center) {
		return nil, errors.Wrap(ErrUnknownCenter, fmt.Sprintf("run batch: %q", req.Center))
	}

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, LockKey(req.Center, req.DeliveryType), s.lockTTL)
		if err != nil {
			return nil, errors.Wrap(err, "batch lock")
		}
		if !ok {
			return nil, ErrBatchInProgress
		}
		defer func() {
			// Лок всё равно истечёт по TTL.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("release batch lock", "center", req.Center, "error", err.Error())
			}
		}()
	}

	parcels, err := s.repo.ListPendingParcels(ctx, models.ParcelQuery{
		SourceCenter:   req.Center,
		ShippingMethod: req.DeliveryType,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list pending parcels")
	}

	replanned := &Result{}
	sink := SinkFunc(func(ctx context.Context, sh *models.Shipment) error {
		return s.persistOrReplan(ctx, req, sh, replanned, true)
	})
	res, err := s.builder.Build(ctx, req.DeliveryType, req.Center, parcels, req.StaffID, sink)
	if res != nil {
		res.merge(replanned)
	}
	if err != nil {
		return res, err
	}

	slog.Info("consolidation batch done",
		"center", req.Center,
		"delivery_type", string(req.DeliveryType),
		"shipments", len(res.Shipments),
		"parcels", res.ParcelCount(),
		"unprocessed", len(res.Unprocessed),
	)
	return res, nil
}

func (s *Service) persist(ctx context.Context, sh *models.Shipment) error {
	if err := s.ids.Create(ctx, sh); err != nil {
		return err
	}
	s.publishCreated(ctx, sh)
	return nil
}

// persistOrReplan stores sh. When some of its parcels were taken by another
// shipment in the meantime, the parcels are reloaded and the still-free ones
// are packed again; the taken ones count as already assigned. A second
// conflict leaves the parcels in the pool for the next batch.
func (s *Service) persistOrReplan(ctx context.Context, req BatchRequest, sh *models.Shipment, out *Result, replan bool) error {
	err := s.persist(ctx, sh)
	if !errors.Is(err, pgshipping.ErrParcelConflict) {
		return err
	}
	slog.Warn("shipment parcels taken concurrently",
		"center", req.Center,
		"delivery_type", string(req.DeliveryType),
		"parcels", len(sh.ParcelIDs),
		"replan", replan,
	)
	if !replan {
		for _, id := range sh.ParcelIDs {
			out.Unprocessed = append(out.Unprocessed, Unprocessed{ParcelID: id, Reason: ReasonConcurrentUpdate})
		}
		return ErrSkipShipment
	}

	fresh, err := s.repo.GetParcelsByIDs(ctx, sh.ParcelIDs)
	if err != nil {
		return errors.Wrap(err, "reload parcels")
	}
	sub, err := s.builder.Build(ctx, req.DeliveryType, req.Center, fresh, req.StaffID,
		SinkFunc(func(ctx context.Context, next *models.Shipment) error {
			return s.persistOrReplan(ctx, req, next, out, false)
		}))
	out.merge(sub)
	if err != nil {
		return err
	}
	return ErrSkipShipment
}

// publishCreated is best effort: the shipment is already durable.
func (s *Service) publishCreated(ctx context.Context, sh *models.Shipment) {
	if s.producer == nil || s.topic == "" {
		return
	}
	msg := ShipmentCreatedMessage(sh)
	if err := kafka.PublishJSON(ctx, s.producer, s.topic, sh.ID, msg); err != nil {
		slog.Error("publish shipment created", "shipment_id", sh.ID, "error", err.Error())
	}
}

func ShipmentCreatedMessage(sh *models.Shipment) messages.ShipmentCreated {
	createdAt := sh.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return messages.ShipmentCreated{
		EventID:       uuid.New(),
		ShipmentID:    sh.ID,
		DeliveryType:  string(sh.DeliveryType),
		SourceCenter:  sh.SourceCenter,
		Route:         sh.Route,
		ParcelIDs:     sh.ParcelIDs,
		TotalDistance: sh.TotalDistance,
		TotalTime:     sh.TotalTime,
		TotalWeight:   sh.TotalWeight,
		TotalVolume:   sh.TotalVolume,
		FinishTime:    sh.FinishTime,
		RelayFor:      sh.RelayFor,
		CreatedAt:     createdAt,
	}
}
