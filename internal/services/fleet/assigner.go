// Package fleet attaches vehicles to consolidated shipments.
//
// A vehicle is looked up at the shipment's source first. When none fits, the
// other centers are searched nearest first; a vehicle found there is moved to
// the source and a relay shipment brings along whatever is already waiting at
// that center for the source.
package fleet

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/limits"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/consolidation"
	"github.com/BearBump/ShipBox/internal/services/routing"
	"github.com/BearBump/ShipBox/internal/storage/pgshipping"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var ErrAlreadyAssigned = errors.New("shipment already has a vehicle")

type Outcome string

const (
	OutcomeDirect    Outcome = "direct"
	OutcomeRelay     Outcome = "relay"
	OutcomeNoVehicle Outcome = "no_vehicle"
)

type Result struct {
	Outcome Outcome
	Vehicle *models.Vehicle

	RelayCenter string
	Relay       *models.Shipment

	// NextAttempt is set for OutcomeNoVehicle.
	NextAttempt time.Time
}

type Repository interface {
	ListAvailableVehicles(ctx context.Context, center string, weight, volume decimal.Decimal) ([]*models.Vehicle, error)
	ReserveVehicle(ctx context.Context, r pgshipping.Reservation) (*models.Vehicle, bool, error)
	ListPendingParcels(ctx context.Context, q models.ParcelQuery) ([]*models.Parcel, error)
	RescheduleAssignment(ctx context.Context, shipmentID string, attempts int32, next time.Time) error
}

// ShipmentCreator persists a new shipment under a fresh id.
type ShipmentCreator interface {
	Create(ctx context.Context, sh *models.Shipment) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Invalidator forgets cached copies of a shipment changed by the assigner.
type Invalidator interface {
	Forget(ctx context.Context, shipmentID string)
}

type Assigner struct {
	net      routing.Network
	limits   *limits.Table
	sizes    limits.SizeTable
	repo     Repository
	creator  ShipmentCreator
	producer Producer
	topic    string

	planner     *Planner
	invalidator Invalidator
	locker      consolidation.Locker
	lockTTL     time.Duration
	now         func() time.Time
}

func NewAssigner(
	net routing.Network,
	tbl *limits.Table,
	sizes limits.SizeTable,
	repo Repository,
	creator ShipmentCreator,
	producer Producer,
	topic string,
) *Assigner {
	if tbl == nil {
		tbl = limits.DefaultTable()
	}
	if sizes == nil {
		sizes = limits.DefaultSizes()
	}
	return &Assigner{
		net:      net,
		limits:   tbl,
		sizes:    sizes,
		repo:     repo,
		creator:  creator,
		producer: producer,
		topic:    topic,
		planner:  DefaultPlanner(),
		lockTTL:  2 * time.Minute,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (a *Assigner) WithPlanner(p *Planner) *Assigner {
	if p != nil {
		a.planner = p
	}
	return a
}

func (a *Assigner) WithInvalidator(inv Invalidator) *Assigner {
	a.invalidator = inv
	return a
}

// WithLocker makes relay creation take the same lock as the consolidation
// batch of the relay center, so both never pick the same parcels.
func (a *Assigner) WithLocker(l consolidation.Locker, ttl time.Duration) *Assigner {
	a.locker = l
	if ttl > 0 {
		a.lockTTL = ttl
	}
	return a
}

func (a *Assigner) forget(ctx context.Context, shipmentID string) {
	if a.invalidator != nil {
		a.invalidator.Forget(ctx, shipmentID)
	}
}

// StatusAfterAssign is where a shipment goes once it has a vehicle.
func StatusAfterAssign(dt models.DeliveryType) string {
	if dt == models.DeliveryExpress {
		return models.ShipmentStatusCompleted
	}
	return models.ShipmentStatusInTransit
}

// AssignVehicle finds and reserves a vehicle for sh. Not finding one is not
// an error: the shipment stays Pending and is rescheduled with backoff.
func (a *Assigner) AssignVehicle(ctx context.Context, sh *models.Shipment) (*Result, error) {
	if sh.VehicleID != nil {
		return nil, errors.Wrap(ErrAlreadyAssigned, sh.ID)
	}
	lim, err := a.limits.For(sh.DeliveryType)
	if err != nil {
		return nil, errors.Wrap(err, "assign vehicle")
	}
	status := StatusAfterAssign(sh.DeliveryType)

	v, err := a.reserveAt(ctx, sh, sh.SourceCenter, status, "")
	if err != nil {
		return nil, err
	}
	if v != nil {
		attach(sh, v, status)
		a.forget(ctx, sh.ID)
		res := &Result{Outcome: OutcomeDirect, Vehicle: v}
		a.publishAssigned(ctx, sh, res)
		return res, nil
	}

	var found *models.Vehicle
	relayCenter, ok, err := routing.SearchOutward(a.net, sh.SourceCenter, func(center string) (bool, error) {
		v, err := a.reserveAt(ctx, sh, center, status, sh.SourceCenter)
		if err != nil {
			return false, err
		}
		found = v
		return v != nil, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "search vehicle")
	}

	if ok {
		attach(sh, found, status)
		a.forget(ctx, sh.ID)
		res := &Result{Outcome: OutcomeRelay, Vehicle: found, RelayCenter: relayCenter}
		relay, relayErr := a.createRelay(ctx, sh, relayCenter, found, lim)
		res.Relay = relay
		a.publishAssigned(ctx, sh, res)
		if relayErr != nil {
			// Машина уже закреплена, ошибку отдаём наверх только для лога.
			return res, errors.Wrap(relayErr, "relay shipment")
		}
		return res, nil
	}

	attempts := sh.VehicleAttempts + 1
	next := a.now().Add(a.planner.BackoffDelay(attempts))
	if err := a.repo.RescheduleAssignment(ctx, sh.ID, attempts, next); err != nil {
		return nil, err
	}
	sh.VehicleAttempts, sh.NextAssignAt = attempts, next
	a.forget(ctx, sh.ID)
	slog.Info("no vehicle for shipment",
		"shipment_id", sh.ID,
		"weight", sh.TotalWeight.String(),
		"volume", sh.TotalVolume.String(),
		"attempt", attempts,
		"next_attempt_at", next,
	)
	return &Result{Outcome: OutcomeNoVehicle, NextAttempt: next}, nil
}

// reserveAt tries the vehicles parked at center, smallest sufficient first,
// until one reservation wins. nil means none could be taken.
func (a *Assigner) reserveAt(ctx context.Context, sh *models.Shipment, center, status, moveTo string) (*models.Vehicle, error) {
	candidates, err := a.repo.ListAvailableVehicles(ctx, center, sh.TotalWeight, sh.TotalVolume)
	if err != nil {
		return nil, errors.Wrap(err, "list vehicles")
	}
	for _, c := range candidates {
		if !c.Fits(sh.TotalWeight, sh.TotalVolume) {
			continue
		}
		v, ok, err := a.repo.ReserveVehicle(ctx, pgshipping.Reservation{
			VehicleID:  c.ID,
			ShipmentID: sh.ID,
			Status:     status,
			MoveTo:     moveTo,
		})
		if err != nil {
			return nil, errors.Wrap(err, "reserve vehicle")
		}
		if ok {
			return v, nil
		}
		slog.Debug("vehicle taken concurrently", "vehicle_id", c.ID, "shipment_id", sh.ID)
	}
	return nil, nil
}

func attach(sh *models.Shipment, v *models.Vehicle, status string) {
	id := v.ID
	sh.VehicleID = &id
	sh.DriverID = v.DriverID
	sh.Status = status
}

// createRelay builds the relayCenter -> source leg for the vehicle being
// moved and loads it with parcels already waiting for that leg. When the
// relay center's batch is running, the leg goes empty: that batch ships the
// waiting parcels itself.
func (a *Assigner) createRelay(ctx context.Context, sh *models.Shipment, relayCenter string, v *models.Vehicle, lim limits.Limits) (*models.Shipment, error) {
	withParcels := true
	if a.locker != nil {
		unlock, ok, err := a.locker.TryLock(ctx, consolidation.LockKey(relayCenter, sh.DeliveryType), a.lockTTL)
		if err != nil {
			return nil, errors.Wrap(err, "relay lock")
		}
		if ok {
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					slog.Warn("release relay lock", "center", relayCenter, "error", err.Error())
				}
			}()
		} else {
			slog.Info("relay center batch in progress, relay goes empty", "center", relayCenter, "shipment_id", sh.ID)
			withParcels = false
		}
	}

	for attempt := 0; ; attempt++ {
		relay, err := a.planRelay(ctx, sh, relayCenter, v, lim, withParcels)
		if err != nil {
			return nil, err
		}
		err = a.creator.Create(ctx, relay)
		if err == nil {
			return relay, nil
		}
		// Посылки забрали между чтением и вставкой: перечитываем один раз.
		if !errors.Is(err, pgshipping.ErrParcelConflict) || attempt > 0 {
			return nil, err
		}
		slog.Warn("relay parcels taken concurrently, replanning", "center", relayCenter, "shipment_id", sh.ID)
	}
}

func (a *Assigner) planRelay(ctx context.Context, sh *models.Shipment, relayCenter string, v *models.Vehicle, lim limits.Limits, withParcels bool) (*models.Shipment, error) {
	route := []string{relayCenter, sh.SourceCenter}
	dist, err := routing.RouteDistance(a.net, route)
	if err != nil {
		return nil, err
	}
	travel, err := a.net.TravelTime(relayCenter, sh.SourceCenter)
	if err != nil {
		return nil, err
	}
	totals := limits.Totals{Distance: dist, Time: travel.Add(lim.FirstBuffer)}

	var waiting []*models.Parcel
	if withParcels {
		waiting, err = a.repo.ListPendingParcels(ctx, models.ParcelQuery{
			SourceCenter:      relayCenter,
			DestinationCenter: sh.SourceCenter,
			ShippingMethod:    sh.DeliveryType,
		})
		if err != nil {
			return nil, errors.Wrap(err, "list relay parcels")
		}
	}

	var ids []uint64
	for _, p := range waiting {
		if p.Assigned() {
			continue
		}
		load, err := a.sizes.Resolve(p.ItemSize)
		if err != nil {
			slog.Warn("skip parcel", "parcel_id", p.ID, "reason", "unknown_size")
			continue
		}
		next := totals.Add(limits.Totals{Weight: load.Weight, Volume: load.Volume})
		if !lim.Allows(next) || !v.Fits(next.Weight, next.Volume) {
			continue
		}
		totals = next
		ids = append(ids, p.ID)
	}

	sched, err := routing.CalculateArrivalTimes(a.net, route, lim)
	if err != nil {
		return nil, err
	}

	relayFor := sh.ID
	return &models.Shipment{
		DeliveryType:    sh.DeliveryType,
		SourceCenter:    relayCenter,
		Route:           route,
		CurrentLocation: relayCenter,
		TotalDistance:   totals.Distance,
		TotalTime:       totals.Time,
		TotalWeight:     totals.Weight,
		TotalVolume:     totals.Volume,
		ParcelCount:     len(ids),
		ParcelIDs:       ids,
		Arrivals:        sched.Arrivals,
		FinishTime:      sched.Finish,
		Status:          models.ShipmentStatusDispatched,
		RelayFor:        &relayFor,
		CreatedByCenter: sh.SourceCenter,
		CreatedByStaff:  sh.CreatedByStaff,
	}, nil
}

func (a *Assigner) publishAssigned(ctx context.Context, sh *models.Shipment, res *Result) {
	if a.producer == nil || a.topic == "" {
		return
	}
	msg := messages.VehicleAssigned{
		EventID:     uuid.New(),
		ShipmentID:  sh.ID,
		VehicleID:   res.Vehicle.ID,
		DriverID:    res.Vehicle.DriverID,
		Status:      sh.Status,
		Relay:       res.Outcome == OutcomeRelay,
		RelayCenter: res.RelayCenter,
		AssignedAt:  a.now(),
	}
	if res.Relay != nil {
		id := res.Relay.ID
		msg.RelayShipmentID = &id
	}
	if err := kafka.PublishJSON(ctx, a.producer, a.topic, sh.ID, msg); err != nil {
		slog.Error("publish vehicle assigned", "shipment_id", sh.ID, "error", err.Error())
	}
}
