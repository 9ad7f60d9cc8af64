// Package scheduler drives the periodic work of the shipment worker: the
// consolidation batches and the vehicle assignment of pending shipments.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/consolidation"
	"github.com/BearBump/ShipBox/internal/services/fleet"
	"github.com/pkg/errors"
)

type Batcher interface {
	RunBatch(ctx context.Context, req consolidation.BatchRequest) (*consolidation.Result, error)
}

type Repository interface {
	ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error)
}

type Assigner interface {
	AssignVehicle(ctx context.Context, sh *models.Shipment) (*fleet.Result, error)
}

// Job is one (center, delivery type) batch run on every batch cycle.
type Job struct {
	Center       string
	DeliveryType models.DeliveryType
	StaffID      string
}

type Scheduler struct {
	batcher  Batcher
	repo     Repository
	assigner Assigner
	jobs     []Job

	batchInterval  time.Duration
	assignInterval time.Duration
	batchSize      int
	concurrency    int
	lease          time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastBatchUnixNano   atomic.Int64
	lastAssignUnixNano  atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	shipmentsCreated    atomic.Int64
	parcelsUnprocessed  atomic.Int64
	totalClaimed        atomic.Int64
	vehiclesAssigned    atomic.Int64
	relays              atomic.Int64
	noVehicle           atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(batcher Batcher, repo Repository, assigner Assigner, jobs []Job) *Scheduler {
	return &Scheduler{
		batcher: batcher, repo: repo, assigner: assigner, jobs: jobs,
		batchInterval:     5 * time.Minute,
		assignInterval:    10 * time.Second,
		batchSize:         50,
		concurrency:       4,
		lease:             2 * time.Minute,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Scheduler) WithSettings(batchInterval, assignInterval time.Duration, batchSize, concurrency int, lease time.Duration) *Scheduler {
	if batchInterval > 0 {
		s.batchInterval = batchInterval
	}
	if assignInterval > 0 {
		s.assignInterval = assignInterval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	if lease > 0 {
		s.lease = lease
	}
	return s
}

func (s *Scheduler) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// Trigger forces a full cycle: batches first, then assignment (best-effort, non-blocking).
func (s *Scheduler) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt          time.Time  `json:"startedAt"`
	LastBatchAt        *time.Time `json:"lastBatchAt,omitempty"`
	LastAssignAt       *time.Time `json:"lastAssignAt,omitempty"`
	LastTriggerAt      *time.Time `json:"lastTriggerAt,omitempty"`
	TotalCycles        int64      `json:"totalCycles"`
	ShipmentsCreated   int64      `json:"shipmentsCreated"`
	ParcelsUnprocessed int64      `json:"parcelsUnprocessed"`
	TotalClaimed       int64      `json:"totalClaimed"`
	VehiclesAssigned   int64      `json:"vehiclesAssigned"`
	Relays             int64      `json:"relays"`
	NoVehicle          int64      `json:"noVehicle"`
	TotalErrors        int64      `json:"totalErrors"`
	InFlight           int64      `json:"inFlight"`
	LastError          string     `json:"lastError,omitempty"`
}

func unixOrNil(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		StartedAt:          time.Unix(0, s.startedAtUnixNano).UTC(),
		LastBatchAt:        unixOrNil(s.lastBatchUnixNano.Load()),
		LastAssignAt:       unixOrNil(s.lastAssignUnixNano.Load()),
		LastTriggerAt:      unixOrNil(s.lastTriggerUnixNano.Load()),
		TotalCycles:        s.totalCycles.Load(),
		ShipmentsCreated:   s.shipmentsCreated.Load(),
		ParcelsUnprocessed: s.parcelsUnprocessed.Load(),
		TotalClaimed:       s.totalClaimed.Load(),
		VehiclesAssigned:   s.vehiclesAssigned.Load(),
		Relays:             s.relays.Load(),
		NoVehicle:          s.noVehicle.Load(),
		TotalErrors:        s.totalErrors.Load(),
		InFlight:           s.inFlight.Load(),
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Scheduler) recordError(err error) {
	s.totalErrors.Add(1)
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

func (s *Scheduler) Run(ctx context.Context) error {
	batchT := time.NewTicker(s.batchInterval)
	defer batchT.Stop()
	assignT := time.NewTicker(s.assignInterval)
	defer assignT.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-batchT.C:
			s.RunBatches(ctx)
		case <-assignT.C:
			s.AssignDue(ctx)
		case <-s.triggerCh:
			s.RunBatches(ctx)
			s.AssignDue(ctx)
		}
	}
}

// RunBatches runs every job once. A failing job does not stop the others.
func (s *Scheduler) RunBatches(ctx context.Context) {
	s.lastBatchUnixNano.Store(time.Now().UTC().UnixNano())
	s.totalCycles.Add(1)

	for _, j := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		res, err := s.batcher.RunBatch(ctx, consolidation.BatchRequest{
			Center:       j.Center,
			DeliveryType: j.DeliveryType,
			StaffID:      j.StaffID,
		})
		if res != nil {
			s.shipmentsCreated.Add(int64(len(res.Shipments)))
			s.parcelsUnprocessed.Add(int64(len(res.Unprocessed)))
		}
		if err != nil {
			if errors.Is(err, consolidation.ErrBatchInProgress) {
				slog.Info("batch skipped, running elsewhere", "center", j.Center, "delivery_type", j.DeliveryType)
				continue
			}
			s.recordError(err)
			slog.Error("consolidation batch", "center", j.Center, "delivery_type", j.DeliveryType, "error", err.Error())
		}
	}
}

// AssignDue claims shipments waiting for a vehicle and assigns them with
// bounded concurrency.
func (s *Scheduler) AssignDue(ctx context.Context) {
	now := time.Now().UTC()
	s.lastAssignUnixNano.Store(now.UnixNano())

	items, err := s.repo.ClaimDueShipments(ctx, now, s.batchSize, s.lease)
	if err != nil {
		slog.Error("claim due shipments", "error", err.Error())
		s.recordError(err)
		return
	}
	s.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, sh := range items {
		sem <- struct{}{}
		wg.Add(1)
		shCopy := sh
		s.inFlight.Add(1)
		go func() {
			defer func() {
				s.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			s.assignOne(ctx, shCopy)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) assignOne(ctx context.Context, sh *models.Shipment) {
	res, err := s.assigner.AssignVehicle(ctx, sh)
	if res != nil {
		switch res.Outcome {
		case fleet.OutcomeDirect:
			s.vehiclesAssigned.Add(1)
		case fleet.OutcomeRelay:
			s.vehiclesAssigned.Add(1)
			s.relays.Add(1)
		case fleet.OutcomeNoVehicle:
			s.noVehicle.Add(1)
		}
	}
	if err != nil {
		s.recordError(err)
		slog.Error("assign vehicle", "shipment_id", sh.ID, "error", err.Error())
	}
}
