package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/consolidation"
	"github.com/BearBump/ShipBox/internal/services/fleet"
	"github.com/stretchr/testify/require"
)

type fakeBatcher struct {
	mu   sync.Mutex
	reqs []consolidation.BatchRequest
	res  map[string]*consolidation.Result
	errs map[string]error
}

func (b *fakeBatcher) RunBatch(ctx context.Context, req consolidation.BatchRequest) (*consolidation.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reqs = append(b.reqs, req)
	k := req.Center + ":" + string(req.DeliveryType)
	return b.res[k], b.errs[k]
}

type fakeRepo struct {
	calls atomic.Int64
	items []*models.Shipment
	err   error
}

func (r *fakeRepo) ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	items := r.items
	r.items = nil
	return items, nil
}

type fakeAssigner struct {
	running  atomic.Int64
	maxSeen  atomic.Int64
	outcomes map[string]fleet.Outcome
	errs     map[string]error
}

func (a *fakeAssigner) AssignVehicle(ctx context.Context, sh *models.Shipment) (*fleet.Result, error) {
	n := a.running.Add(1)
	defer a.running.Add(-1)
	for {
		m := a.maxSeen.Load()
		if n <= m || a.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if err := a.errs[sh.ID]; err != nil {
		return nil, err
	}
	return &fleet.Result{Outcome: a.outcomes[sh.ID]}, nil
}

func TestScheduler_RunBatches_CountsAndSkipsLocked(t *testing.T) {
	b := &fakeBatcher{
		res: map[string]*consolidation.Result{
			"Colombo:Standard": {
				Shipments:   []*models.Shipment{{ID: "ST-S001-Colombo"}, {ID: "ST-S002-Colombo"}},
				Unprocessed: []consolidation.Unprocessed{{ParcelID: 9, Reason: consolidation.ReasonMissingBranch}},
			},
			"Kandy:Express": {Shipments: []*models.Shipment{{ID: "EX-S001-Kandy"}}},
		},
		errs: map[string]error{
			"Colombo:Express": consolidation.ErrBatchInProgress,
			"Kandy:Express":   errors.New("kafka down"),
		},
	}
	s := New(b, &fakeRepo{}, &fakeAssigner{}, []Job{
		{Center: "Colombo", DeliveryType: models.DeliveryStandard, StaffID: "ops"},
		{Center: "Colombo", DeliveryType: models.DeliveryExpress},
		{Center: "Kandy", DeliveryType: models.DeliveryExpress},
	})

	s.RunBatches(context.Background())

	require.Len(t, b.reqs, 3)
	require.Equal(t, "ops", b.reqs[0].StaffID)

	st := s.Stats()
	require.Equal(t, int64(1), st.TotalCycles)
	// частичный результат упавшего батча тоже считается
	require.Equal(t, int64(3), st.ShipmentsCreated)
	require.Equal(t, int64(1), st.ParcelsUnprocessed)
	require.Equal(t, int64(1), st.TotalErrors)
	require.Equal(t, "kafka down", st.LastError)
	require.NotNil(t, st.LastBatchAt)
}

func TestScheduler_AssignDue_OutcomesAndConcurrency(t *testing.T) {
	repo := &fakeRepo{}
	a := &fakeAssigner{
		outcomes: map[string]fleet.Outcome{},
		errs:     map[string]error{"s5": errors.New("db down")},
	}
	for i, o := range []fleet.Outcome{fleet.OutcomeDirect, fleet.OutcomeDirect, fleet.OutcomeRelay, fleet.OutcomeNoVehicle, ""} {
		id := "s" + string(rune('1'+i))
		repo.items = append(repo.items, &models.Shipment{ID: id})
		a.outcomes[id] = o
	}

	s := New(&fakeBatcher{}, repo, a, nil).WithSettings(0, 0, 10, 2, 0)
	s.AssignDue(context.Background())

	st := s.Stats()
	require.Equal(t, int64(5), st.TotalClaimed)
	require.Equal(t, int64(3), st.VehiclesAssigned)
	require.Equal(t, int64(1), st.Relays)
	require.Equal(t, int64(1), st.NoVehicle)
	require.Equal(t, int64(1), st.TotalErrors)
	require.Equal(t, int64(0), st.InFlight)
	require.LessOrEqual(t, a.maxSeen.Load(), int64(2))
}

func TestScheduler_AssignDue_ClaimError(t *testing.T) {
	s := New(&fakeBatcher{}, &fakeRepo{err: errors.New("conn refused")}, &fakeAssigner{}, nil)
	s.AssignDue(context.Background())

	st := s.Stats()
	require.Equal(t, int64(1), st.TotalErrors)
	require.Equal(t, "conn refused", st.LastError)
	require.Equal(t, int64(0), st.TotalClaimed)
}

func TestScheduler_Run_StopsOnContextCancel(t *testing.T) {
	repo := &fakeRepo{}
	b := &fakeBatcher{}
	s := New(b, repo, &fakeAssigner{}, []Job{{Center: "Galle", DeliveryType: models.DeliveryStandard}}).
		WithSettings(5*time.Millisecond, 5*time.Millisecond, 1, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, repo.calls.Load(), int64(1))
	b.mu.Lock()
	require.NotEmpty(t, b.reqs)
	b.mu.Unlock()
}

func TestScheduler_Trigger(t *testing.T) {
	repo := &fakeRepo{}
	b := &fakeBatcher{}
	s := New(b, repo, &fakeAssigner{}, []Job{{Center: "Galle", DeliveryType: models.DeliveryExpress}}).
		WithSettings(time.Hour, time.Hour, 1, 1, time.Second)

	// второй вызов не блокирует
	s.Trigger()
	s.Trigger()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return repo.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	st := s.Stats()
	require.NotNil(t, st.LastTriggerAt)
	require.Equal(t, int64(1), st.TotalCycles)
}

func TestScheduler_WithSettings(t *testing.T) {
	s := New(nil, nil, nil, []Job{{Center: "Jaffna"}}).
		WithSettings(time.Minute, 3*time.Second, 7, 9, 11*time.Second)
	require.Equal(t, time.Minute, s.batchInterval)
	require.Equal(t, 3*time.Second, s.assignInterval)
	require.Equal(t, 7, s.batchSize)
	require.Equal(t, 9, s.concurrency)
	require.Equal(t, 11*time.Second, s.lease)
	require.Equal(t, []Job{{Center: "Jaffna"}}, s.Jobs())

	def := New(nil, nil, nil, nil).WithSettings(0, -1, 0, 0, 0)
	require.Equal(t, 5*time.Minute, def.batchInterval)
	require.Equal(t, 4, def.concurrency)
}
