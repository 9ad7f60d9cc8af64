package consolidation

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/BearBump/ShipBox/internal/limits"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/network"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func parcel(id uint64, src, dst string, size models.ItemSize, dt models.DeliveryType) *models.Parcel {
	return &models.Parcel{
		ID:                id,
		SourceCenter:      src,
		DestinationCenter: dst,
		ItemSize:          size,
		ShippingMethod:    dt,
		Status:            models.ParcelStatusCreated,
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// requireValidPlan checks the properties every build result must hold.
func requireValidPlan(t *testing.T, res *Result, lim limits.Limits, source string) {
	t.Helper()
	seen := map[uint64]bool{}
	for _, sh := range res.Shipments {
		require.Equal(t, source, sh.Route[0])
		require.GreaterOrEqual(t, len(sh.Route), 2)

		stops := map[string]bool{}
		for _, c := range sh.Route {
			require.False(t, stops[c], "center %s repeated in %v", c, sh.Route)
			stops[c] = true
		}

		require.Empty(t, lim.Exceeds(limits.Totals{
			Distance: sh.TotalDistance,
			Time:     sh.TotalTime,
			Weight:   sh.TotalWeight,
			Volume:   sh.TotalVolume,
		}))

		require.Len(t, sh.Arrivals, len(sh.Route))
		for i := 1; i < len(sh.Arrivals); i++ {
			require.True(t, sh.Arrivals[i].Hours.GreaterThan(sh.Arrivals[i-1].Hours))
		}
		require.True(t, sh.FinishTime.GreaterThanOrEqual(sh.Arrivals[len(sh.Arrivals)-1].Hours))

		require.Equal(t, len(sh.ParcelIDs), sh.ParcelCount)
		for _, id := range sh.ParcelIDs {
			require.False(t, seen[id], "parcel %d in two shipments", id)
			seen[id] = true
		}
	}
}

func TestBuild_ColomboExample(t *testing.T) {
	b := NewBuilder(network.Default(), nil, nil)
	in := []*models.Parcel{
		parcel(1, "Colombo", "Kandy", models.ItemSizeSmall, models.DeliveryStandard),
		parcel(2, "Colombo", "Galle", models.ItemSizeMedium, models.DeliveryStandard),
		parcel(3, "Colombo", "Kandy", models.ItemSizeLarge, models.DeliveryStandard),
	}

	res, err := b.Build(context.Background(), models.DeliveryStandard, "Colombo", in, "staff-1", nil)
	require.NoError(t, err)
	require.Len(t, res.Shipments, 1)
	require.Empty(t, res.Unprocessed)

	sh := res.Shipments[0]
	require.Equal(t, []string{"Colombo", "Kandy", "Galle"}, sh.Route)
	require.Equal(t, []uint64{1, 3, 2}, sh.ParcelIDs)
	require.Equal(t, models.ShipmentStatusPending, sh.Status)
	require.Equal(t, "Colombo", sh.CurrentLocation)
	require.Equal(t, "staff-1", sh.CreatedByStaff)

	require.True(t, sh.TotalDistance.Equal(d("340")))
	require.True(t, sh.TotalTime.Equal(d("11.5")))
	require.True(t, sh.TotalWeight.Equal(d("17")))
	require.True(t, sh.TotalVolume.Equal(d("1.7")))

	require.True(t, sh.Arrivals[0].Hours.IsZero())
	require.True(t, sh.Arrivals[1].Hours.Equal(d("5.5")))
	require.True(t, sh.Arrivals[2].Hours.Equal(d("11.5")))
	require.True(t, sh.FinishTime.Equal(d("13.5")))
}

func TestBuild_SplitsLargeGroup(t *testing.T) {
	b := NewBuilder(network.Default(), nil, nil)
	in := make([]*models.Parcel, 0, 2000)
	for i := 1; i <= 2000; i++ {
		in = append(in, parcel(uint64(i), "Colombo", "Kandy", models.ItemSizeSmall, models.DeliveryStandard))
	}

	res, err := b.Build(context.Background(), models.DeliveryStandard, "Colombo", in, "", nil)
	require.NoError(t, err)
	require.Greater(t, len(res.Shipments), 1)
	require.Equal(t, 2000, res.ParcelCount())
	require.Empty(t, res.Unprocessed)

	lim, _ := limits.DefaultTable().For(models.DeliveryStandard)
	requireValidPlan(t, res, lim, "Colombo")
	for _, sh := range res.Shipments {
		require.LessOrEqual(t, sh.ParcelCount, 1250)
		require.Equal(t, []string{"Colombo", "Kandy"}, sh.Route)
	}
}

func TestBuild_ExpressAllCenters_NoLossWithinLimits(t *testing.T) {
	net := network.Default()
	b := NewBuilder(net, nil, nil)

	var in []*models.Parcel
	id := uint64(1)
	for _, c := range net.Centers() {
		if c == "Colombo" {
			continue
		}
		for i := 0; i < 3; i++ {
			in = append(in, parcel(id, "Colombo", c, models.ItemSizeMedium, models.DeliveryExpress))
			id++
		}
	}

	res, err := b.Build(context.Background(), models.DeliveryExpress, "Colombo", in, "", nil)
	require.NoError(t, err)
	require.Empty(t, res.Unprocessed)
	require.Equal(t, len(in), res.ParcelCount())
	require.Greater(t, len(res.Shipments), 1)

	lim, _ := limits.DefaultTable().For(models.DeliveryExpress)
	requireValidPlan(t, res, lim, "Colombo")
}

func TestBuild_Deterministic(t *testing.T) {
	net := network.Default()
	var in []*models.Parcel
	id := uint64(1)
	for _, c := range []string{"Kandy", "Galle", "Matara", "Negombo", "Jaffna"} {
		for i := 0; i < 20; i++ {
			in = append(in, parcel(id, "Colombo", c, models.ItemSizeMedium, models.DeliveryStandard))
			id++
		}
	}

	first, err := NewBuilder(net, nil, nil).Build(context.Background(), models.DeliveryStandard, "Colombo", in, "", nil)
	require.NoError(t, err)

	shuffled := append([]*models.Parcel(nil), in...)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	second, err := NewBuilder(net, nil, nil).Build(context.Background(), models.DeliveryStandard, "Colombo", shuffled, "", nil)
	require.NoError(t, err)

	require.Equal(t, len(first.Shipments), len(second.Shipments))
	for i := range first.Shipments {
		require.Equal(t, first.Shipments[i].Route, second.Shipments[i].Route)
		require.Equal(t, first.Shipments[i].ParcelIDs, second.Shipments[i].ParcelIDs)
	}
}

func TestBuild_SkipRules(t *testing.T) {
	b := NewBuilder(network.Default(), nil, nil)
	sid := "ST-S001-Colombo"

	assigned := parcel(5, "Colombo", "Kandy", models.ItemSizeSmall, models.DeliveryStandard)
	assigned.ShipmentID = &sid

	in := []*models.Parcel{
		parcel(1, "Colombo", "Kandy", models.ItemSizeSmall, models.DeliveryStandard),
		parcel(2, "Colombo", "", models.ItemSizeSmall, models.DeliveryStandard),
		parcel(3, "Galle", "Kandy", models.ItemSizeSmall, models.DeliveryStandard),
		parcel(4, "Colombo", "Colombo", models.ItemSizeSmall, models.DeliveryStandard),
		assigned,
		parcel(6, "Colombo", "Kandy", "huge", models.DeliveryStandard),
		parcel(7, "Colombo", "Kandy", models.ItemSizeSmall, models.DeliveryExpress),
		nil,
	}

	res, err := b.Build(context.Background(), models.DeliveryStandard, "Colombo", in, "", nil)
	require.NoError(t, err)
	require.Len(t, res.Shipments, 1)
	require.Equal(t, []uint64{1}, res.Shipments[0].ParcelIDs)
	require.Equal(t, 1, res.SelfLoop)
	require.Equal(t, 1, res.AlreadyAssigned)
	require.ElementsMatch(t, []Unprocessed{
		{ParcelID: 2, Reason: ReasonMissingBranch},
		{ParcelID: 3, Reason: ReasonSourceMismatch},
		{ParcelID: 6, Reason: ReasonUnknownSize},
		{ParcelID: 7, Reason: ReasonMethodMismatch},
	}, res.Unprocessed)
}

func TestBuild_RerunOnAssignedParcelsIsNoop(t *testing.T) {
	b := NewBuilder(network.Default(), nil, nil)
	in := []*models.Parcel{
		parcel(1, "Colombo", "Kandy", models.ItemSizeSmall, models.DeliveryStandard),
		parcel(2, "Colombo", "Galle", models.ItemSizeSmall, models.DeliveryStandard),
	}

	sink := SinkFunc(func(ctx context.Context, sh *models.Shipment) error {
		id := "ST-S001-Colombo"
		for _, p := range in {
			p.ShipmentID = &id
		}
		return nil
	})
	res, err := b.Build(context.Background(), models.DeliveryStandard, "Colombo", in, "", sink)
	require.NoError(t, err)
	require.Len(t, res.Shipments, 1)

	again, err := b.Build(context.Background(), models.DeliveryStandard, "Colombo", in, "", sink)
	require.NoError(t, err)
	require.Empty(t, again.Shipments)
	require.Equal(t, 2, again.AlreadyAssigned)
}

func TestBuild_EmptyInput(t *testing.T) {
	b := NewBuilder(network.Default(), nil, nil)
	res, err := b.Build(context.Background(), models.DeliveryExpress, "Colombo", nil, "", nil)
	require.NoError(t, err)
	require.Empty(t, res.Shipments)
	require.Empty(t, res.Unprocessed)
}

func TestBuild_OutOfRangeDestination(t *testing.T) {
	net := network.MustNew([]string{"A", "B", "C"}, []network.Edge{
		{From: "A", To: "B", DistanceKm: 600, Hours: 6},
		{From: "A", To: "C", DistanceKm: 50, Hours: 1},
		{From: "B", To: "C", DistanceKm: 580, Hours: 6},
	})
	b := NewBuilder(net, nil, nil)
	in := []*models.Parcel{
		parcel(1, "A", "B", models.ItemSizeSmall, models.DeliveryExpress),
		parcel(2, "A", "C", models.ItemSizeSmall, models.DeliveryExpress),
	}

	res, err := b.Build(context.Background(), models.DeliveryExpress, "A", in, "", nil)
	require.NoError(t, err)
	require.Len(t, res.Shipments, 1)
	require.Equal(t, []string{"A", "C"}, res.Shipments[0].Route)
	require.Equal(t, []Unprocessed{{ParcelID: 1, Reason: ReasonOutOfRange}}, res.Unprocessed)
}

func TestBuild_DefaultTableExpressNeverReachesJaffnaFromSouth(t *testing.T) {
	b := NewBuilder(network.Default(), nil, nil)
	for _, src := range []string{"Galle", "Matara"} {
		t.Run(src, func(t *testing.T) {
			express := []*models.Parcel{
				parcel(1, src, "Jaffna", models.ItemSizeSmall, models.DeliveryExpress),
				parcel(2, src, "Colombo", models.ItemSizeSmall, models.DeliveryExpress),
			}
			res, err := b.Build(context.Background(), models.DeliveryExpress, src, express, "", nil)
			require.NoError(t, err)
			require.Equal(t, []Unprocessed{{ParcelID: 1, Reason: ReasonOutOfRange}}, res.Unprocessed)
			require.Equal(t, 1, res.ParcelCount())

			standard := []*models.Parcel{parcel(3, src, "Jaffna", models.ItemSizeSmall, models.DeliveryStandard)}
			res, err = b.Build(context.Background(), models.DeliveryStandard, src, standard, "", nil)
			require.NoError(t, err)
			require.Empty(t, res.Unprocessed)
			require.Equal(t, "Jaffna", res.Shipments[0].LastStop())
		})
	}
}

func TestBuild_ParcelLargerThanAnyShipment(t *testing.T) {
	sizes := limits.DefaultSizes()
	sizes["pallet"] = limits.Load{Weight: d("3000"), Volume: d("2")}
	b := NewBuilder(network.Default(), nil, sizes)

	var in []*models.Parcel
	for i := 1; i <= 260; i++ {
		in = append(in, parcel(uint64(i), "Colombo", "Kandy", models.ItemSizeLarge, models.DeliveryStandard))
	}
	in = append(in, parcel(1000, "Colombo", "Kandy", "pallet", models.DeliveryStandard))

	res, err := b.Build(context.Background(), models.DeliveryStandard, "Colombo", in, "", nil)
	require.NoError(t, err)
	require.Equal(t, []Unprocessed{{ParcelID: 1000, Reason: ReasonTooLarge}}, res.Unprocessed)
	require.Equal(t, 260, res.ParcelCount())

	lim, _ := limits.DefaultTable().For(models.DeliveryStandard)
	requireValidPlan(t, res, lim, "Colombo")
}

func TestBuild_SinkErrorKeepsEarlierShipments(t *testing.T) {
	b := NewBuilder(network.Default(), nil, nil)
	var in []*models.Parcel
	for i := 1; i <= 200; i++ {
		in = append(in, parcel(uint64(i), "Colombo", "Kandy", models.ItemSizeSmall, models.DeliveryStandard))
	}

	calls := 0
	boom := errors.New("db down")
	sink := SinkFunc(func(ctx context.Context, sh *models.Shipment) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})

	res, err := b.Build(context.Background(), models.DeliveryStandard, "Colombo", in, "", sink)
	require.ErrorIs(t, err, boom)
	require.Len(t, res.Shipments, 1)
	require.Equal(t, 2, calls)
}

func TestBuild_ConfigErrors(t *testing.T) {
	b := NewBuilder(network.Default(), nil, nil)

	_, err := b.Build(context.Background(), "Overnight", "Colombo", nil, "", nil)
	require.ErrorIs(t, err, limits.ErrUnknownDeliveryType)

	_, err = b.Build(context.Background(), models.DeliveryStandard, "Atlantis", nil, "", nil)
	require.ErrorIs(t, err, ErrUnknownCenter)

	in := []*models.Parcel{parcel(1, "Colombo", "Atlantis", models.ItemSizeSmall, models.DeliveryStandard)}
	_, err = b.Build(context.Background(), models.DeliveryStandard, "Colombo", in, "", nil)
	require.ErrorIs(t, err, network.ErrMissingDistance)
}
