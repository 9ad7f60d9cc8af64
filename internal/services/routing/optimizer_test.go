package routing

import (
	"testing"

	"github.com/BearBump/ShipBox/internal/network"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testNetwork(t *testing.T) *network.Network {
	t.Helper()
	n, err := network.New([]string{"HUB", "A", "B", "C"}, []network.Edge{
		{From: "HUB", To: "A", DistanceKm: 10, Hours: 1},
		{From: "HUB", To: "B", DistanceKm: 20, Hours: 2},
		{From: "HUB", To: "C", DistanceKm: 15, Hours: 1.5},
		{From: "A", To: "B", DistanceKm: 8, Hours: 0.8},
		{From: "A", To: "C", DistanceKm: 7, Hours: 0.7},
		{From: "B", To: "C", DistanceKm: 9, Hours: 0.9},
	})
	require.NoError(t, err)
	return n
}

func TestOptimizeRoute_NearestNeighbour(t *testing.T) {
	n := testNetwork(t)
	route, err := OptimizeRoute(n, "HUB", []string{"B", "C", "A"})
	require.NoError(t, err)
	require.Equal(t, []string{"HUB", "A", "C", "B"}, route)

	dist, err := RouteDistance(n, route)
	require.NoError(t, err)
	require.True(t, dist.Equal(decimal.NewFromInt(26)))
}

func TestOptimizeRoute_Empty(t *testing.T) {
	route, err := OptimizeRoute(testNetwork(t), "HUB", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"HUB"}, route)
}

func TestOptimizeRoute_IgnoresSourceAndDuplicates(t *testing.T) {
	route, err := OptimizeRoute(testNetwork(t), "HUB", []string{"A", "HUB", "A"})
	require.NoError(t, err)
	require.Equal(t, []string{"HUB", "A"}, route)
}

func TestOptimizeRoute_TieKeepsInputOrder(t *testing.T) {
	n, err := network.New([]string{"S", "X", "Y"}, []network.Edge{
		{From: "S", To: "X", DistanceKm: 5, Hours: 1},
		{From: "S", To: "Y", DistanceKm: 5, Hours: 1},
		{From: "X", To: "Y", DistanceKm: 3, Hours: 1},
	})
	require.NoError(t, err)

	route, err := OptimizeRoute(n, "S", []string{"Y", "X"})
	require.NoError(t, err)
	require.Equal(t, []string{"S", "Y", "X"}, route)
}

func TestOptimizeRoute_MissingPairIsFatal(t *testing.T) {
	_, err := OptimizeRoute(testNetwork(t), "HUB", []string{"A", "Nowhere"})
	require.Error(t, err)
	require.True(t, errors.Is(err, network.ErrMissingDistance))
}

func TestOptimizeRoute_NoRepeatedCenters(t *testing.T) {
	n := network.Default()
	route, err := OptimizeRoute(n, "Colombo", n.Centers())
	require.NoError(t, err)
	require.Len(t, route, len(n.Centers()))
	require.Equal(t, "Colombo", route[0])

	seen := map[string]bool{}
	for _, c := range route {
		require.False(t, seen[c], "repeated %s", c)
		seen[c] = true
	}
}
