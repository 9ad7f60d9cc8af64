// Package routing orders the stops of a shipment and computes its schedule.
//
// OptimizeRoute is a greedy nearest-neighbour heuristic. It is deterministic
// for a given input order but it is not an optimal TSP solver: callers that
// need guaranteed shortest tours need a different algorithm.
package routing

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Network is the part of the distance/time model routing needs.
type Network interface {
	Distance(a, b string) (decimal.Decimal, error)
	TravelTime(a, b string) (decimal.Decimal, error)
	Centers() []string
}

// OptimizeRoute returns source followed by every destination, each next stop
// being the closest remaining one to the current tail. Ties go to the
// destination that comes first in the input. Duplicates and the source
// itself are ignored.
func OptimizeRoute(net Network, source string, destinations []string) ([]string, error) {
	route := []string{source}

	seen := map[string]struct{}{source: {}}
	remaining := make([]string, 0, len(destinations))
	for _, d := range destinations {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		remaining = append(remaining, d)
	}

	current := source
	for len(remaining) > 0 {
		best := -1
		var bestDist decimal.Decimal
		for i, d := range remaining {
			dist, err := net.Distance(current, d)
			if err != nil {
				return nil, errors.Wrap(err, "optimize route")
			}
			if best == -1 || dist.LessThan(bestDist) {
				best = i
				bestDist = dist
			}
		}
		current = remaining[best]
		route = append(route, current)
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return route, nil
}

// RouteDistance sums leg distances along route.
func RouteDistance(net Network, route []string) (decimal.Decimal, error) {
	total := decimal.Zero
	for i := 1; i < len(route); i++ {
		d, err := net.Distance(route[i-1], route[i])
		if err != nil {
			return decimal.Zero, errors.Wrap(err, "route distance")
		}
		total = total.Add(d)
	}
	return total, nil
}
