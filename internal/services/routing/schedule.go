package routing

import (
	"github.com/BearBump/ShipBox/internal/limits"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Schedule struct {
	Arrivals []models.Arrival
	Finish   decimal.Decimal
}

// CalculateArrivalTimes recomputes the authoritative schedule of a final
// route. The source arrives at 0, the first leg adds FirstBuffer, every later
// leg adds IntermediateBuffer, and LastBuffer is added after the last stop.
func CalculateArrivalTimes(net Network, route []string, l limits.Limits) (Schedule, error) {
	if len(route) == 0 {
		return Schedule{}, errors.New("calculate arrival times: empty route")
	}

	arrivals := make([]models.Arrival, 0, len(route))
	arrivals = append(arrivals, models.Arrival{Center: route[0], Hours: decimal.Zero})

	cumulative := decimal.Zero
	for i := 1; i < len(route); i++ {
		buffer := l.IntermediateBuffer
		if i == 1 {
			buffer = l.FirstBuffer
		}
		travel, err := net.TravelTime(route[i-1], route[i])
		if err != nil {
			return Schedule{}, errors.Wrap(err, "calculate arrival times")
		}
		cumulative = cumulative.Add(buffer).Add(travel)
		arrivals = append(arrivals, models.Arrival{Center: route[i], Hours: cumulative})
	}

	return Schedule{
		Arrivals: arrivals,
		Finish:   cumulative.Add(l.LastBuffer),
	}, nil
}
