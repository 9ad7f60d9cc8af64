package limits

import (
	"fmt"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var ErrUnknownDeliveryType = errors.New("unknown delivery type")

// Limits are the per delivery type maxima of one shipment plus the buffer
// hours added per route leg.
//
// Buffer and FirstBuffer are used by the builder while it decides whether a
// shipment can be extended. FirstBuffer, IntermediateBuffer and LastBuffer
// are used by the arrival schedule.
type Limits struct {
	MaxDistance decimal.Decimal
	MaxTime     decimal.Decimal
	MaxWeight   decimal.Decimal
	MaxVolume   decimal.Decimal

	Buffer             decimal.Decimal
	FirstBuffer        decimal.Decimal
	IntermediateBuffer decimal.Decimal
	LastBuffer         decimal.Decimal
}

// Totals is the running load of a shipment.
type Totals struct {
	Distance decimal.Decimal
	Time     decimal.Decimal
	Weight   decimal.Decimal
	Volume   decimal.Decimal
}

func (t Totals) Add(o Totals) Totals {
	return Totals{
		Distance: t.Distance.Add(o.Distance),
		Time:     t.Time.Add(o.Time),
		Weight:   t.Weight.Add(o.Weight),
		Volume:   t.Volume.Add(o.Volume),
	}
}

type Violation string

const (
	ViolationDistance Violation = "distance"
	ViolationTime     Violation = "time"
	ViolationWeight   Violation = "weight"
	ViolationVolume   Violation = "volume"
)

// Exceeds returns every constraint the totals would breach. Equal to the
// maximum is allowed.
func (l Limits) Exceeds(t Totals) []Violation {
	var out []Violation
	if t.Distance.GreaterThan(l.MaxDistance) {
		out = append(out, ViolationDistance)
	}
	if t.Time.GreaterThan(l.MaxTime) {
		out = append(out, ViolationTime)
	}
	if t.Weight.GreaterThan(l.MaxWeight) {
		out = append(out, ViolationWeight)
	}
	if t.Volume.GreaterThan(l.MaxVolume) {
		out = append(out, ViolationVolume)
	}
	return out
}

func (l Limits) Allows(t Totals) bool {
	return len(l.Exceeds(t)) == 0
}

// Config is the yaml shape of one Limits row. Zero fields fall back to defaults.
type Config struct {
	MaxDistanceKm     float64 `yaml:"max_distance_km" validate:"gte=0"`
	MaxTimeHours      float64 `yaml:"max_time_hours" validate:"gte=0"`
	MaxWeightKg       float64 `yaml:"max_weight_kg" validate:"gte=0"`
	MaxVolumeM3       float64 `yaml:"max_volume_m3" validate:"gte=0"`
	BufferHours       float64 `yaml:"buffer_hours" validate:"gte=0"`
	FirstBufferHours  float64 `yaml:"first_buffer_hours" validate:"gte=0"`
	IntermediateHours float64 `yaml:"intermediate_buffer_hours" validate:"gte=0"`
	LastBufferHours   float64 `yaml:"last_buffer_hours" validate:"gte=0"`
}

// Table holds Limits per delivery type. It is immutable once built.
type Table struct {
	byType map[models.DeliveryType]Limits
}

func NewTable(rows map[models.DeliveryType]Limits) *Table {
	t := &Table{byType: make(map[models.DeliveryType]Limits, len(rows))}
	for k, v := range rows {
		t.byType[k] = v
	}
	return t
}

func (t *Table) For(dt models.DeliveryType) (Limits, error) {
	l, ok := t.byType[dt]
	if !ok {
		return Limits{}, errors.Wrap(ErrUnknownDeliveryType, fmt.Sprintf("%q", dt))
	}
	return l, nil
}

func DefaultTable() *Table {
	return NewTable(map[models.DeliveryType]Limits{
		models.DeliveryStandard: {
			MaxDistance:        decimal.NewFromInt(1000),
			MaxTime:            decimal.NewFromInt(30),
			MaxWeight:          decimal.NewFromInt(2500),
			MaxVolume:          decimal.NewFromInt(10),
			Buffer:             decimal.NewFromInt(1),
			FirstBuffer:        decimal.NewFromInt(2),
			IntermediateBuffer: decimal.NewFromInt(1),
			LastBuffer:         decimal.NewFromInt(2),
		},
		models.DeliveryExpress: {
			MaxDistance:        decimal.NewFromInt(500),
			MaxTime:            decimal.NewFromInt(12),
			MaxWeight:          decimal.NewFromInt(1000),
			MaxVolume:          decimal.NewFromInt(5),
			Buffer:             decimal.RequireFromString("0.5"),
			FirstBuffer:        decimal.NewFromInt(1),
			IntermediateBuffer: decimal.RequireFromString("0.5"),
			LastBuffer:         decimal.NewFromInt(1),
		},
	})
}

// TableFromConfig overlays configured rows on top of the default table.
func TableFromConfig(rows map[string]Config) (*Table, error) {
	def := DefaultTable()
	out := make(map[models.DeliveryType]Limits, len(def.byType))
	for k, v := range def.byType {
		out[k] = v
	}
	for name, c := range rows {
		dt := models.DeliveryType(name)
		if !dt.IsValid() {
			return nil, errors.Wrap(ErrUnknownDeliveryType, fmt.Sprintf("limits config %q", name))
		}
		l := out[dt]
		overlay(&l.MaxDistance, c.MaxDistanceKm)
		overlay(&l.MaxTime, c.MaxTimeHours)
		overlay(&l.MaxWeight, c.MaxWeightKg)
		overlay(&l.MaxVolume, c.MaxVolumeM3)
		overlay(&l.Buffer, c.BufferHours)
		overlay(&l.FirstBuffer, c.FirstBufferHours)
		overlay(&l.IntermediateBuffer, c.IntermediateHours)
		overlay(&l.LastBuffer, c.LastBufferHours)
		out[dt] = l
	}
	return NewTable(out), nil
}

func overlay(dst *decimal.Decimal, v float64) {
	if v > 0 {
		*dst = decimal.NewFromFloat(v)
	}
}
