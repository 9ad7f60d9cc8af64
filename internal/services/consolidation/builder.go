// Package consolidation groups pending parcels of one center into shipments.
//
// A destination farther than the delivery type allows (MaxDistance, MaxTime
// of its limits row) is never shipped by that type: its parcels come back as
// Unprocessed with ReasonOutOfRange on every batch. With the default table
// this is Express from Galle and Matara to Jaffna (520 and 555 km against
// 500); such parcels need Standard or a wider limits row in config.
package consolidation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/BearBump/ShipBox/internal/limits"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/routing"
	"github.com/pkg/errors"
)

var ErrUnknownCenter = errors.New("unknown center")

// ErrSkipShipment returned by a Sink leaves the shipment out of the result
// and lets the build go on.
var ErrSkipShipment = errors.New("shipment skipped")

// Причины, по которым посылка не попала ни в одну отгрузку.
const (
	ReasonMissingBranch  = "missing_branch"
	ReasonSourceMismatch = "source_mismatch"
	ReasonMethodMismatch = "method_mismatch"
	ReasonUnknownSize    = "unknown_size"
	ReasonOutOfRange     = "out_of_range"
	ReasonTooLarge       = "too_large"
	// Посылку забрала параллельная отгрузка дважды подряд; осталась в пуле.
	ReasonConcurrentUpdate = "concurrent_update"
)

type Network interface {
	routing.Network
	Has(center string) bool
}

// Sink receives every shipment as soon as it is finalized. An error other
// than ErrSkipShipment stops the build; shipments handed over before it stay
// as they are.
type Sink interface {
	Finalize(ctx context.Context, sh *models.Shipment) error
}

type SinkFunc func(ctx context.Context, sh *models.Shipment) error

func (f SinkFunc) Finalize(ctx context.Context, sh *models.Shipment) error { return f(ctx, sh) }

type Unprocessed struct {
	ParcelID uint64 `json:"parcelId"`
	Reason   string `json:"reason"`
}

type Result struct {
	Shipments       []*models.Shipment
	Unprocessed     []Unprocessed
	SelfLoop        int
	AlreadyAssigned int
}

func (r *Result) merge(o *Result) {
	if o == nil {
		return
	}
	r.Shipments = append(r.Shipments, o.Shipments...)
	r.Unprocessed = append(r.Unprocessed, o.Unprocessed...)
	r.SelfLoop += o.SelfLoop
	r.AlreadyAssigned += o.AlreadyAssigned
}

// ParcelCount is the number of parcels placed into shipments.
func (r *Result) ParcelCount() int {
	n := 0
	for _, sh := range r.Shipments {
		n += sh.ParcelCount
	}
	return n
}

type Builder struct {
	net    Network
	limits *limits.Table
	sizes  limits.SizeTable
}

func NewBuilder(net Network, tbl *limits.Table, sizes limits.SizeTable) *Builder {
	if tbl == nil {
		tbl = limits.DefaultTable()
	}
	if sizes == nil {
		sizes = limits.DefaultSizes()
	}
	return &Builder{net: net, limits: tbl, sizes: sizes}
}

type item struct {
	id   uint64
	load limits.Totals
}

type group struct {
	dest  string
	items []item
	load  limits.Totals
}

// draft is the shipment being filled. totals is the running approximation
// used only to decide when to split.
type draft struct {
	sh     *models.Shipment
	totals limits.Totals
}

func (d *draft) empty() bool { return len(d.sh.ParcelIDs) == 0 }

func (d *draft) hasStops() bool { return len(d.sh.Route) > 1 }

// Build consolidates parcels leaving source into one or more shipments of the
// given delivery type. Shipments are handed to sink one at a time, in order.
// sink may be nil when only the plan is needed.
func (b *Builder) Build(
	ctx context.Context,
	dt models.DeliveryType,
	source string,
	parcels []*models.Parcel,
	staffID string,
	sink Sink,
) (*Result, error) {
	lim, err := b.limits.For(dt)
	if err != nil {
		return nil, errors.Wrap(err, "build shipments")
	}
	if !b.net.Has(source) {
		return nil, errors.Wrap(ErrUnknownCenter, fmt.Sprintf("build shipments: source %q", source))
	}

	res := &Result{}
	groups := b.group(dt, source, parcels, res)

	dests := make([]string, 0, len(groups))
	for d := range groups {
		dests = append(dests, d)
	}
	sort.Strings(dests)

	route, err := routing.OptimizeRoute(b.net, source, dests)
	if err != nil {
		return nil, errors.Wrap(err, "build shipments")
	}

	open := func() *draft {
		return &draft{sh: &models.Shipment{
			DeliveryType:    dt,
			SourceCenter:    source,
			Route:           []string{source},
			CurrentLocation: source,
			Status:          models.ShipmentStatusPending,
			CreatedByCenter: source,
			CreatedByStaff:  staffID,
		}}
	}
	finalize := func(d *draft) error {
		if d == nil || d.empty() {
			return nil
		}
		if err := b.finalize(ctx, d, lim, sink); err != nil {
			if errors.Is(err, ErrSkipShipment) {
				return nil
			}
			return err
		}
		res.Shipments = append(res.Shipments, d.sh)
		return nil
	}

	var cur *draft
	for _, dest := range route[1:] {
		g := groups[dest]
		if cur == nil {
			cur = open()
		}

		ext, err := b.extension(cur, dest, lim)
		if err != nil {
			return res, err
		}
		if lim.Allows(cur.totals.Add(ext).Add(g.load)) {
			cur.appendGroup(dest, ext, g)
			continue
		}

		// Не влезает: закрываем текущую и начинаем новую прямо от source.
		if cur.hasStops() {
			if err := finalize(cur); err != nil {
				return res, err
			}
			cur = open()
			if ext, err = b.extension(cur, dest, lim); err != nil {
				return res, err
			}
		}

		if !lim.Allows(ext) {
			for _, it := range g.items {
				res.Unprocessed = append(res.Unprocessed, Unprocessed{ParcelID: it.id, Reason: ReasonOutOfRange})
				slog.Warn("skip parcel", "parcel_id", it.id, "destination", dest, "reason", ReasonOutOfRange)
			}
			continue
		}
		if lim.Allows(ext.Add(g.load)) {
			cur.appendGroup(dest, ext, g)
			continue
		}

		// The group alone is heavier than one shipment: spread it over
		// consecutive shipments to the same destination.
		for _, it := range g.items {
			next := cur.totals.Add(it.load)
			if cur.sh.LastStop() != dest {
				next = next.Add(ext)
			}
			if !lim.Allows(next) {
				if !cur.empty() {
					if err := finalize(cur); err != nil {
						return res, err
					}
					cur = open()
				}
				if !lim.Allows(ext.Add(it.load)) {
					res.Unprocessed = append(res.Unprocessed, Unprocessed{ParcelID: it.id, Reason: ReasonTooLarge})
					slog.Warn("skip parcel", "parcel_id", it.id, "destination", dest, "reason", ReasonTooLarge)
					continue
				}
			}
			if cur.sh.LastStop() != dest {
				cur.appendStop(dest, ext)
			}
			cur.addItem(it)
		}
	}

	if err := finalize(cur); err != nil {
		return res, err
	}
	return res, nil
}

// group filters parcels and groups the valid ones by destination.
func (b *Builder) group(dt models.DeliveryType, source string, parcels []*models.Parcel, res *Result) map[string]*group {
	skip := func(id uint64, reason string) {
		res.Unprocessed = append(res.Unprocessed, Unprocessed{ParcelID: id, Reason: reason})
		slog.Warn("skip parcel", "parcel_id", id, "reason", reason)
	}

	groups := make(map[string]*group)
	for _, p := range parcels {
		if p == nil {
			continue
		}
		switch {
		case p.Assigned():
			res.AlreadyAssigned++
			continue
		case p.SourceCenter == "" || p.DestinationCenter == "":
			skip(p.ID, ReasonMissingBranch)
			continue
		case p.SourceCenter != source:
			skip(p.ID, ReasonSourceMismatch)
			continue
		case p.ShippingMethod != dt:
			skip(p.ID, ReasonMethodMismatch)
			continue
		case p.DestinationCenter == source:
			res.SelfLoop++
			continue
		}

		load, err := b.sizes.Resolve(p.ItemSize)
		if err != nil {
			skip(p.ID, ReasonUnknownSize)
			continue
		}

		g, ok := groups[p.DestinationCenter]
		if !ok {
			g = &group{dest: p.DestinationCenter}
			groups[p.DestinationCenter] = g
		}
		it := item{id: p.ID, load: limits.Totals{Weight: load.Weight, Volume: load.Volume}}
		g.items = append(g.items, it)
		g.load = g.load.Add(it.load)
	}

	for _, g := range groups {
		sort.Slice(g.items, func(i, j int) bool { return g.items[i].id < g.items[j].id })
	}
	return groups
}

// extension is the distance and time added by driving from the draft's last
// stop to dest. The first leg of a shipment carries FirstBuffer, later legs
// the regular Buffer.
func (b *Builder) extension(d *draft, dest string, lim limits.Limits) (limits.Totals, error) {
	from := d.sh.LastStop()
	dist, err := b.net.Distance(from, dest)
	if err != nil {
		return limits.Totals{}, errors.Wrap(err, "build shipments")
	}
	travel, err := b.net.TravelTime(from, dest)
	if err != nil {
		return limits.Totals{}, errors.Wrap(err, "build shipments")
	}
	buffer := lim.Buffer
	if !d.hasStops() {
		buffer = lim.FirstBuffer
	}
	return limits.Totals{Distance: dist, Time: travel.Add(buffer)}, nil
}

func (d *draft) appendStop(dest string, ext limits.Totals) {
	d.sh.Route = append(d.sh.Route, dest)
	d.totals = d.totals.Add(ext)
}

func (d *draft) addItem(it item) {
	d.sh.ParcelIDs = append(d.sh.ParcelIDs, it.id)
	d.totals = d.totals.Add(it.load)
}

func (d *draft) appendGroup(dest string, ext limits.Totals, g *group) {
	d.appendStop(dest, ext)
	for _, it := range g.items {
		d.addItem(it)
	}
}

func (b *Builder) finalize(ctx context.Context, d *draft, lim limits.Limits, sink Sink) error {
	sched, err := routing.CalculateArrivalTimes(b.net, d.sh.Route, lim)
	if err != nil {
		return errors.Wrap(err, "finalize shipment")
	}

	sh := d.sh
	sh.TotalDistance = d.totals.Distance
	sh.TotalTime = d.totals.Time
	sh.TotalWeight = d.totals.Weight
	sh.TotalVolume = d.totals.Volume
	sh.ParcelCount = len(sh.ParcelIDs)
	sh.Arrivals = sched.Arrivals
	sh.FinishTime = sched.Finish

	if sink == nil {
		return nil
	}
	return sink.Finalize(ctx, sh)
}
