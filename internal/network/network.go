// Package network holds the static distance/time model between logistics centers.
package network

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrMissingDistance means the table has no entry for a center pair.
// It is a configuration error, callers abort the batch on it.
var ErrMissingDistance = errors.New("missing distance entry")

// ErrInvalidNetwork wraps every other table error found by New.
var ErrInvalidNetwork = errors.New("invalid network")

// Leg is the road distance and travel time between two centers.
type Leg struct {
	DistanceKm decimal.Decimal
	Hours      decimal.Decimal
}

// Edge is one table row as it appears in config.
type Edge struct {
	From       string  `yaml:"from" validate:"required"`
	To         string  `yaml:"to" validate:"required,nefield=From"`
	DistanceKm float64 `yaml:"distance_km" validate:"gt=0"`
	Hours      float64 `yaml:"hours" validate:"gt=0"`
}

// Network is immutable after New.
type Network struct {
	centers []string
	index   map[string]struct{}
	legs    map[string]Leg
}

// New builds a symmetric network and checks that every pair of centers is defined.
func New(centers []string, edges []Edge) (*Network, error) {
	n := &Network{
		index: make(map[string]struct{}, len(centers)),
		legs:  make(map[string]Leg, len(edges)*2),
	}
	for _, c := range centers {
		if c == "" {
			return nil, errors.Wrap(ErrInvalidNetwork, "center name is empty")
		}
		if _, ok := n.index[c]; ok {
			return nil, errors.Wrapf(ErrInvalidNetwork, "duplicate center %q", c)
		}
		n.index[c] = struct{}{}
		n.centers = append(n.centers, c)
	}
	sort.Strings(n.centers)

	for _, e := range edges {
		if _, ok := n.index[e.From]; !ok {
			return nil, errors.Wrapf(ErrInvalidNetwork, "edge %s-%s: unknown center %q", e.From, e.To, e.From)
		}
		if _, ok := n.index[e.To]; !ok {
			return nil, errors.Wrapf(ErrInvalidNetwork, "edge %s-%s: unknown center %q", e.From, e.To, e.To)
		}
		if e.From == e.To {
			return nil, errors.Wrapf(ErrInvalidNetwork, "edge %s-%s: self loop", e.From, e.To)
		}
		if e.DistanceKm < 0 || e.Hours < 0 {
			return nil, errors.Wrapf(ErrInvalidNetwork, "edge %s-%s: negative value", e.From, e.To)
		}
		leg := Leg{
			DistanceKm: decimal.NewFromFloat(e.DistanceKm),
			Hours:      decimal.NewFromFloat(e.Hours),
		}
		n.legs[key(e.From, e.To)] = leg
		n.legs[key(e.To, e.From)] = leg
	}

	for i, a := range n.centers {
		for _, b := range n.centers[i+1:] {
			if _, ok := n.legs[key(a, b)]; !ok {
				return nil, errors.Wrapf(ErrMissingDistance, "%s -> %s", a, b)
			}
		}
	}
	return n, nil
}

// MustNew panics on an invalid table. Used for the built-in default.
func MustNew(centers []string, edges []Edge) *Network {
	n, err := New(centers, edges)
	if err != nil {
		panic(err)
	}
	return n
}

func key(a, b string) string {
	return a + "|" + b
}

// Centers returns center names sorted alphabetically.
func (n *Network) Centers() []string {
	out := make([]string, len(n.centers))
	copy(out, n.centers)
	return out
}

func (n *Network) Has(center string) bool {
	_, ok := n.index[center]
	return ok
}

// Leg returns the leg between a and b. The leg from a center to itself is zero.
func (n *Network) Leg(a, b string) (Leg, error) {
	if a == b && n.Has(a) {
		return Leg{}, nil
	}
	l, ok := n.legs[key(a, b)]
	if !ok {
		return Leg{}, errors.Wrapf(ErrMissingDistance, "%s -> %s", a, b)
	}
	return l, nil
}

func (n *Network) Distance(a, b string) (decimal.Decimal, error) {
	l, err := n.Leg(a, b)
	if err != nil {
		return decimal.Zero, err
	}
	return l.DistanceKm, nil
}

func (n *Network) TravelTime(a, b string) (decimal.Decimal, error) {
	l, err := n.Leg(a, b)
	if err != nil {
		return decimal.Zero, err
	}
	return l.Hours, nil
}
