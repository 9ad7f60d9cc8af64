package limits

import (
	"fmt"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var ErrUnknownItemSize = errors.New("unknown item size")

// Load is the weight (kg) and volume (m³) of one parcel.
type Load struct {
	Weight decimal.Decimal
	Volume decimal.Decimal
}

type SizeTable map[models.ItemSize]Load

func DefaultSizes() SizeTable {
	return SizeTable{
		models.ItemSizeSmall:  {Weight: decimal.NewFromInt(2), Volume: decimal.RequireFromString("0.2")},
		models.ItemSizeMedium: {Weight: decimal.NewFromInt(5), Volume: decimal.RequireFromString("0.5")},
		models.ItemSizeLarge:  {Weight: decimal.NewFromInt(10), Volume: decimal.NewFromInt(1)},
	}
}

func (s SizeTable) Resolve(size models.ItemSize) (Load, error) {
	l, ok := s[size]
	if !ok {
		return Load{}, errors.Wrap(ErrUnknownItemSize, fmt.Sprintf("%q", size))
	}
	return l, nil
}
