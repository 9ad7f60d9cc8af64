package limits

import (
	"testing"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTable_For(t *testing.T) {
	tbl := DefaultTable()

	st, err := tbl.For(models.DeliveryStandard)
	require.NoError(t, err)
	require.True(t, st.MaxWeight.Equal(d("2500")))
	require.True(t, st.MaxVolume.Equal(d("10")))

	_, err = tbl.For("Overnight")
	require.True(t, errors.Is(err, ErrUnknownDeliveryType))
}

func TestLimits_Exceeds(t *testing.T) {
	l, _ := DefaultTable().For(models.DeliveryExpress)

	require.Empty(t, l.Exceeds(Totals{Distance: d("500"), Time: d("12"), Weight: d("1000"), Volume: d("5")}))

	v := l.Exceeds(Totals{Distance: d("500.1"), Time: d("1"), Weight: d("1000.5"), Volume: d("1")})
	require.Equal(t, []Violation{ViolationDistance, ViolationWeight}, v)
	require.False(t, l.Allows(Totals{Volume: d("5.01")}))
}

func TestTableFromConfig_Overlay(t *testing.T) {
	tbl, err := TableFromConfig(map[string]Config{
		"Standard": {MaxWeightKg: 100, LastBufferHours: 0.25},
	})
	require.NoError(t, err)
	st, err := tbl.For(models.DeliveryStandard)
	require.NoError(t, err)
	require.True(t, st.MaxWeight.Equal(d("100")))
	require.True(t, st.LastBuffer.Equal(d("0.25")))
	// не заданное остаётся дефолтным
	require.True(t, st.MaxVolume.Equal(d("10")))

	_, err = TableFromConfig(map[string]Config{"Drone": {}})
	require.True(t, errors.Is(err, ErrUnknownDeliveryType))
}

func TestSizeTable_Resolve(t *testing.T) {
	s := DefaultSizes()
	l, err := s.Resolve(models.ItemSizeMedium)
	require.NoError(t, err)
	require.True(t, l.Weight.Equal(d("5")))
	require.True(t, l.Volume.Equal(d("0.5")))

	_, err = s.Resolve("huge")
	require.True(t, errors.Is(err, ErrUnknownItemSize))
}
