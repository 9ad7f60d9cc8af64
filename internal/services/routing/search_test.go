package routing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchOutward_NearestFirst(t *testing.T) {
	n := testNetwork(t)

	var order []string
	_, ok, err := SearchOutward(n, "HUB", func(c string) (bool, error) {
		order = append(order, c)
		return false, nil
	})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []string{"A", "C", "B"}, order)
}

func TestSearchOutward_StopsOnMatch(t *testing.T) {
	n := testNetwork(t)
	visits := 0
	c, ok, err := SearchOutward(n, "HUB", func(c string) (bool, error) {
		visits++
		return c == "C", nil
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "C", c)
	require.Equal(t, 2, visits)
}

func TestSearchOutward_VisitError(t *testing.T) {
	want := errors.New("db down")
	_, _, err := SearchOutward(testNetwork(t), "HUB", func(string) (bool, error) { return false, want })
	require.ErrorIs(t, err, want)
}
