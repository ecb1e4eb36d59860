package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceSymmetric(t *testing.T) {
	d1 := DistanceKm(14.5995, 120.9842, 10.0, 118.0)
	d2 := DistanceKm(10.0, 118.0, 14.5995, 120.9842)
	assert.InDelta(t, d1, d2, 1e-9)
}

func TestDistanceToSelfIsZero(t *testing.T) {
	assert.Equal(t, 0.0, DistanceKm(14.5995, 120.9842, 14.5995, 120.9842))
}

func TestDistanceManilaToPalawan(t *testing.T) {
	// Roughly 590 km apart; anything in the hundreds proves the formula.
	d := DistanceKm(14.5995, 120.9842, 10.0, 118.0)
	assert.Greater(t, d, 500.0)
	assert.Less(t, d, 700.0)
}

func TestBoxAroundIsSupersetOfCircle(t *testing.T) {
	lat, lng, radius := 14.5995, 120.9842, 10.0
	box := BoxAround(lat, lng, radius)

	// Points on the circle's cardinal extremes must fall inside the box.
	delta := radius / kmPerDegree
	for _, p := range [][2]float64{
		{lat + delta, lng},
		{lat - delta, lng},
		{lat, lng + delta},
		{lat, lng - delta},
	} {
		assert.GreaterOrEqual(t, p[0], box.MinLat)
		assert.LessOrEqual(t, p[0], box.MaxLat)
		assert.GreaterOrEqual(t, p[1], box.MinLng)
		assert.LessOrEqual(t, p[1], box.MaxLng)
	}

	// A box corner can exceed the radius: the box is a superset, never a subset.
	corner := DistanceKm(lat, lng, box.MaxLat, box.MaxLng)
	assert.Greater(t, corner, radius)
}

func TestRoundKm(t *testing.T) {
	assert.Equal(t, 1.23, RoundKm(1.2345))
	assert.Equal(t, 0.0, RoundKm(0.0001))
	assert.Equal(t, 2.5, RoundKm(2.499999))
}
