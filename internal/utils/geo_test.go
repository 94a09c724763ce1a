package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/instacab/dispatch/internal/pkg/models"
)

func TestDistance(t *testing.T) {
	moscow := models.Location{Latitude: 55.7558, Longitude: 37.6173}
	spb := models.Location{Latitude: 59.9343, Longitude: 30.3351}

	// Moscow to Saint Petersburg is roughly 634 km
	d := Distance(moscow, spb)
	assert.InDelta(t, 634, d, 5)
}

func TestDistanceZero(t *testing.T) {
	p := models.Location{Latitude: 55.7558, Longitude: 37.6173}
	assert.Equal(t, 0.0, Distance(p, p))
}

func TestDistanceSymmetric(t *testing.T) {
	a := models.Location{Latitude: 55.75, Longitude: 37.61}
	b := models.Location{Latitude: 55.80, Longitude: 37.70}
	assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-9)
}

func TestEncodeLocation(t *testing.T) {
	loc := models.Location{Latitude: 55.7558, Longitude: 37.6173}
	hash := EncodeLocation(loc, 6)
	assert.Len(t, hash, 6)

	// points a few hundred meters apart share a coarse prefix
	near := models.Location{Latitude: 55.7560, Longitude: 37.6175}
	assert.Equal(t, hash[:4], EncodeLocation(near, 6)[:4])
}
