package eta

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/instacab/dispatch/internal/pkg/models"
)

type stubService struct {
	seconds int
	err     error
}

func (s *stubService) Get(_ context.Context, _, _ models.Location) (int, error) {
	return s.seconds, s.err
}

func TestEstimatorNilService(t *testing.T) {
	e := NewEstimator(nil)
	got := e.Get(context.Background(), models.Location{}, models.Location{})
	assert.Equal(t, DefaultPickupTimeSeconds, got)
}

func TestEstimatorServiceFailure(t *testing.T) {
	e := NewEstimator(&stubService{err: errors.New("quota exceeded")})
	got := e.Get(context.Background(), models.Location{Latitude: 1}, models.Location{Latitude: 2})
	assert.Equal(t, DefaultPickupTimeSeconds, got)
}

func TestEstimatorServiceSuccess(t *testing.T) {
	e := NewEstimator(&stubService{seconds: 420})
	got := e.Get(context.Background(), models.Location{}, models.Location{})
	assert.Equal(t, 420, got)
}

func TestEstimatorMinutesRoundsUp(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    int
	}{
		{"exact minute", 120, 2},
		{"partial minute rounds up", 121, 3},
		{"under a minute", 30, 1},
		{"zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEstimator(&stubService{seconds: tt.seconds})
			got := e.Minutes(context.Background(), models.Location{}, models.Location{})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEstimatorMinutesDefault(t *testing.T) {
	e := NewEstimator(nil)
	got := e.Minutes(context.Background(), models.Location{}, models.Location{})
	assert.Equal(t, 20, got)
}
