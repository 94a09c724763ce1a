package eta

import (
	"context"
	"fmt"

	"github.com/instacab/dispatch/internal/pkg/logger"
	"github.com/instacab/dispatch/internal/pkg/models"
)

// DefaultPickupTimeSeconds is returned whenever the distance service fails.
// Callers never fail because of this dependency.
const DefaultPickupTimeSeconds = 20 * 60

// Service computes a travel-time estimate between two points. Implementations
// may fail; use Estimator to absorb failures into the default.
type Service interface {
	Get(ctx context.Context, origin, destination models.Location) (int, error)
}

// Estimator wraps a distance service and guarantees an answer: any service
// failure resolves to DefaultPickupTimeSeconds and is logged, not surfaced.
type Estimator struct {
	service Service
}

// NewEstimator creates an estimator over the given distance service.
// A nil service always yields the default.
func NewEstimator(service Service) *Estimator {
	return &Estimator{service: service}
}

// Get returns the travel time in seconds from origin to destination.
func (e *Estimator) Get(ctx context.Context, origin, destination models.Location) int {
	if e.service == nil {
		return DefaultPickupTimeSeconds
	}

	seconds, err := e.service.Get(ctx, origin, destination)
	if err != nil {
		logger.Warn("distance service failed, using default pickup time", logger.Fields{
			"origin":      fmt.Sprintf("%f,%f", origin.Latitude, origin.Longitude),
			"destination": fmt.Sprintf("%f,%f", destination.Latitude, destination.Longitude),
			"error":       err.Error(),
		})
		return DefaultPickupTimeSeconds
	}
	return seconds
}

// Minutes returns the travel time rounded up to whole minutes.
func (e *Estimator) Minutes(ctx context.Context, origin, destination models.Location) int {
	seconds := e.Get(ctx, origin, destination)
	return (seconds + 59) / 60
}
