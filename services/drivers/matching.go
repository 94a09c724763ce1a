package drivers

import (
	"context"
	"errors"
	"sort"

	"github.com/instacab/dispatch/internal/pkg/eta"
	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/repository"
	"github.com/instacab/dispatch/internal/utils"
)

// ErrNoAvailableDrivers is returned when the candidate set is empty
var ErrNoAvailableDrivers = errors.New("no available drivers")

// NearbyDriver is one entry of the nearby-driver view pushed to riders.
// The ETA is informational; ranking is by straight-line distance only.
type NearbyDriver struct {
	ID         string          `json:"id"`
	VehicleID  string          `json:"vehicleId,omitempty"`
	Location   models.Location `json:"location"`
	ETAMinutes int             `json:"eta"`
	Geohash    string          `json:"geohash,omitempty"`
}

// Candidate pairs a driver with its distance to a pickup location
type Candidate struct {
	Driver     *Driver
	DistanceKm float64
}

// Matcher selects and ranks available drivers for a pickup location
type Matcher struct {
	cache     *repository.Cache[*Driver]
	estimator *eta.Estimator
}

// NewMatcher creates a matcher over the driver cache
func NewMatcher(cache *repository.Cache[*Driver], estimator *eta.Estimator) *Matcher {
	return &Matcher{cache: cache, estimator: estimator}
}

// availableDrivers snapshots the cache for connected, available drivers.
// The read is point-in-time, not isolated from concurrent dispatch writes;
// the re-check under the driver lock in Dispatch closes that gap.
func (m *Matcher) availableDrivers() []*Driver {
	return m.cache.Filter(func(d *Driver) bool {
		return d.IsAvailable()
	})
}

// FindAllAvailableOrderByDistance returns every available driver sorted
// ascending by straight-line distance to the pickup location. Ties keep
// snapshot order.
func (m *Matcher) FindAllAvailableOrderByDistance(pickup models.Location) []Candidate {
	available := m.availableDrivers()

	candidates := make([]Candidate, 0, len(available))
	for _, d := range available {
		candidates = append(candidates, Candidate{
			Driver:     d,
			DistanceKm: d.DistanceTo(pickup),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].DistanceKm < candidates[j].DistanceKm
	})
	return candidates
}

// FindOneAvailableNearPickupLocation returns the nearest available driver,
// or ErrNoAvailableDrivers when the candidate set is empty
func (m *Matcher) FindOneAvailableNearPickupLocation(pickup models.Location) (*Driver, error) {
	candidates := m.FindAllAvailableOrderByDistance(pickup)
	if len(candidates) == 0 {
		return nil, ErrNoAvailableDrivers
	}
	return candidates[0].Driver, nil
}

// FindAllAvailableNearLocation returns the nearby-driver view for a rider's
// location. ETA failures never surface; the estimator absorbs them.
func (m *Matcher) FindAllAvailableNearLocation(ctx context.Context, location models.Location) []NearbyDriver {
	available := m.availableDrivers()

	nearby := make([]NearbyDriver, 0, len(available))
	for _, d := range available {
		d.Lock()
		driverLocation := d.Location
		vehicleID := ""
		if d.Vehicle != nil {
			vehicleID = d.Vehicle.ID
		}
		d.Unlock()

		entry := NearbyDriver{
			ID:        d.GetID(),
			VehicleID: vehicleID,
			Location:  driverLocation,
			Geohash:   utils.EncodeLocation(driverLocation, snapshotGeohashPrecision),
		}
		if m.estimator != nil {
			entry.ETAMinutes = m.estimator.Minutes(ctx, driverLocation, location)
		}
		nearby = append(nearby, entry)
	}
	return nearby
}
