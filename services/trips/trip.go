package trips

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/instacab/dispatch/internal/pkg/models"
)

// Status is the trip lifecycle state
type Status string

// Trip statuses
const (
	StatusDispatching     Status = "Dispatching"
	StatusDriverConfirmed Status = "DriverConfirmed"
	StatusDriverArrived   Status = "DriverArrived"
	StatusStarted         Status = "Started"
	StatusFinished        Status = "Finished"
	StatusCanceled        Status = "Canceled"
)

// RoutePoint is one recorded position of the driver during an active trip
type RoutePoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Trip binds one rider, one driver and one pickup request. The driver and
// client hold non-owning references to it; its lifecycle is driven by the
// trip service.
type Trip struct {
	mu sync.Mutex

	ID             string
	ClientID       string
	DriverID       string
	PickupLocation models.Location
	Destination    *models.Location
	Status         Status
	Route          []RoutePoint
	CreatedAt      time.Time
}

// New creates a trip in the Dispatching status
func New(clientID, driverID string, pickup models.Location) *Trip {
	return &Trip{
		ID:             uuid.NewString(),
		ClientID:       clientID,
		DriverID:       driverID,
		PickupLocation: pickup,
		Status:         StatusDispatching,
		CreatedAt:      time.Now().UTC(),
	}
}

// GetID returns the cache key. The id is immutable.
func (t *Trip) GetID() string {
	return t.ID
}

// Pickup returns the pickup location. Immutable after creation.
func (t *Trip) Pickup() models.Location {
	return t.PickupLocation
}

// CurrentStatus returns the lifecycle status under the lock
func (t *Trip) CurrentStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

// SetStatus moves the trip to the given status
func (t *Trip) SetStatus(status Status) {
	t.mu.Lock()
	t.Status = status
	t.mu.Unlock()
}

// SetDestination records the rider's dropoff location
func (t *Trip) SetDestination(loc models.Location) {
	t.mu.Lock()
	t.Destination = &loc
	t.mu.Unlock()
}

// AddRoutePoint appends a driver position to the trip route. Only started
// trips record route points.
func (t *Trip) AddRoutePoint(loc models.Location) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status != StatusStarted {
		return
	}
	t.Route = append(t.Route, RoutePoint{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Timestamp: time.Now().UTC(),
	})
}

// IsActive reports whether the trip is still in flight
func (t *Trip) IsActive() bool {
	switch t.CurrentStatus() {
	case StatusFinished, StatusCanceled:
		return false
	}
	return true
}

// TripSnapshot is the wire representation published on channel:trips
type TripSnapshot struct {
	ID             string           `json:"id"`
	ClientID       string           `json:"clientId"`
	DriverID       string           `json:"driverId"`
	Status         Status           `json:"status"`
	PickupLocation models.Location  `json:"pickupLocation"`
	Destination    *models.Location `json:"destination,omitempty"`
	RoutePoints    int              `json:"routePoints"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// Snapshot returns the wire representation published on channel:trips
func (t *Trip) Snapshot() interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TripSnapshot{
		ID:             t.ID,
		ClientID:       t.ClientID,
		DriverID:       t.DriverID,
		Status:         t.Status,
		PickupLocation: t.PickupLocation,
		Destination:    t.Destination,
		RoutePoints:    len(t.Route),
		CreatedAt:      t.CreatedAt,
	}
}
