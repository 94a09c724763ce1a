package trips

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/instacab/dispatch/internal/pkg/backend"
	"github.com/instacab/dispatch/internal/pkg/constants"
	"github.com/instacab/dispatch/internal/pkg/eta"
	"github.com/instacab/dispatch/internal/pkg/logger"
	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/repository"
	"github.com/instacab/dispatch/internal/utils"
	"github.com/instacab/dispatch/services/clients"
	"github.com/instacab/dispatch/services/drivers"
)

// pickupOfferTimeout bounds how long a dispatched driver may sit on an offer
const pickupOfferTimeout = 15 * time.Second

// EventPublisher pushes operational events to the message queue. Satisfied by
// the NSQ producer; nil disables event publishing.
type EventPublisher interface {
	Publish(topic string, message interface{}) error
}

// StatusEvent is the trip.status queue event
type StatusEvent struct {
	TripID    string    `json:"tripId"`
	ClientID  string    `json:"clientId"`
	DriverID  string    `json:"driverId"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Service orchestrates the trip lifecycle between one rider and one driver:
// dispatch, confirmation, progress, completion, ratings and the cancellation
// paths. Entity state transitions live on the entities; the service sequences
// them and keeps the caches, storage and event queue in step.
type Service struct {
	drivers   *repository.Cache[*drivers.Driver]
	clients   *repository.Cache[*clients.Client]
	trips     *repository.Cache[*Trip]
	matcher   *drivers.Matcher
	estimator *eta.Estimator
	backend   backend.API
	events    EventPublisher

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// NewService creates the trip service. The event publisher may be nil.
func NewService(
	driverCache *repository.Cache[*drivers.Driver],
	clientCache *repository.Cache[*clients.Client],
	tripCache *repository.Cache[*Trip],
	matcher *drivers.Matcher,
	estimator *eta.Estimator,
	api backend.API,
	events EventPublisher,
) *Service {
	return &Service{
		drivers:   driverCache,
		clients:   clientCache,
		trips:     tripCache,
		matcher:   matcher,
		estimator: estimator,
		backend:   api,
		events:    events,
		timers:    make(map[string]*time.Timer),
	}
}

// Hydrate re-links hydrated drivers and clients to their active trips and
// resets any driver whose persisted state references a trip that no longer
// exists.
func (s *Service) Hydrate(ctx context.Context) {
	s.trips.Each(func(t *Trip) {
		if !t.IsActive() {
			return
		}
		if d, err := s.drivers.Get(t.DriverID); err == nil {
			d.AttachTrip(t)
		}
		if c, err := s.clients.Get(t.ClientID); err == nil {
			c.AssignTrip(t)
		}
	})

	s.drivers.Each(func(d *drivers.Driver) {
		if d.CurrentState().InTrip() && d.Trip() == nil {
			logger.Warn("resetting driver with orphaned trip state", logger.Fields{
				"driver_id": d.GetID(),
				"state":     string(d.CurrentState()),
			})
			d.OffDuty(&models.Envelope{})
		}
	})
}

// RequestPickup finds the nearest available driver for the rider's pickup
// request, creates the trip and offers it. Candidates that lose the
// availability re-check are skipped in distance order; with no winner the
// rider goes back to Looking and ErrNoAvailableDrivers is returned.
func (s *Service) RequestPickup(ctx context.Context, client *clients.Client, env *models.Envelope) (*Trip, error) {
	if err := client.Pickup(env); err != nil {
		return nil, err
	}

	pickup := env.PickupLocation()
	candidates := s.matcher.FindAllAvailableOrderByDistance(pickup)

	for _, candidate := range candidates {
		trip := New(client.GetID(), candidate.Driver.GetID(), pickup)
		if env.Destination != nil {
			trip.SetDestination(*env.Destination)
		}

		err := candidate.Driver.Dispatch(client, trip)
		if errors.Is(err, drivers.ErrNotAvailable) {
			continue
		}
		if err != nil {
			// offer could not be delivered; release the driver and
			// try the next candidate
			logger.Warn("failed to deliver pickup offer", logger.Fields{
				"driver_id": candidate.Driver.GetID(),
				"trip_id":   trip.GetID(),
				"error":     err.Error(),
			})
			candidate.Driver.NotifyPickupCanceled("pickup offer could not be delivered")
			continue
		}

		client.AssignTrip(trip)
		s.scheduleOfferTimeout(trip)

		save(ctx, s.trips, trip)
		save(ctx, s.clients, client)
		save(ctx, s.drivers, candidate.Driver)
		s.publishStatus(trip)
		return trip, nil
	}

	client.CancelPickup(env)
	save(ctx, s.clients, client)
	return nil, drivers.ErrNoAvailableDrivers
}

// CancelPickup abandons the rider's running pickup request and releases the
// dispatched driver, if any
func (s *Service) CancelPickup(ctx context.Context, client *clients.Client, env *models.Envelope) *clients.OKResponse {
	ref := client.Trip()
	resp := client.CancelPickup(env)
	save(ctx, s.clients, client)

	if ref == nil {
		return resp
	}

	s.cancelOfferTimer(ref.GetID())
	trip, err := s.trips.Get(ref.GetID())
	if err != nil {
		return resp
	}

	trip.SetStatus(StatusCanceled)
	if d, err := s.drivers.Get(trip.DriverID); err == nil {
		d.NotifyPickupCanceled("Client canceled the pickup.")
		save(ctx, s.drivers, d)
	}
	save(ctx, s.trips, trip)
	s.publishStatus(trip)
	return resp
}

// CancelTripByClient cancels a confirmed or running trip on the rider's
// behalf
func (s *Service) CancelTripByClient(ctx context.Context, client *clients.Client, env *models.Envelope) *clients.OKResponse {
	ref := client.Trip()
	resp := client.CancelPickup(env)
	save(ctx, s.clients, client)

	if ref == nil {
		return resp
	}

	s.cancelOfferTimer(ref.GetID())
	trip, err := s.trips.Get(ref.GetID())
	if err != nil {
		return resp
	}

	trip.SetStatus(StatusCanceled)
	if d, err := s.drivers.Get(trip.DriverID); err == nil {
		d.NotifyTripCanceled()
		save(ctx, s.drivers, d)
	}
	save(ctx, s.trips, trip)
	s.publishStatus(trip)
	return resp
}

// CancelByDriver cancels the driver's current trip and notifies the rider
func (s *Service) CancelByDriver(ctx context.Context, driver *drivers.Driver, env *models.Envelope) *drivers.OKResponse {
	ref := driver.Trip()
	resp := driver.CancelTrip(env)
	save(ctx, s.drivers, driver)

	if ref == nil {
		return resp
	}

	s.cancelOfferTimer(ref.GetID())
	trip, err := s.trips.Get(ref.GetID())
	if err != nil {
		return resp
	}

	trip.SetStatus(StatusCanceled)
	if c, err := s.clients.Get(trip.ClientID); err == nil {
		c.NotifyTripCanceled("Driver canceled the trip.")
		save(ctx, s.clients, c)
	}
	save(ctx, s.trips, trip)
	s.publishStatus(trip)
	return resp
}

// Confirm accepts the pickup offer on the driver's behalf and tells the rider
// who is coming and when
func (s *Service) Confirm(ctx context.Context, driver *drivers.Driver, env *models.Envelope) (*drivers.OKResponse, error) {
	resp, err := driver.Confirm(env)
	if err != nil {
		return nil, err
	}

	ref := driver.Trip()
	if ref == nil {
		return resp, nil
	}
	s.cancelOfferTimer(ref.GetID())

	trip, err := s.trips.Get(ref.GetID())
	if err != nil {
		logger.Error("confirmed trip missing from cache", logger.Fields{
			"trip_id":   ref.GetID(),
			"driver_id": driver.GetID(),
		})
		return resp, nil
	}

	trip.SetStatus(StatusDriverConfirmed)

	driver.Lock()
	driverLocation := driver.Location
	driver.Unlock()
	etaMinutes := s.estimator.Minutes(ctx, driverLocation, trip.Pickup())

	if c, err := s.clients.Get(trip.ClientID); err == nil {
		c.NotifyPickupConfirmed(driver, etaMinutes)
		save(ctx, s.clients, c)
	}

	save(ctx, s.drivers, driver)
	save(ctx, s.trips, trip)
	s.publishStatus(trip)
	return resp, nil
}

// DriverArriving marks the driver as arrived and notifies the rider
func (s *Service) DriverArriving(ctx context.Context, driver *drivers.Driver, env *models.Envelope) (*drivers.OKResponse, error) {
	return s.progress(ctx, driver, env, driver.Arriving, StatusDriverArrived, func(c *clients.Client) {
		c.NotifyDriverArrived()
	})
}

// DriverBegin starts the trip and notifies the rider
func (s *Service) DriverBegin(ctx context.Context, driver *drivers.Driver, env *models.Envelope) (*drivers.OKResponse, error) {
	return s.progress(ctx, driver, env, driver.Begin, StatusStarted, func(c *clients.Client) {
		c.NotifyTripStarted()
	})
}

// DriverEnd finishes the trip; both parties move to their rating states
func (s *Service) DriverEnd(ctx context.Context, driver *drivers.Driver, env *models.Envelope) (*drivers.OKResponse, error) {
	return s.progress(ctx, driver, env, driver.FinishTrip, StatusFinished, func(c *clients.Client) {
		c.NotifyTripFinished()
	})
}

// progress runs one driver FSM advance, moves the trip status and notifies
// the rider. The driver keeps its trip reference across the advance.
func (s *Service) progress(
	ctx context.Context,
	driver *drivers.Driver,
	env *models.Envelope,
	advance func(*models.Envelope) (*drivers.OKResponse, error),
	status Status,
	notify func(*clients.Client),
) (*drivers.OKResponse, error) {
	ref := driver.Trip()
	resp, err := advance(env)
	if err != nil {
		return nil, err
	}

	if ref != nil {
		if trip, err := s.trips.Get(ref.GetID()); err == nil {
			trip.SetStatus(status)
			save(ctx, s.trips, trip)
			s.publishStatus(trip)

			if c, err := s.clients.Get(trip.ClientID); err == nil {
				notify(c)
				save(ctx, s.clients, c)
			}
		}
	}

	save(ctx, s.drivers, driver)
	return resp, nil
}

// DriverRateClient records the driver's rating of the rider with the backend,
// then releases the driver back to the pool. Backend failure keeps the driver
// pending.
func (s *Service) DriverRateClient(ctx context.Context, driver *drivers.Driver, env *models.Envelope) (*drivers.OKResponse, error) {
	if ref := driver.Trip(); ref != nil && driver.PendingRating() {
		if err := s.backend.RateClient(ctx, ref.GetID(), env.Rating); err != nil {
			return nil, err
		}
	}

	resp := driver.FinishRating(env)
	save(ctx, s.drivers, driver)
	return resp, nil
}

// ClientRateDriver records the rider's rating of the driver with the backend,
// then returns the rider to Looking
func (s *Service) ClientRateDriver(ctx context.Context, client *clients.Client, env *models.Envelope) (*clients.OKResponse, error) {
	if ref := client.Trip(); ref != nil {
		if err := s.backend.RateDriver(ctx, ref.GetID(), env.Rating, env.Feedback); err != nil {
			return nil, err
		}
	}

	resp := client.FinishRating(env)
	save(ctx, s.clients, client)
	return resp, nil
}

// DriverPing updates the driver's position and appends a route point when a
// trip is running
func (s *Service) DriverPing(ctx context.Context, driver *drivers.Driver, env *models.Envelope) *drivers.OKResponse {
	resp, ref := driver.Ping(env)
	save(ctx, s.drivers, driver)

	if ref != nil {
		if trip, err := s.trips.Get(ref.GetID()); err == nil {
			loc := models.Location{Latitude: env.Latitude, Longitude: env.Longitude}
			if !loc.IsZero() {
				trip.AddRoutePoint(loc)
				save(ctx, s.trips, trip)
			}
		}
	}
	return resp
}

// ClientPing updates the rider's position
func (s *Service) ClientPing(ctx context.Context, client *clients.Client, env *models.Envelope) *clients.OKResponse {
	resp := client.Ping(env)
	save(ctx, s.clients, client)
	return resp
}

// SetDestination records the dropoff on the rider's trip, if any, and answers
// with a distance and travel-time estimate from the rider's position
func (s *Service) SetDestination(ctx context.Context, client *clients.Client, env *models.Envelope) (*clients.FareEstimateMessage, error) {
	if env.Destination == nil {
		return nil, errors.New("destination is required")
	}
	destination := *env.Destination

	client.Lock()
	client.RefreshLocation(env)
	origin := client.Location
	client.Unlock()

	if ref := client.Trip(); ref != nil {
		if trip, err := s.trips.Get(ref.GetID()); err == nil {
			trip.SetDestination(destination)
			save(ctx, s.trips, trip)
		}
	}
	save(ctx, s.clients, client)

	return &clients.FareEstimateMessage{
		MessageType: "FareEstimate",
		Destination: destination,
		DistanceKm:  utils.Distance(origin, destination),
		ETAMinutes:  s.estimator.Minutes(ctx, origin, destination),
	}, nil
}

// scheduleOfferTimeout arms the offer expiry timer for a dispatched trip
func (s *Service) scheduleOfferTimeout(trip *Trip) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	tripID := trip.GetID()
	s.timers[tripID] = time.AfterFunc(pickupOfferTimeout, func() {
		s.offerExpired(tripID)
	})
}

// cancelOfferTimer disarms the offer expiry timer, if armed
func (s *Service) cancelOfferTimer(tripID string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	if t, ok := s.timers[tripID]; ok {
		t.Stop()
		delete(s.timers, tripID)
	}
}

// offerExpired handles a pickup offer the driver never answered: the offer
// counts as rejected, both parties are released and the trip is canceled
func (s *Service) offerExpired(tripID string) {
	ctx := context.Background()
	s.cancelOfferTimer(tripID)

	trip, err := s.trips.Get(tripID)
	if err != nil || trip.CurrentStatus() != StatusDispatching {
		return
	}
	trip.SetStatus(StatusCanceled)

	if d, err := s.drivers.Get(trip.DriverID); err == nil {
		d.NotifyPickupTimeout()
		save(ctx, s.drivers, d)
	}
	if c, err := s.clients.Get(trip.ClientID); err == nil {
		c.NotifyPickupTimeout()
		save(ctx, s.clients, c)
	}

	save(ctx, s.trips, trip)
	s.publishStatus(trip)
}

// Stop disarms every pending offer timer
func (s *Service) Stop() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// publishStatus pushes a trip.status event to the queue
func (s *Service) publishStatus(trip *Trip) {
	if s.events == nil {
		return
	}

	trip.mu.Lock()
	event := StatusEvent{
		TripID:    trip.ID,
		ClientID:  trip.ClientID,
		DriverID:  trip.DriverID,
		Status:    trip.Status,
		Timestamp: time.Now().UTC(),
	}
	trip.mu.Unlock()

	if err := s.events.Publish(constants.TopicTripStatus, event); err != nil {
		logger.Warn("failed to publish trip status event", logger.Fields{
			"trip_id": event.TripID,
			"status":  string(event.Status),
			"error":   err.Error(),
		})
	}
}

// save persists one entity through its cache, logging rather than failing the
// in-flight operation: the in-memory state already moved.
func save[T repository.Entity](ctx context.Context, cache *repository.Cache[T], e T) {
	if err := cache.Save(ctx, e); err != nil {
		logger.Error("failed to persist entity", logger.Fields{
			"id":    e.GetID(),
			"error": err.Error(),
		})
	}
}
