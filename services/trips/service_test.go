package trips

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instacab/dispatch/internal/pkg/backend"
	"github.com/instacab/dispatch/internal/pkg/eta"
	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/repository"
	"github.com/instacab/dispatch/services/clients"
	"github.com/instacab/dispatch/services/drivers"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []interface{}
}

func (c *fakeConn) SendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) SendError(message string, code int) error {
	return c.SendJSON(models.ErrorMessage{Error: message, Code: code})
}

func (c *fakeConn) Close() error   { return nil }
func (c *fakeConn) OnClose(func()) {}

type fakeBackend struct {
	ratedClientTrip string
	ratedClientMark int
	ratedDriverTrip string
	rateErr         error
}

func (b *fakeBackend) LoginClient(_ context.Context, _, _, _ string) (*backend.Account, error) {
	return nil, nil
}

func (b *fakeBackend) LoginDriver(_ context.Context, _, _, _ string) (*backend.Account, error) {
	return nil, nil
}

func (b *fakeBackend) SignupClient(_ context.Context, _ backend.SignupInfo) (*backend.Account, error) {
	return nil, nil
}

func (b *fakeBackend) APICommand(_ context.Context, _, _ string, _ json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}

func (b *fakeBackend) RateClient(_ context.Context, tripID string, rating int) error {
	if b.rateErr != nil {
		return b.rateErr
	}
	b.ratedClientTrip = tripID
	b.ratedClientMark = rating
	return nil
}

func (b *fakeBackend) RateDriver(_ context.Context, tripID string, _ int, _ string) error {
	if b.rateErr != nil {
		return b.rateErr
	}
	b.ratedDriverTrip = tripID
	return nil
}

func (b *fakeBackend) ListVehicles(_ context.Context, _ string) ([]models.Vehicle, error) {
	return nil, nil
}

func (b *fakeBackend) SelectVehicle(_ context.Context, _, _ string) (*models.Vehicle, error) {
	return nil, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *eventRecorder) Publish(topic string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return nil
}

func (r *eventRecorder) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type fixture struct {
	service *Service
	driver  *drivers.Driver
	client  *clients.Client
	api     *fakeBackend
	events  *eventRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	driverCache := repository.NewCache[*drivers.Driver](nil, nil, "")
	clientCache := repository.NewCache[*clients.Client](nil, nil, "")
	tripCache := repository.NewCache[*Trip](nil, nil, "")

	d := drivers.New("d1")
	d.Login(&models.Envelope{Latitude: 55.751, Longitude: 37.611}, &fakeConn{})
	d.OnDuty(&models.Envelope{})
	driverCache.Put(d)

	c := clients.New("c1")
	c.Login(&models.Envelope{Latitude: 55.750, Longitude: 37.610}, &fakeConn{})
	clientCache.Put(c)

	api := &fakeBackend{}
	events := &eventRecorder{}
	matcher := drivers.NewMatcher(driverCache, eta.NewEstimator(nil))
	svc := NewService(driverCache, clientCache, tripCache, matcher, eta.NewEstimator(nil), api, events)
	t.Cleanup(svc.Stop)

	return &fixture{service: svc, driver: d, client: c, api: api, events: events}
}

func pickupEnv() *models.Envelope {
	return &models.Envelope{Latitude: 55.750, Longitude: 37.610}
}

func TestRequestPickupDispatchesNearestDriver(t *testing.T) {
	f := newFixture(t)

	trip, err := f.service.RequestPickup(context.Background(), f.client, pickupEnv())
	require.NoError(t, err)
	require.NotNil(t, trip)

	assert.Equal(t, StatusDispatching, trip.CurrentStatus())
	assert.Equal(t, "c1", trip.ClientID)
	assert.Equal(t, "d1", trip.DriverID)
	assert.Equal(t, drivers.StateDispatching, f.driver.CurrentState())
	require.NotNil(t, f.driver.Trip())
	assert.Equal(t, trip.GetID(), f.driver.Trip().GetID())
	require.NotNil(t, f.client.Trip())
	assert.Equal(t, trip.GetID(), f.client.Trip().GetID())
	assert.Equal(t, 1, f.events.count("trip.status"))
}

func TestRequestPickupNoDrivers(t *testing.T) {
	f := newFixture(t)
	f.driver.OffDuty(&models.Envelope{})

	_, err := f.service.RequestPickup(context.Background(), f.client, pickupEnv())
	assert.ErrorIs(t, err, drivers.ErrNoAvailableDrivers)
	// the rider goes back to Looking and can retry
	assert.True(t, f.client.IsLooking())
}

func TestRequestPickupWhileDispatching(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.RequestPickup(context.Background(), f.client, pickupEnv())
	require.NoError(t, err)

	_, err = f.service.RequestPickup(context.Background(), f.client, pickupEnv())
	assert.ErrorIs(t, err, clients.ErrPickupInProgress)
}

func TestConfirmNotifiesRider(t *testing.T) {
	f := newFixture(t)
	trip, err := f.service.RequestPickup(context.Background(), f.client, pickupEnv())
	require.NoError(t, err)

	resp, err := f.service.Confirm(context.Background(), f.driver, &models.Envelope{})
	require.NoError(t, err)
	assert.Equal(t, drivers.StateAccepted, resp.State)
	assert.Equal(t, StatusDriverConfirmed, trip.CurrentStatus())

	f.client.Lock()
	state := f.client.State
	f.client.Unlock()
	assert.Equal(t, clients.StateWaitingForPickup, state)
}

func TestConfirmWithoutDispatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Confirm(context.Background(), f.driver, &models.Envelope{})
	assert.ErrorIs(t, err, drivers.ErrInvalidTransition)
}

func TestFullTripLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trip, err := f.service.RequestPickup(ctx, f.client, pickupEnv())
	require.NoError(t, err)

	_, err = f.service.Confirm(ctx, f.driver, &models.Envelope{})
	require.NoError(t, err)

	_, err = f.service.DriverArriving(ctx, f.driver, &models.Envelope{})
	require.NoError(t, err)
	assert.Equal(t, StatusDriverArrived, trip.CurrentStatus())

	_, err = f.service.DriverBegin(ctx, f.driver, &models.Envelope{})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, trip.CurrentStatus())

	// pings during the ride extend the route
	f.service.DriverPing(ctx, f.driver, &models.Envelope{Latitude: 55.752, Longitude: 37.612})
	f.service.DriverPing(ctx, f.driver, &models.Envelope{Latitude: 55.753, Longitude: 37.613})
	trip.mu.Lock()
	points := len(trip.Route)
	trip.mu.Unlock()
	assert.Equal(t, 2, points)

	resp, err := f.service.DriverEnd(ctx, f.driver, &models.Envelope{})
	require.NoError(t, err)
	assert.True(t, resp.TripPendingRating)
	assert.Equal(t, StatusFinished, trip.CurrentStatus())

	// driver rates the rider through the backend, then rejoins the pool
	rated, err := f.service.DriverRateClient(ctx, f.driver, &models.Envelope{Rating: 5})
	require.NoError(t, err)
	assert.Equal(t, drivers.StateAvailable, rated.State)
	assert.Equal(t, trip.GetID(), f.api.ratedClientTrip)
	assert.Equal(t, 5, f.api.ratedClientMark)

	// rider rates the driver and returns to Looking
	_, err = f.service.ClientRateDriver(ctx, f.client, &models.Envelope{Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, trip.GetID(), f.api.ratedDriverTrip)
	assert.True(t, f.client.IsLooking())
}

func TestRatingBackendFailureKeepsDriverPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.RequestPickup(ctx, f.client, pickupEnv())
	require.NoError(t, err)
	_, err = f.service.Confirm(ctx, f.driver, &models.Envelope{})
	require.NoError(t, err)
	_, err = f.service.DriverArriving(ctx, f.driver, &models.Envelope{})
	require.NoError(t, err)
	_, err = f.service.DriverBegin(ctx, f.driver, &models.Envelope{})
	require.NoError(t, err)
	_, err = f.service.DriverEnd(ctx, f.driver, &models.Envelope{})
	require.NoError(t, err)

	f.api.rateErr = assert.AnError
	_, err = f.service.DriverRateClient(ctx, f.driver, &models.Envelope{Rating: 5})
	assert.Error(t, err)
	assert.Equal(t, drivers.StatePendingRating, f.driver.CurrentState())
}

func TestCancelPickupReleasesDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trip, err := f.service.RequestPickup(ctx, f.client, pickupEnv())
	require.NoError(t, err)

	resp := f.service.CancelPickup(ctx, f.client, &models.Envelope{})
	assert.Equal(t, clients.StateLooking, resp.State)
	assert.Equal(t, StatusCanceled, trip.CurrentStatus())
	assert.Equal(t, drivers.StateAvailable, f.driver.CurrentState())
	assert.Nil(t, f.driver.Trip())
}

func TestCancelByDriverNotifiesRider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trip, err := f.service.RequestPickup(ctx, f.client, pickupEnv())
	require.NoError(t, err)
	_, err = f.service.Confirm(ctx, f.driver, &models.Envelope{})
	require.NoError(t, err)

	resp := f.service.CancelByDriver(ctx, f.driver, &models.Envelope{})
	assert.Equal(t, drivers.StateAvailable, resp.State)
	assert.Equal(t, StatusCanceled, trip.CurrentStatus())
	assert.True(t, f.client.IsLooking())
	assert.Nil(t, f.client.Trip())
}

func TestOfferExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trip, err := f.service.RequestPickup(ctx, f.client, pickupEnv())
	require.NoError(t, err)

	f.service.offerExpired(trip.GetID())

	assert.Equal(t, StatusCanceled, trip.CurrentStatus())
	assert.Equal(t, drivers.StateAvailable, f.driver.CurrentState())
	assert.True(t, f.client.IsLooking())

	f.driver.Lock()
	rejected := f.driver.TripsRejected
	f.driver.Unlock()
	assert.Equal(t, 1, rejected)
}

func TestOfferExpiryAfterConfirmIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trip, err := f.service.RequestPickup(ctx, f.client, pickupEnv())
	require.NoError(t, err)
	_, err = f.service.Confirm(ctx, f.driver, &models.Envelope{})
	require.NoError(t, err)

	f.service.offerExpired(trip.GetID())
	assert.Equal(t, StatusDriverConfirmed, trip.CurrentStatus())
	assert.Equal(t, drivers.StateAccepted, f.driver.CurrentState())
}

func TestSetDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trip, err := f.service.RequestPickup(ctx, f.client, pickupEnv())
	require.NoError(t, err)

	estimate, err := f.service.SetDestination(ctx, f.client, &models.Envelope{
		Latitude:    55.750,
		Longitude:   37.610,
		Destination: &models.Location{Latitude: 55.80, Longitude: 37.70},
	})
	require.NoError(t, err)
	assert.Equal(t, "FareEstimate", estimate.MessageType)
	assert.Greater(t, estimate.DistanceKm, 0.0)
	// no distance service wired, the estimate absorbs to the default
	assert.Equal(t, 20, estimate.ETAMinutes)

	trip.mu.Lock()
	dest := trip.Destination
	trip.mu.Unlock()
	require.NotNil(t, dest)
	assert.Equal(t, 55.80, dest.Latitude)
}

func TestSetDestinationRequiresDestination(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.SetDestination(context.Background(), f.client, &models.Envelope{})
	assert.Error(t, err)
}

func TestHydrateRelinksActiveTrips(t *testing.T) {
	driverCache := repository.NewCache[*drivers.Driver](nil, nil, "")
	clientCache := repository.NewCache[*clients.Client](nil, nil, "")
	tripCache := repository.NewCache[*Trip](nil, nil, "")

	d := drivers.New("d1")
	d.Lock()
	d.State = drivers.StateAccepted
	d.Unlock()
	driverCache.Put(d)

	c := clients.New("c1")
	clientCache.Put(c)

	trip := &Trip{ID: "t1", ClientID: "c1", DriverID: "d1", Status: StatusDriverConfirmed}
	tripCache.Put(trip)

	orphan := drivers.New("d2")
	orphan.Lock()
	orphan.State = drivers.StateDrivingClient
	orphan.Unlock()
	driverCache.Put(orphan)

	matcher := drivers.NewMatcher(driverCache, eta.NewEstimator(nil))
	svc := NewService(driverCache, clientCache, tripCache, matcher, eta.NewEstimator(nil), &fakeBackend{}, nil)
	defer svc.Stop()

	svc.Hydrate(context.Background())

	require.NotNil(t, d.Trip())
	assert.Equal(t, "t1", d.Trip().GetID())
	require.NotNil(t, c.Trip())
	assert.Equal(t, "t1", c.Trip().GetID())

	// a driver whose trip vanished is reset off duty
	assert.Equal(t, drivers.StateOffDuty, orphan.CurrentState())
	assert.Nil(t, orphan.Trip())
}
