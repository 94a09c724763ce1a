package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instacab/dispatch/internal/pkg/backend"
	"github.com/instacab/dispatch/internal/pkg/constants"
	"github.com/instacab/dispatch/internal/pkg/eta"
	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/repository"
	"github.com/instacab/dispatch/internal/pkg/token"
	"github.com/instacab/dispatch/services/clients"
	"github.com/instacab/dispatch/services/drivers"
	"github.com/instacab/dispatch/services/trips"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []interface{}
	closed  bool
	hooks   []func()
	sendErr error
}

func (c *fakeConn) SendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) SendError(message string, code int) error {
	return c.SendJSON(models.ErrorMessage{Error: message, Code: code})
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (c *fakeConn) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

func (c *fakeConn) last() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *fakeConn) lastError() (models.ErrorMessage, bool) {
	msg, ok := c.last().(models.ErrorMessage)
	return msg, ok
}

type fakeBackend struct {
	clientAccount *backend.Account
	driverAccount *backend.Account
	loginErr      error
	vehicles      []models.Vehicle
	selected      *models.Vehicle
	apiResult     json.RawMessage
	apiCalled     bool
}

func (b *fakeBackend) LoginClient(_ context.Context, _, _, _ string) (*backend.Account, error) {
	return b.clientAccount, b.loginErr
}

func (b *fakeBackend) LoginDriver(_ context.Context, _, _, _ string) (*backend.Account, error) {
	return b.driverAccount, b.loginErr
}

func (b *fakeBackend) SignupClient(_ context.Context, _ backend.SignupInfo) (*backend.Account, error) {
	return b.clientAccount, b.loginErr
}

func (b *fakeBackend) APICommand(_ context.Context, _, _ string, _ json.RawMessage) (json.RawMessage, error) {
	b.apiCalled = true
	return b.apiResult, nil
}

func (b *fakeBackend) RateClient(_ context.Context, _ string, _ int) error { return nil }

func (b *fakeBackend) RateDriver(_ context.Context, _ string, _ int, _ string) error { return nil }

func (b *fakeBackend) ListVehicles(_ context.Context, _ string) ([]models.Vehicle, error) {
	return b.vehicles, nil
}

func (b *fakeBackend) SelectVehicle(_ context.Context, _, _ string) (*models.Vehicle, error) {
	return b.selected, nil
}

func newTestDispatcher(t *testing.T, api backend.API) *Dispatcher {
	t.Helper()

	driverCache := repository.NewCache[*drivers.Driver](nil, nil, "")
	clientCache := repository.NewCache[*clients.Client](nil, nil, "")
	tripCache := repository.NewCache[*trips.Trip](nil, nil, "")
	estimator := eta.NewEstimator(nil)
	matcher := drivers.NewMatcher(driverCache, estimator)
	service := trips.NewService(driverCache, clientCache, tripCache, matcher, estimator, api, nil)
	t.Cleanup(service.Stop)
	issuer := token.NewIssuer(models.JWTConfig{Secret: "test-secret", Expiration: 1, Issuer: "test"})

	return NewDispatcher(driverCache, clientCache, tripCache, matcher, service, api, issuer, nil, nil)
}

func frame(t *testing.T, env map[string]interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func TestProcessMessageInvalidJSON(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{})
	conn := &fakeConn{}

	d.ProcessMessage(context.Background(), conn, []byte("{not json"))
	msg, ok := conn.lastError()
	require.True(t, ok)
	assert.Contains(t, msg.Error, "invalid message")
}

func TestProcessMessageUnknownApp(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{})
	conn := &fakeConn{}

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "spaceship", "messageType": "Login",
	}))
	msg, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, "unknown client app: spaceship", msg.Error)
}

func TestProcessMessageUnsupportedKind(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{})
	conn := &fakeConn{}

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "client", "messageType": "Teleport",
	}))
	msg, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, "unsupported message type: Teleport", msg.Error)
}

func TestHandlerTableKeyedByKindAlone(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{})
	conn := &fakeConn{}

	// any known app may send any kind; a client subscribing works
	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "client", "messageType": "Subscribe", "channel": "drivers",
	}))
	assert.Equal(t, models.OKMessage{MessageType: "OK"}, conn.last())
	assert.Equal(t, 1, d.registry.Subscribers("drivers"))

	// a driver kind from the god console reaches the handler, which reports
	// the unknown id
	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "god", "messageType": "OnDutyDriver", "id": "ghost",
	}))
	msg, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, constants.CodeNotFound, msg.Code)
}

func TestTokenGateDeniesBadToken(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{})
	conn := &fakeConn{}

	c := clients.New("c1")
	c.Lock()
	c.Token = "good-token"
	c.Unlock()
	d.clients.Put(c)

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "client", "messageType": "PingClient", "id": "c1", "token": "bad-token",
	}))
	msg, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, "access denied", msg.Error)
	assert.Equal(t, constants.CodeInvalidToken, msg.Code)
}

func TestTokenGatePassesOnCacheMiss(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{})
	conn := &fakeConn{}

	// the gate passes for an unknown id; the handler reports not found
	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "client", "messageType": "PingClient", "id": "ghost", "token": "whatever",
	}))
	msg, ok := conn.lastError()
	require.True(t, ok)
	assert.NotEqual(t, "access denied", msg.Error)
	assert.Equal(t, constants.CodeNotFound, msg.Code)
}

func TestClientLoginFlow(t *testing.T) {
	api := &fakeBackend{clientAccount: &backend.Account{
		ID: "c1", Email: "rider@example.com", FirstName: "Anna", Rating: 4.9,
	}}
	d := newTestDispatcher(t, api)
	conn := &fakeConn{}

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "client", "messageType": "Login",
		"email": "rider@example.com", "password": "secret",
		"latitude": 55.75, "longitude": 37.61,
	}))

	resp, ok := conn.last().(*clients.OKResponse)
	require.True(t, ok)
	assert.Equal(t, "OK", resp.MessageType)
	assert.Equal(t, "c1", resp.ID)
	assert.Equal(t, clients.StateLooking, resp.State)
	assert.NotEmpty(t, resp.Token)

	cached, err := d.clients.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "Anna", cached.FirstName)
}

func TestClientLoginBackendFailure(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{loginErr: assert.AnError})
	conn := &fakeConn{}

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "client", "messageType": "Login", "email": "x", "password": "y",
	}))
	_, ok := conn.lastError()
	assert.True(t, ok)
}

func TestDriverLoginArmsAvailabilityListener(t *testing.T) {
	api := &fakeBackend{driverAccount: &backend.Account{ID: "d1", FirstName: "Ivan"}}
	d := newTestDispatcher(t, api)
	conn := &fakeConn{}

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "driver", "messageType": "LoginDriver",
		"email": "driver@example.com", "password": "secret",
		"latitude": 55.75, "longitude": 37.61,
	}))

	resp, ok := conn.last().(*drivers.OKResponse)
	require.True(t, ok)
	assert.Equal(t, drivers.StateOffDuty, resp.State)
	assert.NotEmpty(t, resp.Token)

	drv, err := d.drivers.Get("d1")
	require.NoError(t, err)

	// going on duty must not deadlock with the listener recomputing views
	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "driver", "messageType": "OnDutyDriver", "id": "d1", "token": resp.Token,
	}))
	assert.True(t, drv.IsAvailable())
}

func TestNearbyViewPushedToLookingRiders(t *testing.T) {
	api := &fakeBackend{
		clientAccount: &backend.Account{ID: "c1"},
		driverAccount: &backend.Account{ID: "d1"},
	}
	d := newTestDispatcher(t, api)

	riderConn := &fakeConn{}
	d.ProcessMessage(context.Background(), riderConn, frame(t, map[string]interface{}{
		"app": "client", "messageType": "Login", "email": "r", "password": "p",
		"latitude": 55.75, "longitude": 37.61,
	}))
	driverConn := &fakeConn{}
	d.ProcessMessage(context.Background(), driverConn, frame(t, map[string]interface{}{
		"app": "driver", "messageType": "LoginDriver", "email": "d", "password": "p",
		"latitude": 55.751, "longitude": 37.611,
	}))
	driverResp := driverConn.last().(*drivers.OKResponse)

	d.ProcessMessage(context.Background(), driverConn, frame(t, map[string]interface{}{
		"app": "driver", "messageType": "OnDutyDriver", "id": "d1", "token": driverResp.Token,
	}))

	// the looking rider received a nearby-driver push from the availability
	// listener
	found := false
	riderConn.mu.Lock()
	for _, msg := range riderConn.sent {
		if nearby, ok := msg.(clients.NearbyDriversMessage); ok && len(nearby.Drivers) == 1 {
			found = true
		}
	}
	riderConn.mu.Unlock()
	assert.True(t, found)
}

func TestSubscribeRequiresChannel(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{})
	conn := &fakeConn{}

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "god", "messageType": "Subscribe",
	}))
	msg, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, "channel name is required", msg.Error)
}

func TestSubscribeAndDeliver(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{})
	conn := &fakeConn{}

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "god", "messageType": "Subscribe", "channel": "drivers",
	}))
	assert.Equal(t, models.OKMessage{MessageType: "OK"}, conn.last())
	assert.Equal(t, 1, d.registry.Subscribers("drivers"))

	payload := json.RawMessage(`{"id":"d1"}`)
	d.registry.Deliver("drivers", payload)

	event, ok := conn.last().(models.ChannelEvent)
	require.True(t, ok)
	assert.Equal(t, "drivers", event.Channel)
	assert.JSONEq(t, `{"id":"d1"}`, string(event.Data))
}

func TestClosedSubscriberRemoved(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{})
	conn := &fakeConn{}

	require.NoError(t, d.registry.Subscribe("trips", conn))
	require.Equal(t, 1, d.registry.Subscribers("trips"))

	conn.Close()
	assert.Equal(t, 0, d.registry.Subscribers("trips"))
}

func TestFailedDeliveryClosesSubscriber(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{})
	healthy := &fakeConn{}
	broken := &fakeConn{sendErr: assert.AnError}

	require.NoError(t, d.registry.Subscribe("trips", broken))
	require.NoError(t, d.registry.Subscribe("trips", healthy))

	d.registry.Deliver("trips", json.RawMessage(`{}`))

	assert.True(t, broken.closed)
	assert.Equal(t, 1, d.registry.Subscribers("trips"))
	_, ok := healthy.last().(models.ChannelEvent)
	assert.True(t, ok)
}

func TestApiCommandPassthrough(t *testing.T) {
	d := newTestDispatcher(t, &fakeBackend{apiResult: json.RawMessage(`{"ok":true}`)})
	conn := &fakeConn{}

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "client", "messageType": "ApiCommand", "apiMethod": "stats",
	}))

	resp, ok := conn.last().(APIResponse)
	require.True(t, ok)
	assert.Equal(t, "OK", resp.MessageType)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
}

func TestApiCommandUnknownClient(t *testing.T) {
	api := &fakeBackend{apiResult: json.RawMessage(`{}`)}
	d := newTestDispatcher(t, api)
	conn := &fakeConn{}

	// a supplied id must resolve before the backend is called
	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "client", "messageType": "ApiCommand", "id": "ghost", "apiMethod": "stats",
	}))

	msg, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, constants.CodeNotFound, msg.Code)
	assert.False(t, api.apiCalled)
}

type failingDriverStore struct{}

func (failingDriverStore) Load(context.Context) ([]*drivers.Driver, error) { return nil, nil }

func (failingDriverStore) Save(context.Context, *drivers.Driver) error {
	return errors.New("disk full")
}

func TestStorageFailureCodeOnWire(t *testing.T) {
	driverCache := repository.NewCache[*drivers.Driver](failingDriverStore{}, nil, "")
	clientCache := repository.NewCache[*clients.Client](nil, nil, "")
	tripCache := repository.NewCache[*trips.Trip](nil, nil, "")
	estimator := eta.NewEstimator(nil)
	matcher := drivers.NewMatcher(driverCache, estimator)
	api := &fakeBackend{}
	service := trips.NewService(driverCache, clientCache, tripCache, matcher, estimator, api, nil)
	t.Cleanup(service.Stop)
	issuer := token.NewIssuer(models.JWTConfig{Secret: "test-secret", Expiration: 1, Issuer: "test"})
	d := NewDispatcher(driverCache, clientCache, tripCache, matcher, service, api, issuer, nil, nil)

	drv := drivers.New("d1")
	drv.Lock()
	drv.Token = "tok"
	drv.Unlock()
	driverCache.Put(drv)

	conn := &fakeConn{}
	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "driver", "messageType": "OnDutyDriver", "id": "d1", "token": "tok",
	}))

	msg, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, constants.CodeStorageFailure, msg.Code)
	assert.Contains(t, msg.Error, "disk full")
}

func TestListAndSelectVehicle(t *testing.T) {
	api := &fakeBackend{
		driverAccount: &backend.Account{ID: "d1"},
		vehicles:      []models.Vehicle{{ID: "v1", Plate: "A123BC"}},
		selected:      &models.Vehicle{ID: "v1", Plate: "A123BC"},
	}
	d := newTestDispatcher(t, api)
	conn := &fakeConn{}

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "driver", "messageType": "LoginDriver", "email": "d", "password": "p",
		"latitude": 1, "longitude": 1,
	}))
	sessionToken := conn.last().(*drivers.OKResponse).Token

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "driver", "messageType": "ListVehicles", "id": "d1", "token": sessionToken,
	}))
	list, ok := conn.last().(drivers.VehicleListResponse)
	require.True(t, ok)
	require.Len(t, list.Vehicles, 1)

	d.ProcessMessage(context.Background(), conn, frame(t, map[string]interface{}{
		"app": "driver", "messageType": "SelectVehicle", "id": "d1", "token": sessionToken,
		"vehicleId": "v1",
	}))

	drv, err := d.drivers.Get("d1")
	require.NoError(t, err)
	drv.Lock()
	vehicle := drv.Vehicle
	drv.Unlock()
	require.NotNil(t, vehicle)
	assert.Equal(t, "v1", vehicle.ID)
}

func TestEndToEndPickupOverWire(t *testing.T) {
	api := &fakeBackend{
		clientAccount: &backend.Account{ID: "c1", FirstName: "Anna"},
		driverAccount: &backend.Account{ID: "d1", FirstName: "Ivan"},
	}
	d := newTestDispatcher(t, api)
	ctx := context.Background()

	riderConn := &fakeConn{}
	d.ProcessMessage(ctx, riderConn, frame(t, map[string]interface{}{
		"app": "client", "messageType": "Login", "email": "r", "password": "p",
		"latitude": 55.750, "longitude": 37.610,
	}))
	riderToken := riderConn.last().(*clients.OKResponse).Token

	driverConn := &fakeConn{}
	d.ProcessMessage(ctx, driverConn, frame(t, map[string]interface{}{
		"app": "driver", "messageType": "LoginDriver", "email": "d", "password": "p",
		"latitude": 55.751, "longitude": 37.611,
	}))
	driverToken := driverConn.last().(*drivers.OKResponse).Token

	d.ProcessMessage(ctx, driverConn, frame(t, map[string]interface{}{
		"app": "driver", "messageType": "OnDutyDriver", "id": "d1", "token": driverToken,
	}))

	d.ProcessMessage(ctx, riderConn, frame(t, map[string]interface{}{
		"app": "client", "messageType": "Pickup", "id": "c1", "token": riderToken,
		"latitude": 55.750, "longitude": 37.610,
	}))

	// the driver received the pickup offer
	var offer drivers.PickupOffer
	foundOffer := false
	driverConn.mu.Lock()
	for _, msg := range driverConn.sent {
		if o, ok := msg.(drivers.PickupOffer); ok {
			offer = o
			foundOffer = true
		}
	}
	driverConn.mu.Unlock()
	require.True(t, foundOffer)
	assert.Equal(t, "c1", offer.ClientID)
	assert.Equal(t, "Anna", offer.ClientName)

	d.ProcessMessage(ctx, driverConn, frame(t, map[string]interface{}{
		"app": "driver", "messageType": "ConfirmPickup", "id": "d1", "token": driverToken,
	}))

	// the rider learned who is coming
	foundConfirm := false
	riderConn.mu.Lock()
	for _, msg := range riderConn.sent {
		if c, ok := msg.(clients.PickupConfirmedMessage); ok {
			assert.Equal(t, "d1", c.DriverID)
			foundConfirm = true
		}
	}
	riderConn.mu.Unlock()
	assert.True(t, foundConfirm)
}
