package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/instacab/dispatch/internal/pkg/backend"
	"github.com/instacab/dispatch/internal/pkg/constants"
	"github.com/instacab/dispatch/internal/pkg/logger"
	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/pubsub"
	"github.com/instacab/dispatch/internal/pkg/repository"
	"github.com/instacab/dispatch/internal/pkg/token"
	"github.com/instacab/dispatch/internal/pkg/ws"
	"github.com/instacab/dispatch/services/clients"
	"github.com/instacab/dispatch/services/drivers"
	"github.com/instacab/dispatch/services/trips"
)

// handlerFunc processes one inbound message. A nil result with a nil error
// means the handler already wrote its own response.
type handlerFunc func(ctx context.Context, conn ws.Connection, env *models.Envelope) (interface{}, error)

// Dispatcher is the message router: it parses inbound frames, gates them on
// the session token, invokes the matching handler and fans live-state
// channel events out to subscribers.
type Dispatcher struct {
	drivers  *repository.Cache[*drivers.Driver]
	clients  *repository.Cache[*clients.Client]
	trips    *repository.Cache[*trips.Trip]
	matcher  *drivers.Matcher
	service  *trips.Service
	backend  backend.API
	issuer   *token.Issuer
	registry *Registry
	bus      pubsub.Bus
	events   trips.EventPublisher

	handlers map[string]handlerFunc
}

// NewDispatcher wires the dispatcher over its collaborators. The bus and
// event publisher may be nil.
func NewDispatcher(
	driverCache *repository.Cache[*drivers.Driver],
	clientCache *repository.Cache[*clients.Client],
	tripCache *repository.Cache[*trips.Trip],
	matcher *drivers.Matcher,
	service *trips.Service,
	api backend.API,
	issuer *token.Issuer,
	bus pubsub.Bus,
	events trips.EventPublisher,
) *Dispatcher {
	d := &Dispatcher{
		drivers:  driverCache,
		clients:  clientCache,
		trips:    tripCache,
		matcher:  matcher,
		service:  service,
		backend:  api,
		issuer:   issuer,
		registry: NewRegistry(),
		bus:      bus,
		events:   events,
	}

	d.handlers = map[string]handlerFunc{
		KindLogin:                d.handleLogin,
		KindSignUpClient:         d.handleSignUpClient,
		KindPingClient:           d.handlePingClient,
		KindPickup:               d.handlePickup,
		KindSetDestination:       d.handleSetDestination,
		KindPickupCanceledClient: d.handlePickupCanceledClient,
		KindCancelTripClient:     d.handleCancelTripClient,
		KindRatingDriver:         d.handleRatingDriver,
		KindLoginDriver:          d.handleLoginDriver,
		KindLogoutDriver:         d.handleLogoutDriver,
		KindOffDutyDriver:        d.handleOffDutyDriver,
		KindOnDutyDriver:         d.handleOnDutyDriver,
		KindPingDriver:           d.handlePingDriver,
		KindConfirmPickup:        d.handleConfirmPickup,
		KindArrivingNow:          d.handleArrivingNow,
		KindBeginTripDriver:      d.handleBeginTripDriver,
		KindPickupCanceledDriver: d.handlePickupCanceledDriver,
		KindEndTrip:              d.handleEndTrip,
		KindListVehicles:         d.handleListVehicles,
		KindSelectVehicle:        d.handleSelectVehicle,
		KindRatingClient:         d.handleRatingClient,
		KindApiCommand:           d.handleApiCommand,
		KindSubscribe:            d.handleSubscribe,
	}
	return d
}

// Hydrate loads every cache from storage, re-links active trips and re-arms
// the driver availability listeners
func (d *Dispatcher) Hydrate(ctx context.Context) error {
	if err := d.drivers.Hydrate(ctx); err != nil {
		return err
	}
	if err := d.clients.Hydrate(ctx); err != nil {
		return err
	}
	if err := d.trips.Hydrate(ctx); err != nil {
		return err
	}

	d.service.Hydrate(ctx)
	d.drivers.Each(d.armDriver)
	return nil
}

// armDriver registers the availability listener; re-arming replaces, never
// stacks
func (d *Dispatcher) armDriver(drv *drivers.Driver) {
	drv.SetStateListener(d.driverStateChanged)
}

// Run consumes the live-state bus topics and fans events out to channel
// subscribers until ctx is canceled
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.bus == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	topics := []string{
		constants.BusTopic(constants.ChannelDrivers),
		constants.BusTopic(constants.ChannelClients),
		constants.BusTopic(constants.ChannelTrips),
	}
	messages, err := d.bus.Subscribe(ctx, topics...)
	if err != nil {
		return err
	}

	for msg := range messages {
		channel := strings.TrimPrefix(msg.Channel, constants.ChannelPrefix)
		d.registry.Deliver(channel, msg.Data)
	}
	return ctx.Err()
}

// ProcessMessage handles one inbound frame: parse, app check, kind check,
// token gate, handler invoke, reply
func (d *Dispatcher) ProcessMessage(ctx context.Context, conn ws.Connection, raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.reply(conn, models.ErrorMessage{Error: "invalid message: " + err.Error()})
		return
	}

	if !validApps[env.App] {
		d.reply(conn, models.ErrorMessage{Error: "unknown client app: " + env.App})
		return
	}
	handler, ok := d.handlers[env.MessageType]
	if !ok {
		d.reply(conn, models.ErrorMessage{Error: "unsupported message type: " + env.MessageType})
		return
	}

	if !noAuthKinds[env.MessageType] && !d.authorized(&env) {
		d.reply(conn, models.ErrorMessage{
			Error: "access denied",
			Code:  constants.CodeInvalidToken,
		})
		return
	}

	result, err := handler(ctx, conn, &env)
	if err != nil {
		d.reply(conn, errorEnvelope(err))
		return
	}
	if result != nil {
		d.reply(conn, result)
	}
}

// authorized compares the envelope token with the cached session token.
// An id missing from the cache passes the gate; the handler then decides
// whether the entity is required.
func (d *Dispatcher) authorized(env *models.Envelope) bool {
	switch env.App {
	case AppClient:
		c, err := d.clients.Get(env.ID)
		if err != nil {
			return true
		}
		c.Lock()
		defer c.Unlock()
		return c.IsTokenValid(env.Token)
	case AppDriver:
		drv, err := d.drivers.Get(env.ID)
		if err != nil {
			return true
		}
		drv.Lock()
		defer drv.Unlock()
		return drv.IsTokenValid(env.Token)
	}
	return true
}

// reply writes a response frame; a failed write is logged, never fatal
func (d *Dispatcher) reply(conn ws.Connection, v interface{}) {
	if err := conn.SendJSON(v); err != nil {
		logger.Warn("failed to write response", logger.Fields{"error": err.Error()})
	}
}

// errorEnvelope maps a handler error onto the wire taxonomy
func errorEnvelope(err error) models.ErrorMessage {
	msg := models.ErrorMessage{Error: err.Error()}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		msg.Code = constants.CodeNotFound
	case errors.Is(err, repository.ErrStorage):
		msg.Code = constants.CodeStorageFailure
	}
	return msg
}
