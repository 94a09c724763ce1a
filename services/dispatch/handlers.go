package dispatch

import (
	"context"
	"encoding/json"

	"github.com/instacab/dispatch/internal/pkg/backend"
	"github.com/instacab/dispatch/internal/pkg/constants"
	"github.com/instacab/dispatch/internal/pkg/logger"
	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/ws"
	"github.com/instacab/dispatch/services/clients"
	"github.com/instacab/dispatch/services/drivers"
)

// APIResponse wraps the account service's passthrough result
type APIResponse struct {
	MessageType string          `json:"messageType"`
	Result      json.RawMessage `json:"result,omitempty"`
}

func (d *Dispatcher) handleLogin(ctx context.Context, conn ws.Connection, env *models.Envelope) (interface{}, error) {
	account, err := d.backend.LoginClient(ctx, env.Email, env.Password, env.DeviceID)
	if err != nil {
		return nil, err
	}
	return d.attachClient(ctx, conn, env, account)
}

func (d *Dispatcher) handleSignUpClient(ctx context.Context, conn ws.Connection, env *models.Envelope) (interface{}, error) {
	account, err := d.backend.SignupClient(ctx, backend.SignupInfo{
		FirstName: env.FirstName,
		LastName:  env.LastName,
		Mobile:    env.Mobile,
		Password:  env.Password,
		Email:     env.Email,
	})
	if err != nil {
		return nil, err
	}
	return d.attachClient(ctx, conn, env, account)
}

// attachClient materializes or refreshes the rider session for a verified
// account, mints a session token and binds the connection
func (d *Dispatcher) attachClient(ctx context.Context, conn ws.Connection, env *models.Envelope, account *backend.Account) (interface{}, error) {
	c, err := d.clients.Get(account.ID)
	if err != nil {
		c = clients.New(account.ID)
		d.clients.Put(c)
	}

	sessionToken, err := d.issuer.Generate(account.ID, "client")
	if err != nil {
		return nil, err
	}

	c.Lock()
	c.Email = account.Email
	c.FirstName = account.FirstName
	c.LastName = account.LastName
	c.Mobile = account.Mobile
	c.Rating = account.Rating
	c.Token = sessionToken
	c.Unlock()

	resp := c.Login(env, conn)
	conn.OnClose(c.Disconnect)

	if err := d.clients.Save(ctx, c); err != nil {
		logger.Error("failed to persist client at login", logger.Fields{
			"client_id": c.GetID(),
			"error":     err.Error(),
		})
	}
	return resp, nil
}

func (d *Dispatcher) handlePingClient(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	c, err := d.clients.Get(env.ID)
	if err != nil {
		return nil, err
	}

	resp := d.service.ClientPing(ctx, c, env)
	if c.IsLooking() {
		c.Lock()
		location := c.Location
		c.Unlock()
		c.SendDriversNearby(d.matcher.FindAllAvailableNearLocation(ctx, location))
	}
	return resp, nil
}

func (d *Dispatcher) handlePickup(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	c, err := d.clients.Get(env.ID)
	if err != nil {
		return nil, err
	}

	if _, err := d.service.RequestPickup(ctx, c, env); err != nil {
		return nil, err
	}
	return c.OK(), nil
}

func (d *Dispatcher) handleSetDestination(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	c, err := d.clients.Get(env.ID)
	if err != nil {
		return nil, err
	}
	return d.service.SetDestination(ctx, c, env)
}

func (d *Dispatcher) handlePickupCanceledClient(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	c, err := d.clients.Get(env.ID)
	if err != nil {
		return nil, err
	}
	return d.service.CancelPickup(ctx, c, env), nil
}

func (d *Dispatcher) handleCancelTripClient(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	c, err := d.clients.Get(env.ID)
	if err != nil {
		return nil, err
	}
	return d.service.CancelTripByClient(ctx, c, env), nil
}

func (d *Dispatcher) handleRatingDriver(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	c, err := d.clients.Get(env.ID)
	if err != nil {
		return nil, err
	}
	return d.service.ClientRateDriver(ctx, c, env)
}

func (d *Dispatcher) handleLoginDriver(ctx context.Context, conn ws.Connection, env *models.Envelope) (interface{}, error) {
	account, err := d.backend.LoginDriver(ctx, env.Email, env.Password, env.DeviceID)
	if err != nil {
		return nil, err
	}

	drv, err := d.drivers.Get(account.ID)
	if err != nil {
		drv = drivers.New(account.ID)
		d.drivers.Put(drv)
	}
	d.armDriver(drv)

	sessionToken, err := d.issuer.Generate(account.ID, "driver")
	if err != nil {
		return nil, err
	}

	drv.Lock()
	drv.Email = account.Email
	drv.FirstName = account.FirstName
	drv.LastName = account.LastName
	drv.Mobile = account.Mobile
	drv.Rating = account.Rating
	drv.Token = sessionToken
	drv.Unlock()

	resp := drv.Login(env, conn)
	conn.OnClose(drv.Disconnect)

	if err := d.drivers.Save(ctx, drv); err != nil {
		logger.Error("failed to persist driver at login", logger.Fields{
			"driver_id": drv.GetID(),
			"error":     err.Error(),
		})
	}
	return resp, nil
}

func (d *Dispatcher) handleLogoutDriver(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	drv, err := d.drivers.Get(env.ID)
	if err != nil {
		return nil, err
	}

	resp := drv.Logout(env)
	return resp, d.drivers.Save(ctx, drv)
}

func (d *Dispatcher) handleOffDutyDriver(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	drv, err := d.drivers.Get(env.ID)
	if err != nil {
		return nil, err
	}

	resp := drv.OffDuty(env)
	return resp, d.drivers.Save(ctx, drv)
}

func (d *Dispatcher) handleOnDutyDriver(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	drv, err := d.drivers.Get(env.ID)
	if err != nil {
		return nil, err
	}

	resp := drv.OnDuty(env)
	return resp, d.drivers.Save(ctx, drv)
}

func (d *Dispatcher) handlePingDriver(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	drv, err := d.drivers.Get(env.ID)
	if err != nil {
		return nil, err
	}
	return d.service.DriverPing(ctx, drv, env), nil
}

func (d *Dispatcher) handleConfirmPickup(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	drv, err := d.drivers.Get(env.ID)
	if err != nil {
		return nil, err
	}
	return d.service.Confirm(ctx, drv, env)
}

func (d *Dispatcher) handleArrivingNow(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	drv, err := d.drivers.Get(env.ID)
	if err != nil {
		return nil, err
	}
	return d.service.DriverArriving(ctx, drv, env)
}

func (d *Dispatcher) handleBeginTripDriver(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	drv, err := d.drivers.Get(env.ID)
	if err != nil {
		return nil, err
	}
	return d.service.DriverBegin(ctx, drv, env)
}

func (d *Dispatcher) handlePickupCanceledDriver(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	drv, err := d.drivers.Get(env.ID)
	if err != nil {
		return nil, err
	}
	return d.service.CancelByDriver(ctx, drv, env), nil
}

func (d *Dispatcher) handleEndTrip(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	drv, err := d.drivers.Get(env.ID)
	if err != nil {
		return nil, err
	}
	return d.service.DriverEnd(ctx, drv, env)
}

func (d *Dispatcher) handleListVehicles(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	vehicles, err := d.backend.ListVehicles(ctx, env.ID)
	if err != nil {
		return nil, err
	}
	return drivers.VehicleListResponse{MessageType: "OK", Vehicles: vehicles}, nil
}

func (d *Dispatcher) handleSelectVehicle(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	drv, err := d.drivers.Get(env.ID)
	if err != nil {
		return nil, err
	}

	vehicle, err := d.backend.SelectVehicle(ctx, env.ID, env.VehicleID)
	if err != nil {
		return nil, err
	}

	resp := drv.SelectVehicle(vehicle)
	return resp, d.drivers.Save(ctx, drv)
}

func (d *Dispatcher) handleRatingClient(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	drv, err := d.drivers.Get(env.ID)
	if err != nil {
		return nil, err
	}
	return d.service.DriverRateClient(ctx, drv, env)
}

// handleApiCommand forwards an account-service command. A supplied id must
// resolve to a known client before the backend is called.
func (d *Dispatcher) handleApiCommand(ctx context.Context, _ ws.Connection, env *models.Envelope) (interface{}, error) {
	if env.ID != "" {
		if _, err := d.clients.Get(env.ID); err != nil {
			return nil, err
		}
	}

	result, err := d.backend.APICommand(ctx, env.ID, env.APIMethod, env.APIParameters)
	if err != nil {
		return nil, err
	}
	return APIResponse{MessageType: "OK", Result: result}, nil
}

// handleSubscribe registers the connection on the channel. Subscribing to a
// well-known live-state channel triggers an immediate snapshot publish of the
// matching cache, so new subscribers see the current world.
func (d *Dispatcher) handleSubscribe(ctx context.Context, conn ws.Connection, env *models.Envelope) (interface{}, error) {
	if err := d.registry.Subscribe(env.Channel, conn); err != nil {
		return nil, err
	}

	switch env.Channel {
	case constants.ChannelDrivers:
		d.drivers.PublishAll(ctx)
	case constants.ChannelClients:
		d.clients.PublishAll(ctx)
	case constants.ChannelTrips:
		d.trips.PublishAll(ctx)
	}
	return models.OKMessage{MessageType: "OK"}, nil
}

