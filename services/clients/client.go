package clients

import (
	"errors"

	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/session"
	"github.com/instacab/dispatch/internal/pkg/ws"
	"github.com/instacab/dispatch/services/drivers"
)

// State is the rider's session state
type State string

// Client states
const (
	StateLooking          State = "Looking"
	StateDispatching      State = "Dispatching"
	StateWaitingForPickup State = "WaitingForPickup"
	StateRidingDriver     State = "RidingDriver"
	StatePendingRating    State = "PendingRating"
)

// ErrPickupInProgress rejects a pickup request while one is already running
var ErrPickupInProgress = errors.New("pickup already in progress")

// TripRef is the non-owning reference a client keeps to its current trip
type TripRef interface {
	GetID() string
	Pickup() models.Location
}

// Client is a rider session. Its lifecycle mirrors the driver's but with
// rider-specific states; transitions are driven by the dispatcher's handlers
// and by trip notifications.
type Client struct {
	session.Session

	State State `json:"state"`

	trip TripRef
}

// New creates a client in the Looking state
func New(id string) *Client {
	return &Client{
		Session: session.Session{ID: id},
		State:   StateLooking,
	}
}

// Trip returns the current trip reference, nil when none
func (c *Client) Trip() TripRef {
	c.Lock()
	defer c.Unlock()
	return c.trip
}

// Login refreshes location, attaches the connection and resets a stale
// dispatching state
func (c *Client) Login(env *models.Envelope, conn ws.Connection) *OKResponse {
	c.Lock()
	defer c.Unlock()

	c.RefreshLocation(env)
	c.SetConnection(conn)
	if c.State == "" || c.State == StateDispatching {
		c.State = StateLooking
	}

	return c.okResponseLocked(true)
}

// Disconnect detaches a dropped connection, keeping the rider's state for
// reconnect
func (c *Client) Disconnect() {
	c.Lock()
	c.ClearConnection()
	c.Unlock()
}

// OK returns the standard acknowledgement for the rider's current state
func (c *Client) OK() *OKResponse {
	c.Lock()
	defer c.Unlock()
	return c.okResponseLocked(false)
}

// Ping refreshes the rider's location
func (c *Client) Ping(env *models.Envelope) *OKResponse {
	c.Lock()
	defer c.Unlock()

	c.RefreshLocation(env)
	return c.okResponseLocked(false)
}

// Pickup starts a pickup request; only one may run at a time
func (c *Client) Pickup(env *models.Envelope) error {
	c.Lock()
	defer c.Unlock()

	if c.State != StateLooking {
		return ErrPickupInProgress
	}

	c.RefreshLocation(env)
	c.State = StateDispatching
	return nil
}

// CancelPickup abandons the running pickup request
func (c *Client) CancelPickup(env *models.Envelope) *OKResponse {
	c.Lock()
	defer c.Unlock()

	c.RefreshLocation(env)
	c.State = StateLooking
	c.trip = nil

	return c.okResponseLocked(false)
}

// AssignTrip records the trip created for this rider's pickup request.
func (c *Client) AssignTrip(trip TripRef) {
	c.Lock()
	c.trip = trip
	c.Unlock()
}

// NotifyPickupConfirmed tells the rider a driver confirmed the pickup
func (c *Client) NotifyPickupConfirmed(driver *drivers.Driver, etaMinutes int) {
	c.Lock()
	defer c.Unlock()

	c.State = StateWaitingForPickup
	_ = c.Send(NewPickupConfirmed(driver, etaMinutes))
}

// NotifyDriverArrived tells the rider the driver is at the pickup location
func (c *Client) NotifyDriverArrived() {
	c.Lock()
	defer c.Unlock()
	_ = c.Send(NewDriverArrived())
}

// NotifyTripStarted moves the rider onto the trip
func (c *Client) NotifyTripStarted() {
	c.Lock()
	defer c.Unlock()

	c.State = StateRidingDriver
	_ = c.Send(NewTripStarted())
}

// NotifyTripFinished asks the rider to rate the driver
func (c *Client) NotifyTripFinished() {
	c.Lock()
	defer c.Unlock()

	c.State = StatePendingRating
	_ = c.Send(NewTripFinished())
}

// NotifyPickupTimeout tells the rider no driver took the request
func (c *Client) NotifyPickupTimeout() {
	c.Lock()
	defer c.Unlock()

	c.State = StateLooking
	c.trip = nil
	_ = c.Send(NewPickupTimeout())
}

// NotifyTripCanceled tells the rider the driver canceled
func (c *Client) NotifyTripCanceled(reason string) {
	c.Lock()
	defer c.Unlock()

	c.State = StateLooking
	c.trip = nil
	_ = c.Send(NewTripCanceledForClient(reason))
}

// FinishRating returns the rider to Looking after the rating was recorded
func (c *Client) FinishRating(env *models.Envelope) *OKResponse {
	c.Lock()
	defer c.Unlock()

	if c.State == StatePendingRating {
		c.RefreshLocation(env)
		c.State = StateLooking
		c.trip = nil
	}
	return c.okResponseLocked(false)
}

// SendDriversNearby pushes the current nearby-driver view to the rider
func (c *Client) SendDriversNearby(nearby []drivers.NearbyDriver) {
	c.Lock()
	defer c.Unlock()

	if !c.Connected {
		return
	}
	_ = c.Send(NewNearbyDrivers(nearby))
}

// IsLooking reports whether the rider should receive nearby-driver pushes
func (c *Client) IsLooking() bool {
	c.Lock()
	defer c.Unlock()
	return c.Connected && c.State == StateLooking
}

// Snapshot returns the wire representation published on channel:clients
func (c *Client) Snapshot() interface{} {
	c.Lock()
	defer c.Unlock()

	snap := ClientSnapshot{
		ID:        c.ID,
		State:     c.State,
		Connected: c.Connected,
		Location:  c.Location,
	}
	if c.trip != nil {
		snap.TripID = c.trip.GetID()
	}
	return snap
}

func (c *Client) okResponseLocked(includeToken bool) *OKResponse {
	resp := &OKResponse{
		MessageType: "OK",
		ID:          c.ID,
		State:       c.State,
	}
	if includeToken {
		resp.Token = c.Token
	}
	if c.trip != nil {
		resp.TripID = c.trip.GetID()
	}
	return resp
}
