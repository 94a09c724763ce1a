package drivers

import (
	"errors"

	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/session"
	"github.com/instacab/dispatch/internal/pkg/ws"
	"github.com/instacab/dispatch/internal/utils"
)

// Dispatch errors
var (
	// ErrNotAvailable is observed by the losing side of two concurrent
	// dispatch attempts on the same driver
	ErrNotAvailable = errors.New("driver is not available")
	// ErrInvalidTransition rejects an operation whose precondition does
	// not hold
	ErrInvalidTransition = errors.New("invalid driver state transition")
)

const snapshotGeohashPrecision = 6

// TripRef is the non-owning reference a driver keeps to its current trip.
// The driver never drives the trip's lifetime.
type TripRef interface {
	GetID() string
	Pickup() models.Location
}

// ClientRef identifies the rider a pickup offer is for
type ClientRef interface {
	GetID() string
	DisplayName() string
}

// pendingSignal is an availability signal recorded under the driver lock and
// emitted after it is released, so listeners may lock drivers freely.
type pendingSignal struct {
	listener StateListener
	signal   Signal
	exclude  string
}

func (p pendingSignal) emit(d *Driver) {
	if p.listener != nil {
		p.listener(d, p.signal, p.exclude)
	}
}

// Driver is a driver session with its finite-state machine.
//
// Invariant: the current trip reference is non-nil iff the state is one of
// Dispatching, Accepted, Arrived, DrivingClient, PendingRating. Entering
// Available or OffDuty always clears it.
type Driver struct {
	session.Session

	State         State           `json:"state"`
	Vehicle       *models.Vehicle `json:"vehicle,omitempty"`
	TripsAccepted int             `json:"tripsAccepted"`
	TripsRejected int             `json:"tripsRejected"`

	trip     TripRef
	listener StateListener
}

// New creates a driver in the OffDuty state
func New(id string) *Driver {
	return &Driver{
		Session: session.Session{ID: id},
		State:   StateOffDuty,
	}
}

// SetStateListener registers the availability callback. Re-registration
// replaces the previous listener, so hydrating twice never doubles signals.
func (d *Driver) SetStateListener(fn StateListener) {
	d.Lock()
	d.listener = fn
	d.Unlock()
}

// Trip returns the current trip reference, nil when not on a trip
func (d *Driver) Trip() TripRef {
	d.Lock()
	defer d.Unlock()
	return d.trip
}

// AttachTrip re-links the trip reference after hydration. Only a driver in
// an in-trip state without a reference accepts one.
func (d *Driver) AttachTrip(trip TripRef) {
	d.Lock()
	if d.State.InTrip() && d.trip == nil {
		d.trip = trip
	}
	d.Unlock()
}

// CurrentState returns the driver state under the lock
func (d *Driver) CurrentState() State {
	d.Lock()
	defer d.Unlock()
	return d.State
}

// IsAvailable reports whether the driver can take a pickup
func (d *Driver) IsAvailable() bool {
	d.Lock()
	defer d.Unlock()
	return d.Connected && d.State == StateAvailable
}

// transitionLocked moves the FSM and returns the availability signal to emit
// once the lock is released. Caller must hold the driver lock.
func (d *Driver) transitionLocked(state State, excludeClientID string) pendingSignal {
	d.State = state
	if !state.InTrip() {
		d.trip = nil
	}

	sig := pendingSignal{listener: d.listener, exclude: excludeClientID}
	if state == StateAvailable {
		sig.signal = SignalAvailable
	} else {
		sig.signal = SignalUnavailable
	}
	return sig
}

// Login refreshes location, attaches the connection and puts the driver off
// duty
func (d *Driver) Login(env *models.Envelope, conn ws.Connection) *OKResponse {
	d.Lock()
	d.RefreshLocation(env)
	d.SetConnection(conn)
	sig := d.transitionLocked(StateOffDuty, "")
	resp := d.okResponseLocked(true)
	d.Unlock()

	sig.emit(d)
	return resp
}

// Logout refreshes location, puts the driver off duty and detaches the
// connection
func (d *Driver) Logout(env *models.Envelope) *OKResponse {
	d.Lock()
	d.RefreshLocation(env)
	sig := d.transitionLocked(StateOffDuty, "")
	d.ClearConnection()
	resp := d.okResponseLocked(false)
	d.Unlock()

	sig.emit(d)
	return resp
}

// OffDuty takes the driver off duty
func (d *Driver) OffDuty(env *models.Envelope) *OKResponse {
	d.Lock()
	d.RefreshLocation(env)
	sig := d.transitionLocked(StateOffDuty, "")
	resp := d.okResponseLocked(false)
	d.Unlock()

	sig.emit(d)
	return resp
}

// OnDuty makes the driver available; any current trip is cleared
func (d *Driver) OnDuty(env *models.Envelope) *OKResponse {
	d.Lock()
	d.RefreshLocation(env)
	sig := d.transitionLocked(StateAvailable, "")
	resp := d.okResponseLocked(false)
	d.Unlock()

	sig.emit(d)
	return resp
}

// Disconnect detaches a dropped connection. State is kept so a mid-trip
// driver can reconnect, but the driver leaves the available pool.
func (d *Driver) Disconnect() {
	d.Lock()
	d.ClearConnection()
	sig := pendingSignal{listener: d.listener, signal: SignalUnavailable}
	d.Unlock()

	sig.emit(d)
}

// Ping updates the driver's position. The current trip, if any, is returned
// so the caller can append a route point.
func (d *Driver) Ping(env *models.Envelope) (*OKResponse, TripRef) {
	d.Lock()
	defer d.Unlock()

	d.RefreshLocation(env)
	return d.okResponseLocked(false), d.trip
}

// Dispatch offers the trip to the driver. The availability re-check happens
// under the driver lock, after the matcher's unlocked snapshot: of two
// concurrent dispatch attempts exactly one wins, the other gets
// ErrNotAvailable.
func (d *Driver) Dispatch(client ClientRef, trip TripRef) error {
	d.Lock()
	if !d.Connected || d.State != StateAvailable {
		d.Unlock()
		return ErrNotAvailable
	}

	sig := d.transitionLocked(StateDispatching, client.GetID())
	d.trip = trip
	err := d.Send(NewPickupOffer(trip, client))
	d.Unlock()

	sig.emit(d)
	return err
}

// Confirm accepts the pickup offer. Confirming while already Accepted is a
// no-op returning an equivalent response; the accepted counter increments
// exactly once.
func (d *Driver) Confirm(env *models.Envelope) (*OKResponse, error) {
	d.Lock()
	if d.State == StateAccepted {
		resp := d.okResponseLocked(false)
		d.Unlock()
		return resp, nil
	}
	if d.State != StateDispatching {
		d.Unlock()
		return nil, ErrInvalidTransition
	}

	d.TripsAccepted++
	d.RefreshLocation(env)
	trip := d.trip
	sig := d.transitionLocked(StateAccepted, "")
	d.trip = trip
	resp := d.okResponseLocked(false)
	d.Unlock()

	sig.emit(d)
	return resp, nil
}

// Arriving marks the driver as arrived at the pickup location
func (d *Driver) Arriving(env *models.Envelope) (*OKResponse, error) {
	return d.advance(env, StateAccepted, StateArrived)
}

// Begin starts the trip
func (d *Driver) Begin(env *models.Envelope) (*OKResponse, error) {
	return d.advance(env, StateArrived, StateDrivingClient)
}

// FinishTrip ends the trip and waits for the driver's rating of the client
func (d *Driver) FinishTrip(env *models.Envelope) (*OKResponse, error) {
	return d.advance(env, StateDrivingClient, StatePendingRating)
}

// advance moves between two in-trip states, preserving the trip reference
func (d *Driver) advance(env *models.Envelope, from, to State) (*OKResponse, error) {
	d.Lock()
	if d.State != from {
		d.Unlock()
		return nil, ErrInvalidTransition
	}

	d.RefreshLocation(env)
	trip := d.trip
	sig := d.transitionLocked(to, "")
	d.trip = trip
	resp := d.okResponseLocked(false)
	d.Unlock()

	sig.emit(d)
	return resp, nil
}

// PendingRating reports whether the driver still owes a client rating
func (d *Driver) PendingRating() bool {
	d.Lock()
	defer d.Unlock()
	return d.State == StatePendingRating
}

// FinishRating returns the driver to the available pool after the rating was
// recorded by the backend. A driver not pending a rating is a no-op.
func (d *Driver) FinishRating(env *models.Envelope) *OKResponse {
	d.Lock()
	if d.State != StatePendingRating {
		resp := d.okResponseLocked(false)
		d.Unlock()
		return resp
	}

	d.RefreshLocation(env)
	sig := d.transitionLocked(StateAvailable, "")
	resp := d.okResponseLocked(false)
	d.Unlock()

	sig.emit(d)
	return resp
}

// CancelTrip is a driver-initiated cancel; the driver goes back to the pool
func (d *Driver) CancelTrip(env *models.Envelope) *OKResponse {
	d.Lock()
	d.RefreshLocation(env)
	sig := d.transitionLocked(StateAvailable, "")
	resp := d.okResponseLocked(false)
	d.Unlock()

	sig.emit(d)
	return resp
}

// NotifyPickupCanceled tells the driver the pickup fell through and returns
// it to the pool. Without a current trip this is a no-op.
func (d *Driver) NotifyPickupCanceled(reason string) {
	d.Lock()
	if d.trip == nil {
		d.Unlock()
		return
	}

	sig := d.transitionLocked(StateAvailable, "")
	_ = d.Send(NewPickupCanceled(reason))
	d.Unlock()

	sig.emit(d)
}

// NotifyPickupTimeout counts the offer as rejected, then behaves as
// NotifyPickupCanceled
func (d *Driver) NotifyPickupTimeout() {
	d.Lock()
	if d.trip == nil {
		d.Unlock()
		return
	}
	d.TripsRejected++
	d.Unlock()

	d.NotifyPickupCanceled("pickup request timed out")
}

// NotifyTripCanceled tells the driver the client canceled the trip
func (d *Driver) NotifyTripCanceled() {
	d.Lock()
	if d.trip == nil {
		d.Unlock()
		return
	}

	sig := d.transitionLocked(StateAvailable, "")
	_ = d.Send(NewTripCanceled("Client canceled the trip."))
	d.Unlock()

	sig.emit(d)
}

// SelectVehicle records the driver's active vehicle
func (d *Driver) SelectVehicle(vehicle *models.Vehicle) *OKResponse {
	d.Lock()
	defer d.Unlock()

	d.Vehicle = vehicle
	return d.okResponseLocked(false)
}

// DistanceTo returns the straight-line distance in km from the driver's last
// known location
func (d *Driver) DistanceTo(location models.Location) float64 {
	d.Lock()
	defer d.Unlock()
	return utils.Distance(d.Location, location)
}

// Snapshot returns the wire representation published on channel:drivers
func (d *Driver) Snapshot() interface{} {
	d.Lock()
	defer d.Unlock()

	snap := DriverSnapshot{
		ID:            d.ID,
		State:         d.State,
		Connected:     d.Connected,
		Location:      d.Location,
		Geohash:       utils.EncodeLocation(d.Location, snapshotGeohashPrecision),
		Vehicle:       d.Vehicle,
		TripsAccepted: d.TripsAccepted,
		TripsRejected: d.TripsRejected,
	}
	if d.trip != nil {
		snap.Trip = &TripSummary{ID: d.trip.GetID(), PickupLocation: d.trip.Pickup()}
	}
	return snap
}

// okResponseLocked builds the standard driver acknowledgement.
// Caller must hold the driver lock.
func (d *Driver) okResponseLocked(includeToken bool) *OKResponse {
	resp := &OKResponse{
		MessageType:       "OK",
		ID:                d.ID,
		State:             d.State,
		TripPendingRating: d.State == StatePendingRating,
	}
	if includeToken {
		resp.Token = d.Token
	}
	if d.trip != nil {
		resp.Trip = &TripSummary{ID: d.trip.GetID(), PickupLocation: d.trip.Pickup()}
	}
	return resp
}
