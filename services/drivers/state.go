package drivers

// State is the driver's operational state
type State string

// Driver states
const (
	StateOffDuty       State = "OffDuty"
	StateAvailable     State = "Available"
	StateDispatching   State = "Dispatching"
	StateAccepted      State = "Accepted"
	StateArrived       State = "Arrived"
	StateDrivingClient State = "DrivingClient"
	StatePendingRating State = "PendingRating"
)

// InTrip reports whether the state implies a non-null current trip
func (s State) InTrip() bool {
	switch s {
	case StateDispatching, StateAccepted, StateArrived, StateDrivingClient, StatePendingRating:
		return true
	}
	return false
}

// Signal is the availability side channel consumed by the dispatcher
type Signal string

// Availability signals
const (
	SignalAvailable   Signal = "available"
	SignalUnavailable Signal = "unavailable"
)

// StateListener receives availability signals emitted on every state change.
// excludeClientID names the client whose pickup request caused the change,
// so its own view is not recomputed.
type StateListener func(d *Driver, signal Signal, excludeClientID string)
