package dispatch

// Apps identify which client program a connection speaks for
const (
	AppClient = "client"
	AppDriver = "driver"
	AppGod    = "god"
)

// Message kinds of the client app
const (
	KindLogin                = "Login"
	KindSignUpClient         = "SignUpClient"
	KindPingClient           = "PingClient"
	KindPickup               = "Pickup"
	KindSetDestination       = "SetDestination"
	KindPickupCanceledClient = "PickupCanceledClient"
	KindCancelTripClient     = "CancelTripClient"
	KindRatingDriver         = "RatingDriver"
)

// Message kinds of the driver app
const (
	KindLoginDriver          = "LoginDriver"
	KindLogoutDriver         = "LogoutDriver"
	KindOffDutyDriver        = "OffDutyDriver"
	KindOnDutyDriver         = "OnDutyDriver"
	KindPingDriver           = "PingDriver"
	KindConfirmPickup        = "ConfirmPickup"
	KindArrivingNow          = "ArrivingNow"
	KindBeginTripDriver      = "BeginTripDriver"
	KindPickupCanceledDriver = "PickupCanceledDriver"
	KindEndTrip              = "EndTrip"
	KindListVehicles         = "ListVehicles"
	KindSelectVehicle        = "SelectVehicle"
	KindRatingClient         = "RatingClient"
)

// Message kinds shared by the god app
const (
	KindApiCommand = "ApiCommand"
	KindSubscribe  = "Subscribe"
)

// noAuthKinds may be processed without a session token; everything else goes
// through the token gate first
var noAuthKinds = map[string]bool{
	KindLogin:        true,
	KindSignUpClient: true,
	KindLoginDriver:  true,
	KindApiCommand:   true,
	KindSubscribe:    true,
}

// validApps are the client programs allowed to speak to the dispatcher. The
// handler table itself is keyed by kind alone; any known app may send any
// kind.
var validApps = map[string]bool{
	AppClient: true,
	AppDriver: true,
	AppGod:    true,
}
