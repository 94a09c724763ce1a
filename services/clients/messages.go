package clients

import (
	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/services/drivers"
)

// OKResponse is the standard client acknowledgement
type OKResponse struct {
	MessageType string `json:"messageType"`
	ID          string `json:"id"`
	State       State  `json:"state"`
	Token       string `json:"token,omitempty"`
	TripID      string `json:"tripId,omitempty"`
}

// NearbyDriversMessage carries the nearby-driver view
type NearbyDriversMessage struct {
	MessageType string                 `json:"messageType"`
	Drivers     []drivers.NearbyDriver `json:"drivers"`
}

// NewNearbyDrivers builds a nearby-driver push
func NewNearbyDrivers(nearby []drivers.NearbyDriver) NearbyDriversMessage {
	return NearbyDriversMessage{MessageType: "NearbyDrivers", Drivers: nearby}
}

// PickupConfirmedMessage tells the rider which driver is coming
type PickupConfirmedMessage struct {
	MessageType string          `json:"messageType"`
	DriverID    string          `json:"driverId"`
	DriverName  string          `json:"driverName"`
	Vehicle     *models.Vehicle `json:"vehicle,omitempty"`
	Location    models.Location `json:"location"`
	ETAMinutes  int             `json:"eta"`
}

// NewPickupConfirmed builds a pickup confirmation for the rider
func NewPickupConfirmed(d *drivers.Driver, etaMinutes int) PickupConfirmedMessage {
	d.Lock()
	defer d.Unlock()

	return PickupConfirmedMessage{
		MessageType: "PickupConfirmed",
		DriverID:    d.ID,
		DriverName:  d.DisplayName(),
		Vehicle:     d.Vehicle,
		Location:    d.Location,
		ETAMinutes:  etaMinutes,
	}
}

// NewDriverArrived builds the arrival notification
func NewDriverArrived() models.OKMessage {
	return models.OKMessage{MessageType: "DriverArrived"}
}

// NewTripStarted builds the trip-start notification
func NewTripStarted() models.OKMessage {
	return models.OKMessage{MessageType: "TripStarted"}
}

// NewTripFinished builds the trip-finished notification
func NewTripFinished() models.OKMessage {
	return models.OKMessage{MessageType: "TripFinished"}
}

// NewPickupTimeout builds the pickup-timeout notification
func NewPickupTimeout() models.OKMessage {
	return models.OKMessage{MessageType: "PickupTimeout"}
}

// TripCanceledForClientMessage tells the rider the trip was canceled
type TripCanceledForClientMessage struct {
	MessageType string `json:"messageType"`
	Reason      string `json:"reason,omitempty"`
}

// NewTripCanceledForClient builds a trip-canceled notification for riders
func NewTripCanceledForClient(reason string) TripCanceledForClientMessage {
	return TripCanceledForClientMessage{MessageType: "TripCanceled", Reason: reason}
}

// FareEstimateMessage answers SetDestination with distance and travel time
type FareEstimateMessage struct {
	MessageType string          `json:"messageType"`
	Destination models.Location `json:"destination"`
	DistanceKm  float64         `json:"distanceKm"`
	ETAMinutes  int             `json:"eta"`
}

// ClientSnapshot is the wire representation published on channel:clients
type ClientSnapshot struct {
	ID        string          `json:"id"`
	State     State           `json:"state"`
	Connected bool            `json:"connected"`
	Location  models.Location `json:"location"`
	TripID    string          `json:"tripId,omitempty"`
}
