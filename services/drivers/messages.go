package drivers

import "github.com/instacab/dispatch/internal/pkg/models"

// TripSummary is the trip reference carried in driver payloads
type TripSummary struct {
	ID             string          `json:"id"`
	PickupLocation models.Location `json:"pickupLocation"`
}

// OKResponse is the standard driver acknowledgement
type OKResponse struct {
	MessageType       string       `json:"messageType"`
	ID                string       `json:"id"`
	State             State        `json:"state"`
	Token             string       `json:"token,omitempty"`
	Trip              *TripSummary `json:"trip,omitempty"`
	TripPendingRating bool         `json:"tripPendingRating,omitempty"`
}

// PickupOffer proposes a trip assignment to a driver, pending confirmation
type PickupOffer struct {
	MessageType    string          `json:"messageType"`
	TripID         string          `json:"tripId"`
	PickupLocation models.Location `json:"pickupLocation"`
	ClientID       string          `json:"clientId"`
	ClientName     string          `json:"clientName"`
}

// NewPickupOffer builds a pickup offer for the given trip and client
func NewPickupOffer(trip TripRef, client ClientRef) PickupOffer {
	return PickupOffer{
		MessageType:    "Pickup",
		TripID:         trip.GetID(),
		PickupLocation: trip.Pickup(),
		ClientID:       client.GetID(),
		ClientName:     client.DisplayName(),
	}
}

// PickupCanceledMessage tells the driver a pickup fell through
type PickupCanceledMessage struct {
	MessageType string `json:"messageType"`
	Reason      string `json:"reason,omitempty"`
}

// NewPickupCanceled builds a pickup-canceled notification
func NewPickupCanceled(reason string) PickupCanceledMessage {
	return PickupCanceledMessage{MessageType: "PickupCanceled", Reason: reason}
}

// TripCanceledMessage tells the driver the client canceled the trip
type TripCanceledMessage struct {
	MessageType string `json:"messageType"`
	Reason      string `json:"reason,omitempty"`
}

// NewTripCanceled builds a trip-canceled notification
func NewTripCanceled(reason string) TripCanceledMessage {
	return TripCanceledMessage{MessageType: "TripCanceled", Reason: reason}
}

// VehicleListResponse carries the driver's registered vehicles
type VehicleListResponse struct {
	MessageType string           `json:"messageType"`
	Vehicles    []models.Vehicle `json:"vehicles"`
}

// DriverSnapshot is the wire representation published on channel:drivers
type DriverSnapshot struct {
	ID            string          `json:"id"`
	State         State           `json:"state"`
	Connected     bool            `json:"connected"`
	Location      models.Location `json:"location"`
	Geohash       string          `json:"geohash,omitempty"`
	Vehicle       *models.Vehicle `json:"vehicle,omitempty"`
	TripsAccepted int             `json:"tripsAccepted"`
	TripsRejected int             `json:"tripsRejected"`
	Trip          *TripSummary    `json:"trip,omitempty"`
}
