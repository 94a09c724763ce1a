package models

import "encoding/json"

// Envelope is the inbound wire frame shared by the client, driver and god apps.
// Every message carries app and messageType; the remaining fields are
// populated depending on the kind.
type Envelope struct {
	App         string  `json:"app"`
	MessageType string  `json:"messageType"`
	ID          string  `json:"id,omitempty"`
	TripID      string  `json:"tripId,omitempty"`
	Token       string  `json:"token,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`

	// Login / signup
	Email     string `json:"email,omitempty"`
	Password  string `json:"password,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Mobile    string `json:"mobile,omitempty"`

	// Subscriptions
	Channel string `json:"channel,omitempty"`

	// Trip flow
	Rating      int       `json:"rating,omitempty"`
	Feedback    string    `json:"feedback,omitempty"`
	VehicleID   string    `json:"vehicleId,omitempty"`
	Destination *Location `json:"destination,omitempty"`

	// ApiCommand passthrough
	APIMethod     string          `json:"apiMethod,omitempty"`
	APIParameters json.RawMessage `json:"apiParameters,omitempty"`
}

// PickupLocation returns the coordinates carried by the envelope.
func (e *Envelope) PickupLocation() Location {
	return Location{Latitude: e.Latitude, Longitude: e.Longitude}
}

// ErrorMessage is the outbound error envelope
type ErrorMessage struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// ChannelEvent wraps a bus payload for delivery to channel subscribers
type ChannelEvent struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// OKMessage is a minimal acknowledgement payload
type OKMessage struct {
	MessageType string `json:"messageType"`
}
