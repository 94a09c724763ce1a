package session

import (
	"errors"
	"sync"

	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/ws"
)

// ErrNotConnected is returned when sending to an entity without a live
// connection
var ErrNotConnected = errors.New("entity is not connected")

// Session is the shared shape of a connected rider or driver: identity,
// credentials, last known location and the live connection reference. The
// session never owns the connection's lifetime.
//
// The embedded mutex serializes all state transitions on one entity;
// operations that read-then-write must hold it across the whole sequence.
type Session struct {
	sync.Mutex `json:"-" db:"-"`

	ID        string          `json:"id" db:"id"`
	Email     string          `json:"email,omitempty" db:"email"`
	FirstName string          `json:"firstName,omitempty" db:"first_name"`
	LastName  string          `json:"lastName,omitempty" db:"last_name"`
	Mobile    string          `json:"mobile,omitempty" db:"mobile"`
	Rating    float64         `json:"rating,omitempty" db:"rating"`
	Token     string          `json:"-" db:"token"`
	Connected bool            `json:"connected" db:"connected"`
	Location  models.Location `json:"location"`

	conn ws.Connection
}

// GetID returns the cache key
func (s *Session) GetID() string {
	return s.ID
}

// DisplayName returns the rider-facing name
func (s *Session) DisplayName() string {
	if s.LastName == "" {
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

// IsTokenValid compares the supplied credential with the session token
func (s *Session) IsTokenValid(supplied string) bool {
	return s.Token != "" && s.Token == supplied
}

// SetConnection attaches a live connection and marks the session connected.
// Caller must hold the session lock.
func (s *Session) SetConnection(conn ws.Connection) {
	s.conn = conn
	s.Connected = conn != nil
}

// ClearConnection detaches the connection without closing it.
// Caller must hold the session lock.
func (s *Session) ClearConnection() {
	s.conn = nil
	s.Connected = false
}

// Connection returns the attached connection, which may be nil
func (s *Session) Connection() ws.Connection {
	return s.conn
}

// Send writes a message over the session's connection
func (s *Session) Send(v interface{}) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.SendJSON(v)
}

// RefreshLocation updates the last known location from an inbound envelope.
// Any transition driven by a client action refreshes location first; zero
// coordinates are ignored.
func (s *Session) RefreshLocation(env *models.Envelope) {
	loc := models.Location{Latitude: env.Latitude, Longitude: env.Longitude}
	if loc.IsZero() {
		return
	}
	s.Location = loc
}
