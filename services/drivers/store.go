package drivers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/session"
)

// driverRow is the drivers table representation
type driverRow struct {
	ID            string          `db:"id"`
	Email         string          `db:"email"`
	FirstName     string          `db:"first_name"`
	LastName      string          `db:"last_name"`
	Mobile        string          `db:"mobile"`
	Rating        float64         `db:"rating"`
	Token         string          `db:"token"`
	State         string          `db:"state"`
	Latitude      float64         `db:"latitude"`
	Longitude     float64         `db:"longitude"`
	VehicleID     sql.NullString  `db:"vehicle_id"`
	VehiclePlate  sql.NullString  `db:"vehicle_plate"`
	TripsAccepted int             `db:"trips_accepted"`
	TripsRejected int             `db:"trips_rejected"`
	TripID        sql.NullString  `db:"trip_id"`
}

// Store persists drivers in Postgres behind the cache
type Store struct {
	db *sqlx.DB
}

// NewStore creates a driver store
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Load reads every driver row. Connections are never persisted, so every
// hydrated driver starts disconnected.
func (s *Store) Load(ctx context.Context) ([]*Driver, error) {
	query := `
		SELECT id, email, first_name, last_name, mobile, rating, token, state,
			latitude, longitude, vehicle_id, vehicle_plate,
			trips_accepted, trips_rejected, trip_id
		FROM drivers
	`

	var rows []driverRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load drivers: %w", err)
	}

	out := make([]*Driver, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToDriver(row))
	}
	return out, nil
}

// Save upserts a driver row
func (s *Store) Save(ctx context.Context, d *Driver) error {
	row := driverToRow(d)

	query := `
		INSERT INTO drivers (id, email, first_name, last_name, mobile, rating,
			token, state, latitude, longitude, vehicle_id, vehicle_plate,
			trips_accepted, trips_rejected, trip_id, updated_at
		) VALUES (:id, :email, :first_name, :last_name, :mobile, :rating,
			:token, :state, :latitude, :longitude, :vehicle_id, :vehicle_plate,
			:trips_accepted, :trips_rejected, :trip_id, NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			mobile = EXCLUDED.mobile,
			rating = EXCLUDED.rating,
			token = EXCLUDED.token,
			state = EXCLUDED.state,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			vehicle_id = EXCLUDED.vehicle_id,
			vehicle_plate = EXCLUDED.vehicle_plate,
			trips_accepted = EXCLUDED.trips_accepted,
			trips_rejected = EXCLUDED.trips_rejected,
			trip_id = EXCLUDED.trip_id,
			updated_at = NOW()
	`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save driver %s: %w", d.GetID(), err)
	}
	return nil
}

func rowToDriver(row driverRow) *Driver {
	d := &Driver{
		Session: session.Session{
			ID:        row.ID,
			Email:     row.Email,
			FirstName: row.FirstName,
			LastName:  row.LastName,
			Mobile:    row.Mobile,
			Rating:    row.Rating,
			Token:     row.Token,
			Location:  models.Location{Latitude: row.Latitude, Longitude: row.Longitude},
		},
		State:         State(row.State),
		TripsAccepted: row.TripsAccepted,
		TripsRejected: row.TripsRejected,
	}
	if row.VehicleID.Valid {
		d.Vehicle = &models.Vehicle{ID: row.VehicleID.String, Plate: row.VehiclePlate.String}
	}
	return d
}

func driverToRow(d *Driver) driverRow {
	d.Lock()
	defer d.Unlock()

	row := driverRow{
		ID:            d.ID,
		Email:         d.Email,
		FirstName:     d.FirstName,
		LastName:      d.LastName,
		Mobile:        d.Mobile,
		Rating:        d.Rating,
		Token:         d.Token,
		State:         string(d.State),
		Latitude:      d.Location.Latitude,
		Longitude:     d.Location.Longitude,
		TripsAccepted: d.TripsAccepted,
		TripsRejected: d.TripsRejected,
	}
	if d.Vehicle != nil {
		row.VehicleID = sql.NullString{String: d.Vehicle.ID, Valid: true}
		row.VehiclePlate = sql.NullString{String: d.Vehicle.Plate, Valid: true}
	}
	if d.trip != nil {
		row.TripID = sql.NullString{String: d.trip.GetID(), Valid: true}
	}
	return row
}
