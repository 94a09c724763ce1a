package trips

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/instacab/dispatch/internal/pkg/models"
)

type tripRow struct {
	ID             string          `db:"id"`
	ClientID       string          `db:"client_id"`
	DriverID       string          `db:"driver_id"`
	Status         string          `db:"status"`
	PickupLat      float64         `db:"pickup_latitude"`
	PickupLng      float64         `db:"pickup_longitude"`
	DestinationLat sql.NullFloat64 `db:"destination_latitude"`
	DestinationLng sql.NullFloat64 `db:"destination_longitude"`
	Route          []byte          `db:"route"`
	CreatedAt      time.Time       `db:"created_at"`
}

// Store persists trips in Postgres behind the cache. The route is stored as
// a JSONB column.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a trip store
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Load reads every trip row
func (s *Store) Load(ctx context.Context) ([]*Trip, error) {
	query := `
		SELECT id, client_id, driver_id, status, pickup_latitude,
			pickup_longitude, destination_latitude, destination_longitude,
			route, created_at
		FROM trips
	`

	var rows []tripRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load trips: %w", err)
	}

	out := make([]*Trip, 0, len(rows))
	for _, row := range rows {
		t, err := rowToTrip(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Save upserts a trip row
func (s *Store) Save(ctx context.Context, t *Trip) error {
	row, err := tripToRow(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO trips (id, client_id, driver_id, status, pickup_latitude,
			pickup_longitude, destination_latitude, destination_longitude,
			route, created_at, updated_at
		) VALUES (:id, :client_id, :driver_id, :status, :pickup_latitude,
			:pickup_longitude, :destination_latitude, :destination_longitude,
			:route, :created_at, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			destination_latitude = EXCLUDED.destination_latitude,
			destination_longitude = EXCLUDED.destination_longitude,
			route = EXCLUDED.route,
			updated_at = NOW()
	`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save trip %s: %w", t.GetID(), err)
	}
	return nil
}

func rowToTrip(row tripRow) (*Trip, error) {
	t := &Trip{
		ID:             row.ID,
		ClientID:       row.ClientID,
		DriverID:       row.DriverID,
		Status:         Status(row.Status),
		PickupLocation: models.Location{Latitude: row.PickupLat, Longitude: row.PickupLng},
		CreatedAt:      row.CreatedAt,
	}
	if row.DestinationLat.Valid && row.DestinationLng.Valid {
		t.Destination = &models.Location{
			Latitude:  row.DestinationLat.Float64,
			Longitude: row.DestinationLng.Float64,
		}
	}
	if len(row.Route) > 0 {
		if err := json.Unmarshal(row.Route, &t.Route); err != nil {
			return nil, fmt.Errorf("failed to decode route for trip %s: %w", row.ID, err)
		}
	}
	return t, nil
}

func tripToRow(t *Trip) (tripRow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	route, err := json.Marshal(t.Route)
	if err != nil {
		return tripRow{}, fmt.Errorf("failed to encode route for trip %s: %w", t.ID, err)
	}

	row := tripRow{
		ID:        t.ID,
		ClientID:  t.ClientID,
		DriverID:  t.DriverID,
		Status:    string(t.Status),
		PickupLat: t.PickupLocation.Latitude,
		PickupLng: t.PickupLocation.Longitude,
		Route:     route,
		CreatedAt: t.CreatedAt,
	}
	if t.Destination != nil {
		row.DestinationLat = sql.NullFloat64{Float64: t.Destination.Latitude, Valid: true}
		row.DestinationLng = sql.NullFloat64{Float64: t.Destination.Longitude, Valid: true}
	}
	return row, nil
}
