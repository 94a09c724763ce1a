package clients

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/internal/pkg/session"
)

type clientRow struct {
	ID        string  `db:"id"`
	Email     string  `db:"email"`
	FirstName string  `db:"first_name"`
	LastName  string  `db:"last_name"`
	Mobile    string  `db:"mobile"`
	Rating    float64 `db:"rating"`
	Token     string  `db:"token"`
	State     string  `db:"state"`
	Latitude  float64 `db:"latitude"`
	Longitude float64 `db:"longitude"`
}

// Store persists clients in Postgres behind the cache
type Store struct {
	db *sqlx.DB
}

// NewStore creates a client store
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Load reads every client row; hydrated clients start disconnected
func (s *Store) Load(ctx context.Context) ([]*Client, error) {
	query := `
		SELECT id, email, first_name, last_name, mobile, rating, token,
			state, latitude, longitude
		FROM clients
	`

	var rows []clientRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}

	out := make([]*Client, 0, len(rows))
	for _, row := range rows {
		out = append(out, &Client{
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
			State: State(row.State),
		})
	}
	return out, nil
}

// Save upserts a client row
func (s *Store) Save(ctx context.Context, c *Client) error {
	c.Lock()
	row := clientRow{
		ID:        c.ID,
		Email:     c.Email,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Mobile:    c.Mobile,
		Rating:    c.Rating,
		Token:     c.Token,
		State:     string(c.State),
		Latitude:  c.Location.Latitude,
		Longitude: c.Location.Longitude,
	}
	c.Unlock()

	query := `
		INSERT INTO clients (id, email, first_name, last_name, mobile, rating,
			token, state, latitude, longitude, updated_at
		) VALUES (:id, :email, :first_name, :last_name, :mobile, :rating,
			:token, :state, :latitude, :longitude, NOW())
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
			updated_at = NOW()
	`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save client %s: %w", c.GetID(), err)
	}
	return nil
}
