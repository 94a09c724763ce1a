package backend

import (
	"context"
	"encoding/json"

	"github.com/instacab/dispatch/internal/pkg/models"
)

// Account is the identity record returned by the account service
type Account struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Mobile    string  `json:"mobile"`
	Rating    float64 `json:"rating"`
}

// SignupInfo is the payload for client signup
type SignupInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Mobile    string `json:"mobile"`
	Password  string `json:"password"`
	Email     string `json:"email"`
}

// API is the identity/account service collaborator. Errors from these calls
// propagate to the user as visible errors.
type API interface {
	LoginClient(ctx context.Context, email, password, deviceID string) (*Account, error)
	LoginDriver(ctx context.Context, email, password, deviceID string) (*Account, error)
	SignupClient(ctx context.Context, info SignupInfo) (*Account, error)
	APICommand(ctx context.Context, clientID, method string, params json.RawMessage) (json.RawMessage, error)
	RateClient(ctx context.Context, tripID string, rating int) error
	RateDriver(ctx context.Context, tripID string, rating int, feedback string) error
	ListVehicles(ctx context.Context, driverID string) ([]models.Vehicle, error)
	SelectVehicle(ctx context.Context, driverID, vehicleID string) (*models.Vehicle, error)
}
