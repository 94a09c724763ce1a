package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/instacab/dispatch/internal/pkg/models"
)

// Client is an HTTP client for the identity/account service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an account service client from configuration
func NewClient(cfg models.BackendConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("account service unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("account service: %s", apiErr.Error)
		}
		return fmt.Errorf("account service returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// LoginClient authenticates a rider account
func (c *Client) LoginClient(ctx context.Context, email, password, deviceID string) (*Account, error) {
	var account Account
	payload := map[string]string{"email": email, "password": password, "device_id": deviceID}
	if err := c.postJSON(ctx, "/clients/login", payload, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// LoginDriver authenticates a driver account
func (c *Client) LoginDriver(ctx context.Context, email, password, deviceID string) (*Account, error) {
	var account Account
	payload := map[string]string{"email": email, "password": password, "device_id": deviceID}
	if err := c.postJSON(ctx, "/drivers/login", payload, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// SignupClient registers a new rider account
func (c *Client) SignupClient(ctx context.Context, info SignupInfo) (*Account, error) {
	var account Account
	if err := c.postJSON(ctx, "/clients/signup", map[string]SignupInfo{"user": info}, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// APICommand forwards an opaque command to the account service
func (c *Client) APICommand(ctx context.Context, clientID, method string, params json.RawMessage) (json.RawMessage, error) {
	var result json.RawMessage
	payload := map[string]interface{}{
		"client_id":  clientID,
		"method":     method,
		"parameters": params,
	}
	if err := c.postJSON(ctx, "/api/command", payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// RateClient submits a driver's rating of a client for a trip
func (c *Client) RateClient(ctx context.Context, tripID string, rating int) error {
	payload := map[string]interface{}{"trip_id": tripID, "rating": rating}
	return c.postJSON(ctx, "/trips/rate-client", payload, nil)
}

// RateDriver submits a client's rating of a driver for a trip
func (c *Client) RateDriver(ctx context.Context, tripID string, rating int, feedback string) error {
	payload := map[string]interface{}{"trip_id": tripID, "rating": rating, "feedback": feedback}
	return c.postJSON(ctx, "/trips/rate-driver", payload, nil)
}

// ListVehicles lists vehicles registered to a driver
func (c *Client) ListVehicles(ctx context.Context, driverID string) ([]models.Vehicle, error) {
	var vehicles []models.Vehicle
	payload := map[string]string{"driver_id": driverID}
	if err := c.postJSON(ctx, "/drivers/vehicles", payload, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// SelectVehicle marks a vehicle as the driver's active vehicle
func (c *Client) SelectVehicle(ctx context.Context, driverID, vehicleID string) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	payload := map[string]string{"driver_id": driverID, "vehicle_id": vehicleID}
	if err := c.postJSON(ctx, "/drivers/select-vehicle", payload, &vehicle); err != nil {
		return nil, err
	}
	return &vehicle, nil
}
