package eta

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/instacab/dispatch/internal/pkg/models"
)

// GoogleService estimates travel time via the Google Distance Matrix API.
type GoogleService struct {
	client *maps.Client
}

// NewGoogleService creates a distance service with the given API key
func NewGoogleService(apiKey string) (*GoogleService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleService{client: client}, nil
}

// Get returns driving time in seconds between origin and destination
func (s *GoogleService) Get(ctx context.Context, origin, destination models.Location) (int, error) {
	r := &maps.DistanceMatrixRequest{
		Origins:      []string{locationToString(origin)},
		Destinations: []string{locationToString(destination)},
		Mode:         maps.TravelModeDriving,
	}

	resp, err := s.client.DistanceMatrix(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("distance matrix request failed: %w", err)
	}

	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("distance matrix returned no elements")
	}

	element := resp.Rows[0].Elements[0]
	if element.Status != "OK" {
		return 0, fmt.Errorf("distance matrix element status: %s", element.Status)
	}

	return int(element.Duration.Seconds()), nil
}

func locationToString(l models.Location) string {
	return fmt.Sprintf("%f,%f", l.Latitude, l.Longitude)
}
