package dispatch

import (
	"context"
	"time"

	"github.com/instacab/dispatch/internal/pkg/constants"
	"github.com/instacab/dispatch/internal/pkg/logger"
	"github.com/instacab/dispatch/internal/pkg/models"
	"github.com/instacab/dispatch/services/clients"
	"github.com/instacab/dispatch/services/drivers"
)

// AvailabilityEvent is the driver.available / driver.unavailable queue event
type AvailabilityEvent struct {
	DriverID  string          `json:"driverId"`
	Available bool            `json:"available"`
	Location  models.Location `json:"location"`
	Timestamp time.Time       `json:"timestamp"`
}

// driverStateChanged is the availability listener armed on every driver. It
// runs after the driver released its lock, so it may lock drivers freely.
func (d *Dispatcher) driverStateChanged(drv *drivers.Driver, signal drivers.Signal, excludeClientID string) {
	d.publishAvailability(drv, signal)
	d.refreshNearbyViews(excludeClientID)
}

func (d *Dispatcher) publishAvailability(drv *drivers.Driver, signal drivers.Signal) {
	if d.events == nil {
		return
	}

	drv.Lock()
	event := AvailabilityEvent{
		DriverID:  drv.ID,
		Available: signal == drivers.SignalAvailable,
		Location:  drv.Location,
		Timestamp: time.Now().UTC(),
	}
	drv.Unlock()

	topic := constants.TopicDriverUnavailable
	if event.Available {
		topic = constants.TopicDriverAvailable
	}
	if err := d.events.Publish(topic, event); err != nil {
		logger.Warn("failed to publish driver availability event", logger.Fields{
			"driver_id": event.DriverID,
			"topic":     topic,
			"error":     err.Error(),
		})
	}
}

// refreshNearbyViews recomputes and pushes the nearby-driver view to every
// looking rider. The rider whose pickup request caused the change is skipped;
// they are getting a direct answer instead.
func (d *Dispatcher) refreshNearbyViews(excludeClientID string) {
	ctx := context.Background()

	d.clients.Each(func(c *clients.Client) {
		if c.GetID() == excludeClientID || !c.IsLooking() {
			return
		}

		c.Lock()
		location := c.Location
		c.Unlock()
		c.SendDriversNearby(d.matcher.FindAllAvailableNearLocation(ctx, location))
	})
}
