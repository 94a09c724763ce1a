package constants

// Well-known live-state channels. Subscribing to one of these triggers an
// immediate snapshot publish of the matching entity cache.
const (
	ChannelDrivers = "drivers"
	ChannelClients = "clients"
	ChannelTrips   = "trips"
)

// Bus topic prefix; entities publish to "channel:<name>"
const ChannelPrefix = "channel:"

// BusTopic returns the bus topic for a channel name
func BusTopic(channel string) string {
	return ChannelPrefix + channel
}

// NSQ topics for operational events
const (
	TopicDriverAvailable   = "driver.available"
	TopicDriverUnavailable = "driver.unavailable"
	TopicTripStatus        = "trip.status"
)
