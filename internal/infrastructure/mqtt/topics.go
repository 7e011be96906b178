package mqtt

import "fmt"

// Topic prefixes for the VoltLink MQTT hierarchy.
//
// Device topics follow the scheme: voltlink/devices/{device_id}/{suffix}
const (
	// TopicPrefix is the base for all VoltLink topics.
	TopicPrefix = "voltlink"

	// TopicPrefixDevices is the base for per-device topics.
	TopicPrefixDevices = "voltlink/devices"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "voltlink/system"
)

// Topics provides builders for VoltLink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("sn-swp6340001234")
//	// Returns: "voltlink/devices/sn-swp6340001234/state"
type Topics struct{}

// DeviceState returns the retained per-device state topic.
// Core publishes the full port snapshot here after every successful poll.
//
// Example: voltlink/devices/sn-swp6340001234/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixDevices, deviceID)
}

// DeviceSet returns the per-device command topic.
// External clients publish port switch requests here.
//
// Example: voltlink/devices/sn-swp6340001234/set
func (Topics) DeviceSet(deviceID string) string {
	return fmt.Sprintf("%s/%s/set", TopicPrefixDevices, deviceID)
}

// DeviceAvailability returns the retained per-device availability topic.
//
// Example: voltlink/devices/sn-swp6340001234/availability
func (Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/%s/availability", TopicPrefixDevices, deviceID)
}

// Discovery returns the topic where newly discovered devices are announced.
//
// Example: voltlink/discovery
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery", TopicPrefix)
}

// SystemStatus returns the system status topic. The client's Last Will and
// graceful shutdown message are both published here.
//
// Example: voltlink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: voltlink/devices/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixDevices)
}

// AllDeviceSets returns a pattern matching every device command topic.
// Core subscribes to this to accept switch requests over MQTT.
//
// Pattern: voltlink/devices/+/set
func (Topics) AllDeviceSets() string {
	return fmt.Sprintf("%s/+/set", TopicPrefixDevices)
}

// AllTopics returns a pattern matching all VoltLink topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: voltlink/#
func (Topics) AllTopics() string {
	return "voltlink/#"
}

// DeviceIDFromTopic extracts the device ID from a per-device topic.
// Returns "" if the topic does not match the voltlink/devices/{id}/... shape.
func DeviceIDFromTopic(topic string) string {
	const prefix = TopicPrefixDevices + "/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return ""
	}
	rest := topic[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return ""
}
