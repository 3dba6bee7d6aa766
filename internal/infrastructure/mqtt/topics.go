package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Gray Logic topic.
//
// Bridge topics use the flat scheme: graylogic/{category}/{protocol}/{device}
const TopicPrefix = "graylogic"

// Topics provides builders for the bridge's MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("freebox", "alarm")
//	// Returns: "graylogic/state/freebox/alarm"
type Topics struct{}

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: graylogic/state/freebox/shutter-12
func (Topics) BridgeState(protocol, device string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, device)
}

// BridgeCommand returns the topic for commands to a bridge device.
//
// Example: graylogic/command/freebox/alarm
func (Topics) BridgeCommand(protocol, device string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, device)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: graylogic/ack/freebox/alarm
func (Topics) BridgeAck(protocol, device string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, device)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/freebox
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// BridgeDiscovery returns the topic announcing the devices of a bridge.
//
// Example: graylogic/discovery/freebox
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, protocol)
}

// BridgeCommands returns a pattern matching every command to one bridge.
//
// Pattern: graylogic/command/freebox/+
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// AllBridgeStates returns a pattern matching all bridge state updates.
//
// Pattern: graylogic/state/+/+
func (Topics) AllBridgeStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllBridgeHealth returns a pattern matching all bridge health updates.
//
// Pattern: graylogic/health/+
func (Topics) AllBridgeHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefix)
}

// topicLevels is the number of levels of a bridge device topic.
const topicLevels = 4

// DeviceFromTopic returns the device level of a bridge topic, or "" when the
// topic does not have the graylogic/{category}/{protocol}/{device} shape.
//
// Example: "graylogic/command/freebox/shutter-12" → "shutter-12"
func DeviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != topicLevels || parts[0] != TopicPrefix || parts[3] == "" {
		return ""
	}
	return parts[3]
}
