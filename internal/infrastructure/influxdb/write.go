package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	measurementShutter  = "shutter_position"
	measurementAlarm    = "alarm_state"
	measurementExecutor = "freebox_requests"
)

// RequestCounters is a snapshot of the gateway request executor counters.
type RequestCounters struct {
	Requests uint64
	Retries  uint64
	Renewals uint64
	Failures uint64
	Queued   int
}

// WriteShutterPosition records the current and target position of a blind.
//
// A negative target means it has not been read yet and is left out.
//
// Example:
//
//	client.WriteShutterPosition(12, "Salon", 40, 100)
func (c *Client) WriteShutterPosition(nodeID int, name string, current, target int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(shutterPoint(nodeID, name, current, target, time.Now()))
}

// WriteAlarmState records an alarm state transition.
func (c *Client) WriteAlarmState(nodeID int, state string, triggered bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(alarmPoint(nodeID, state, triggered, time.Now()))
}

// WriteExecutorStats records the request executor counters for a bridge.
func (c *Client) WriteExecutorStats(bridgeID string, counters RequestCounters) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(executorPoint(bridgeID, counters, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

func shutterPoint(nodeID int, name string, current, target int, ts time.Time) *write.Point {
	fields := map[string]any{
		"current": current,
	}
	if target >= 0 {
		fields["target"] = target
	}
	return write.NewPoint(measurementShutter,
		map[string]string{
			"node_id": strconv.Itoa(nodeID),
			"name":    name,
		},
		fields, ts)
}

func alarmPoint(nodeID int, state string, triggered bool, ts time.Time) *write.Point {
	return write.NewPoint(measurementAlarm,
		map[string]string{"node_id": strconv.Itoa(nodeID)},
		map[string]any{
			"state":     state,
			"triggered": triggered,
		}, ts)
}

func executorPoint(bridgeID string, counters RequestCounters, ts time.Time) *write.Point {
	return write.NewPoint(measurementExecutor,
		map[string]string{"bridge": bridgeID},
		map[string]any{
			"requests": counters.Requests,
			"retries":  counters.Retries,
			"renewals": counters.Renewals,
			"failures": counters.Failures,
			"queued":   counters.Queued,
		}, ts)
}
