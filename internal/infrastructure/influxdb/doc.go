// Package influxdb provides InfluxDB connectivity for the Freebox bridge.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, telemetry writing, and health monitoring.
//
// # Purpose
//
// The bridge records time series that are awkward to reconstruct from
// retained MQTT state:
//   - shutter_position: current and target position per blind
//   - alarm_state: every alarm state transition
//   - freebox_requests: gateway request executor counters
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteShutterPosition(12, "Salon", 40, 100)
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered to the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
