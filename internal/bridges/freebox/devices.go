package freebox

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/nerrad567/gray-logic-freebox/internal/home"
)

// AlarmDeviceID is the bridge device id of the alarm.
const AlarmDeviceID = "alarm"

const shutterPrefix = "shutter-"

// Device types announced on discovery.
const (
	deviceTypeAlarm = "alarm"
	deviceTypeBlind = "blind"
)

// Alarm commands.
const (
	CommandArmMain  = "arm_main"
	CommandArmNight = "arm_night"
	CommandDisarm   = "disarm"
)

// Shutter commands.
const (
	CommandSetPosition = "set_position"
	CommandOpen        = "open"
	CommandClose       = "close"
	CommandStop        = "stop"
	CommandToggle      = "toggle"
)

var (
	alarmCommands   = []string{CommandArmMain, CommandArmNight, CommandDisarm}
	shutterCommands = []string{CommandSetPosition, CommandOpen, CommandClose, CommandStop, CommandToggle}
)

// ShutterDeviceID returns the bridge device id of a shutter node.
func ShutterDeviceID(nodeID int) string {
	return shutterPrefix + strconv.Itoa(nodeID)
}

// device is one entry of the bridge device table.
type device struct {
	id      string
	nodeID  int
	kind    string
	name    string
	actions []string
}

func (d device) address() string {
	return strconv.Itoa(d.nodeID)
}

// buildDevices lists the devices exposed for the discovered alarm and blinds.
func buildDevices(alarm *home.Node, blinds []home.Blind) map[string]device {
	devices := make(map[string]device, len(blinds)+1)
	if alarm != nil {
		name := alarm.Label
		if name == "" {
			name = alarm.Name
		}
		devices[AlarmDeviceID] = device{
			id:      AlarmDeviceID,
			nodeID:  alarm.ID,
			kind:    deviceTypeAlarm,
			name:    name,
			actions: alarmCommands,
		}
	}
	for _, b := range blinds {
		id := ShutterDeviceID(b.NodeID)
		devices[id] = device{
			id:      id,
			nodeID:  b.NodeID,
			kind:    deviceTypeBlind,
			name:    b.Name,
			actions: shutterCommands,
		}
	}
	return devices
}

// discovered converts the device table to discovery entries, sorted by id.
func discovered(devices map[string]device) []DiscoveredDevice {
	out := make([]DiscoveredDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, DiscoveredDevice{
			DeviceID:      d.id,
			Protocol:      Protocol,
			Address:       d.address(),
			Type:          d.kind,
			Capabilities:  d.actions,
			SuggestedName: d.name,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (d device) supports(command string) error {
	for _, a := range d.actions {
		if a == command {
			return nil
		}
	}
	return fmt.Errorf("%w: %s does not support %q", ErrInvalidCommand, d.id, command)
}
