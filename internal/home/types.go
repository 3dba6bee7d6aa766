package home

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Category is the kind of a home node.
type Category string

// Node categories.
const (
	CategoryAlarm         Category = "alarm"
	CategoryShutter       Category = "shutter"
	CategoryCamera        Category = "camera"
	CategoryMotionSensor  Category = "pir"
	CategoryContactSensor Category = "dws"
)

// NodeStatus is the connection status of a node.
type NodeStatus string

// Node statuses.
const (
	NodeUnreachable NodeStatus = "unreachable"
	NodeDisabled    NodeStatus = "disabled"
	NodeActive      NodeStatus = "active"
	NodeUnpaired    NodeStatus = "unpaired"
)

// AccessMode is the access mode of an endpoint.
type AccessMode string

// Access modes.
const (
	AccessRead      AccessMode = "r"
	AccessWrite     AccessMode = "w"
	AccessReadWrite AccessMode = "rw"
)

// Node is a home-automation object paired with the box.
type Node struct {
	Adapter       int             `json:"adapter"`
	Category      Category        `json:"category"`
	ID            int             `json:"id"`
	Label         string          `json:"label"`
	Name          string          `json:"name"`
	ShowEndpoints []Endpoint      `json:"show_endpoints"`
	SignalLinks   json.RawMessage `json:"signal_links,omitempty"`
	SlotLinks     json.RawMessage `json:"slot_links,omitempty"`
	Status        NodeStatus      `json:"status"`
	Type          NodeType        `json:"type"`
}

// NodeType describes the technical type of a node.
type NodeType struct {
	Icon      string     `json:"icon"`
	Label     string     `json:"label"`
	Name      string     `json:"name"`
	Physical  bool       `json:"physical"`
	Generic   bool       `json:"generic"`
	Abstract  bool       `json:"abstract"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Endpoint is a signal (output) or slot (input) of a node.
type Endpoint struct {
	Category   string      `json:"category,omitempty"`
	EpType     string      `json:"ep_type"`
	Visibility string      `json:"visibility,omitempty"`
	ID         int         `json:"id"`
	Access     AccessMode  `json:"access,omitempty"`
	Label      string      `json:"label,omitempty"`
	Name       string      `json:"name,omitempty"`
	ParamType  string      `json:"param_type,omitempty"`
	ValueType  string      `json:"value_type,omitempty"`
	UI         *EndpointUI `json:"ui,omitempty"`
}

// EndpointUI holds display hints of an endpoint.
type EndpointUI struct {
	Access  AccessMode `json:"access,omitempty"`
	Display string     `json:"display,omitempty"`
	IconURL string     `json:"icon_url,omitempty"`
	Range   []float64  `json:"range,omitempty"`
	Unit    string     `json:"unit,omitempty"`
}

// allows reports whether the endpoint, or its UI hints, grant mode.
func (e Endpoint) allows(mode AccessMode) bool {
	if e.Access == mode {
		return true
	}
	return e.UI != nil && e.UI.Access == mode
}

// EndpointValue is the value read from, or returned by a write to, an endpoint.
type EndpointValue struct {
	Value     json.RawMessage `json:"value"`
	Unit      string          `json:"unit,omitempty"`
	Refresh   int             `json:"refresh,omitempty"` // milliseconds
	ValueType string          `json:"value_type"`
}

// RefreshInterval is the delay the box asks to wait before reading again.
func (v EndpointValue) RefreshInterval() time.Duration {
	return time.Duration(v.Refresh) * time.Millisecond
}

// Int decodes an int value. The box sometimes sends numbers as strings.
func (v EndpointValue) Int() (int, error) {
	if v.ValueType != "int" {
		return 0, fmt.Errorf("%w: want int, got %q", ErrUnexpectedValue, v.ValueType)
	}
	var n json.Number
	if err := json.Unmarshal(v.Value, &n); err == nil {
		if i, err := strconv.Atoi(n.String()); err == nil {
			return i, nil
		}
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err == nil {
		if i, err := strconv.Atoi(s); err == nil {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s is not an int", ErrUnexpectedValue, v.Value)
}

// Bool decodes a bool value, accepting "true"/"false" strings.
func (v EndpointValue) Bool() (bool, error) {
	if v.ValueType != "bool" {
		return false, fmt.Errorf("%w: want bool, got %q", ErrUnexpectedValue, v.ValueType)
	}
	var b bool
	if err := json.Unmarshal(v.Value, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err == nil {
		if b, err := strconv.ParseBool(s); err == nil {
			return b, nil
		}
	}
	return false, fmt.Errorf("%w: %s is not a bool", ErrUnexpectedValue, v.Value)
}

// String decodes a string value.
func (v EndpointValue) String() (string, error) {
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrUnexpectedValue, v.Value)
	}
	return s, nil
}
