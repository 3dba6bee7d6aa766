package home

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
)

// AlarmKind is the arming mode of the alarm.
type AlarmKind int

// Alarm kinds. Main arms every sensor, night leaves the night zone free.
const (
	AlarmNone AlarmKind = iota
	AlarmMain
	AlarmNight
)

// String returns the kind name used on MQTT and in logs.
func (k AlarmKind) String() string {
	switch k {
	case AlarmMain:
		return "main"
	case AlarmNight:
		return "night"
	default:
		return "none"
	}
}

// endpointName is the alarm node endpoint that activates the kind.
func (k AlarmKind) endpointName() string {
	switch k {
	case AlarmMain:
		return "alarm1"
	case AlarmNight:
		return "alarm2"
	default:
		return ""
	}
}

// AlarmState is the raw state reported by the alarm node.
type AlarmState string

// Alarm states.
const (
	AlarmIdle            AlarmState = "idle"
	AlarmMainArming      AlarmState = "alarm1_arming"
	AlarmMainArmed       AlarmState = "alarm1_armed"
	AlarmMainAlertTimer  AlarmState = "alarm1_alert_timer"
	AlarmNightArming     AlarmState = "alarm2_arming"
	AlarmNightArmed      AlarmState = "alarm2_armed"
	AlarmNightAlertTimer AlarmState = "alarm2_alert_timer"
	AlarmAlert           AlarmState = "alert"
)

// Arming reports whether the alarm is counting down before being armed.
func (s AlarmState) Arming() bool {
	return s == AlarmMainArming || s == AlarmNightArming
}

// Kind returns the arming mode the state belongs to.
func (s AlarmState) Kind() AlarmKind {
	switch {
	case strings.HasPrefix(string(s), "alarm1"):
		return AlarmMain
	case strings.HasPrefix(string(s), "alarm2"):
		return AlarmNight
	default:
		return AlarmNone
	}
}

func (s AlarmState) known() bool {
	switch s {
	case AlarmIdle, AlarmMainArming, AlarmMainArmed, AlarmMainAlertTimer,
		AlarmNightArming, AlarmNightArmed, AlarmNightAlertTimer, AlarmAlert:
		return true
	}
	return false
}

// AlarmController drives the alarm node of the box.
//
// Thread Safety: all methods are safe for concurrent use.
type AlarmController struct {
	client *Client
	logger Logger

	mu     sync.Mutex
	node   *Node
	target AlarmKind
	arming bool
}

// NewAlarmController creates a controller. Discover must be called before
// any other operation.
func NewAlarmController(client *Client, logger Logger) *AlarmController {
	if logger == nil {
		logger = nopLogger{}
	}
	return &AlarmController{client: client, logger: logger}
}

// Discover selects the first alarm node of nodes.
//
// Returns:
//   - *Node: The alarm node, nil if none
//   - bool: Whether an alarm node was found
func (a *AlarmController) Discover(nodes []Node) (*Node, bool) {
	for i := range nodes {
		if nodes[i].Category == CategoryAlarm {
			node := nodes[i]
			a.mu.Lock()
			a.node = &node
			a.mu.Unlock()
			a.logger.Info("alarm node discovered", "node_id", node.ID, "label", node.Label)
			return &node, true
		}
	}
	return nil, false
}

// Node returns the discovered alarm node.
func (a *AlarmController) Node() (*Node, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.node, a.node != nil
}

// Target returns the arming mode seen on the last state read.
func (a *AlarmController) Target() AlarmKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target
}

// State reads the alarm state. It does not retry.
//
// An unrecognised state is returned along with ErrUnexpectedValue.
func (a *AlarmController) State(ctx context.Context) (AlarmState, error) {
	node, idx, err := a.endpoint("state")
	if err != nil {
		return "", err
	}
	value, err := a.client.Endpoint(ctx, node.ID, idx, freeboxos.NoRetry)
	if err != nil {
		return "", fmt.Errorf("reading alarm state: %w", err)
	}
	raw, err := value.String()
	if err != nil {
		return "", fmt.Errorf("reading alarm state: %w", err)
	}
	state := AlarmState(raw)

	a.mu.Lock()
	a.arming = state.Arming()
	a.target = state.Kind()
	a.mu.Unlock()

	if !state.known() {
		a.logger.Error("unknown alarm state", "state", raw)
		return state, fmt.Errorf("%w: alarm state %q", ErrUnexpectedValue, raw)
	}
	return state, nil
}

// SetMain arms the main alarm.
func (a *AlarmController) SetMain(ctx context.Context) (bool, error) {
	return a.Set(ctx, AlarmMain)
}

// SetNight arms the night alarm.
func (a *AlarmController) SetNight(ctx context.Context) (bool, error) {
	return a.Set(ctx, AlarmNight)
}

// Set arms the alarm in mode kind, disarming a different active mode first.
//
// Returns:
//   - bool: true when the activation was sent and accepted; false when
//     the alarm already runs in that mode
//   - error: ErrUnexpectedValue for AlarmNone, or any request failure
func (a *AlarmController) Set(ctx context.Context, kind AlarmKind) (bool, error) {
	name := kind.endpointName()
	if name == "" {
		return false, fmt.Errorf("%w: cannot arm alarm kind %s", ErrUnexpectedValue, kind)
	}
	activable, err := a.activable(ctx, kind)
	if err != nil || !activable {
		return false, err
	}

	node, idx, err := a.endpoint(name)
	if err != nil {
		return false, err
	}
	if _, err := a.client.SetEndpoint(ctx, node.ID, idx, map[string]any{"id": node.ID, "value": nil}); err != nil {
		return false, fmt.Errorf("arming %s alarm: %w", kind, err)
	}
	a.logger.Info("alarm armed", "kind", kind.String())
	return true, nil
}

// Disable disarms the alarm.
func (a *AlarmController) Disable(ctx context.Context) (bool, error) {
	node, idx, err := a.endpoint("off")
	if err != nil {
		return false, err
	}
	if _, err := a.client.SetEndpoint(ctx, node.ID, idx, map[string]any{"id": node.ID, "value": nil}); err != nil {
		return false, fmt.Errorf("disabling alarm: %w", err)
	}
	a.logger.Info("alarm disabled")
	return true, nil
}

// activable checks whether kind can be armed now, disarming another active
// mode on the way.
func (a *AlarmController) activable(ctx context.Context, kind AlarmKind) (bool, error) {
	a.mu.Lock()
	arming := a.arming
	a.mu.Unlock()
	if arming {
		return true, nil
	}

	state, err := a.State(ctx)
	if err != nil {
		return false, err
	}
	if state.Kind() == kind {
		a.logger.Debug("alarm already in requested mode", "kind", kind.String(), "state", string(state))
		return false, nil
	}
	if state != AlarmIdle {
		return a.Disable(ctx)
	}
	return true, nil
}

// endpoint resolves an endpoint of the alarm node. The endpoint id is its
// position in the node type's endpoint list.
func (a *AlarmController) endpoint(name string) (*Node, int, error) {
	a.mu.Lock()
	node := a.node
	a.mu.Unlock()
	if node == nil {
		return nil, 0, ErrNoAlarm
	}
	for i, ep := range node.Type.Endpoints {
		if ep.Name == name {
			return node, i, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: alarm %q", ErrEndpointNotFound, name)
}

// Triggered reports whether the alarm is sounding or about to.
func (s AlarmState) Triggered() bool {
	return s == AlarmAlert || s == AlarmMainAlertTimer || s == AlarmNightAlertTimer
}
