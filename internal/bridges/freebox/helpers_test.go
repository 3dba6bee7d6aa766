package freebox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
	"github.com/nerrad567/gray-logic-freebox/internal/home"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/influxdb"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	publishErr    error
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Disconnect(uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// PublishedTo returns the messages published on topic.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers a message to the handler whose pattern matches
// topic. Only the single-level "+" wildcard is supported.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(string, []byte)
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

func topicMatches(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	if len(p) != len(t) {
		return false
	}
	for i := range p {
		if p[i] != "+" && p[i] != t[i] {
			return false
		}
	}
	return true
}

// fakeGateway implements Gateway.
type fakeGateway struct {
	mu    sync.Mutex
	stats freeboxos.Stats
}

func (g *fakeGateway) Stats() freeboxos.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// fakeAlarm implements Alarm.
type fakeAlarm struct {
	mu       sync.Mutex
	node     *home.Node
	state    home.AlarmState
	stateErr error
	setErr   error
	calls    []string
}

func newFakeAlarm() *fakeAlarm {
	return &fakeAlarm{
		node:  &home.Node{ID: 7, Label: "Alarme", Category: home.CategoryAlarm},
		state: home.AlarmIdle,
	}
}

func (a *fakeAlarm) Node() (*home.Node, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.node, a.node != nil
}

func (a *fakeAlarm) State(context.Context) (home.AlarmState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.stateErr
}

func (a *fakeAlarm) Set(_ context.Context, kind home.AlarmKind) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "arm:"+kind.String())
	return a.setErr == nil, a.setErr
}

func (a *fakeAlarm) Disable(context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "disarm")
	return a.setErr == nil, a.setErr
}

func (a *fakeAlarm) setState(state home.AlarmState, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
	a.stateErr = err
}

func (a *fakeAlarm) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// fakeShutters implements Shutters.
type fakeShutters struct {
	mu       sync.Mutex
	blinds   []home.Blind
	current  map[int]int
	target   map[int]int
	readErr  error
	writeErr error
	nack     bool
	calls    []string
}

func newFakeShutters(ids ...int) *fakeShutters {
	s := &fakeShutters{current: make(map[int]int), target: make(map[int]int)}
	for _, id := range ids {
		s.blinds = append(s.blinds, home.Blind{NodeID: id, Name: fmt.Sprintf("Volet %d", id), Current: -1, Target: -1})
		s.current[id] = 0
		s.target[id] = 0
	}
	return s
}

func (s *fakeShutters) Blinds() []home.Blind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]home.Blind(nil), s.blinds...)
}

func (s *fakeShutters) CurrentPosition(_ context.Context, nodeID int) (home.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return home.Position{}, s.readErr
	}
	return home.Position{Value: s.current[nodeID], Refresh: 2 * time.Second}, nil
}

func (s *fakeShutters) TargetPosition(_ context.Context, nodeID int) (home.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return home.Position{}, s.readErr
	}
	return home.Position{Value: s.target[nodeID]}, nil
}

func (s *fakeShutters) record(call string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if s.writeErr != nil {
		return false, s.writeErr
	}
	return !s.nack, nil
}

func (s *fakeShutters) SetPosition(_ context.Context, nodeID, position int) (bool, error) {
	return s.record(fmt.Sprintf("set_position:%d:%d", nodeID, position))
}

func (s *fakeShutters) Open(_ context.Context, nodeID int) (bool, error) {
	return s.record(fmt.Sprintf("open:%d", nodeID))
}

func (s *fakeShutters) Close(_ context.Context, nodeID int) (bool, error) {
	return s.record(fmt.Sprintf("close:%d", nodeID))
}

func (s *fakeShutters) Stop(_ context.Context, nodeID int) (bool, error) {
	return s.record(fmt.Sprintf("stop:%d", nodeID))
}

func (s *fakeShutters) Toggle(_ context.Context, nodeID int) (bool, error) {
	return s.record(fmt.Sprintf("toggle:%d", nodeID))
}

func (s *fakeShutters) setPositions(nodeID, current, target int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[nodeID] = current
	s.target[nodeID] = target
}

func (s *fakeShutters) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// fakeTelemetry implements Telemetry.
type fakeTelemetry struct {
	mu       sync.Mutex
	shutters []string
	alarms   []string
	stats    []influxdb.RequestCounters
}

func (f *fakeTelemetry) WriteShutterPosition(nodeID int, _ string, current, target int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutters = append(f.shutters, fmt.Sprintf("%d:%d:%d", nodeID, current, target))
}

func (f *fakeTelemetry) WriteAlarmState(nodeID int, state string, triggered bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarms = append(f.alarms, fmt.Sprintf("%d:%s:%v", nodeID, state, triggered))
}

func (f *fakeTelemetry) WriteExecutorStats(_ string, counters influxdb.RequestCounters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, counters)
}

type testRig struct {
	bridge    *Bridge
	mqtt      *MockMQTTClient
	gateway   *fakeGateway
	alarm     *fakeAlarm
	shutters  *fakeShutters
	telemetry *fakeTelemetry
}

// newTestRig builds a bridge with an alarm and shutters 12 and 13. The
// device table is filled as Start would, without starting the loops.
func newTestRig(t *testing.T) *testRig {
	t.Helper()

	rig := &testRig{
		mqtt:      NewMockMQTTClient(),
		gateway:   &fakeGateway{stats: freeboxos.Stats{Requests: 5, Retries: 1}},
		alarm:     newFakeAlarm(),
		shutters:  newFakeShutters(12, 13),
		telemetry: &fakeTelemetry{},
	}
	b, err := NewBridge(BridgeOptions{
		BridgeID:     "freebox",
		Version:      "test",
		Address:      "http://box.test/api/v8",
		PollInterval: time.Hour,
		MQTTClient:   rig.mqtt,
		Gateway:      rig.gateway,
		Alarm:        rig.alarm,
		Shutters:     rig.shutters,
		Telemetry:    rig.telemetry,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	node, _ := rig.alarm.Node()
	b.devices = buildDevices(node, rig.shutters.Blinds())
	t.Cleanup(b.ctxCancel)

	rig.bridge = b
	return rig
}

// acks decodes the acks published for device.
func (r *testRig) acks(t *testing.T, deviceID string) []AckMessage {
	t.Helper()
	var out []AckMessage
	for _, p := range r.mqtt.PublishedTo("graylogic/ack/freebox/" + deviceID) {
		var ack AckMessage
		if err := json.Unmarshal(p.Payload, &ack); err != nil {
			t.Fatalf("unmarshal ack: %v", err)
		}
		out = append(out, ack)
	}
	return out
}

// states decodes the states published for device.
func (r *testRig) states(t *testing.T, deviceID string) []StateMessage {
	t.Helper()
	var out []StateMessage
	for _, p := range r.mqtt.PublishedTo("graylogic/state/freebox/" + deviceID) {
		if !p.Retained {
			t.Errorf("state on %s not retained", p.Topic)
		}
		var msg StateMessage
		if err := json.Unmarshal(p.Payload, &msg); err != nil {
			t.Fatalf("unmarshal state: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func command(deviceID, name string, params map[string]any) CommandMessage {
	return CommandMessage{
		ID:         "cmd-1",
		Timestamp:  time.Now().UTC(),
		DeviceID:   deviceID,
		Command:    name,
		Parameters: params,
		Source:     "api",
	}
}

// waitFor polls cond until it holds or a second elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
