package freebox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
	"github.com/nerrad567/gray-logic-freebox/internal/home"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-freebox/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one command, including the time it waits behind
	// other gateway calls.
	commandTimeout = 30 * time.Second

	// commandQueueSize is the number of commands buffered before new ones
	// are refused.
	commandQueueSize = 32

	defaultPollInterval = 30 * time.Second
)

// Bridge exposes the alarm and shutters of a Freebox on the Gray Logic MQTT
// bus. It handles:
//   - Receiving commands from Core via MQTT and executing them on the box
//   - Polling the box and publishing state changes to MQTT
//   - Health reporting, telemetry and graceful shutdown
//
// Commands are executed one at a time in arrival order.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID     string
	pollInterval time.Duration

	mqtt      MQTTClient
	gateway   Gateway
	alarm     Alarm
	shutters  Shutters
	telemetry Telemetry
	health    *HealthReporter

	devices   map[string]device
	devicesMu sync.RWMutex

	// State cache for change detection
	stateCache   map[string]map[string]any
	stateCacheMu sync.Mutex

	commands chan CommandMessage
	poke     chan struct{}

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// Gateway exposes the request executor counters.
// It is satisfied by *freeboxos.Executor.
type Gateway interface {
	Stats() freeboxos.Stats
}

// Alarm is satisfied by *home.AlarmController.
type Alarm interface {
	Node() (*home.Node, bool)
	State(ctx context.Context) (home.AlarmState, error)
	Set(ctx context.Context, kind home.AlarmKind) (bool, error)
	Disable(ctx context.Context) (bool, error)
}

// Shutters is satisfied by *home.ShuttersController.
type Shutters interface {
	Blinds() []home.Blind
	CurrentPosition(ctx context.Context, nodeID int) (home.Position, error)
	TargetPosition(ctx context.Context, nodeID int) (home.Position, error)
	SetPosition(ctx context.Context, nodeID, position int) (bool, error)
	Open(ctx context.Context, nodeID int) (bool, error)
	Close(ctx context.Context, nodeID int) (bool, error)
	Stop(ctx context.Context, nodeID int) (bool, error)
	Toggle(ctx context.Context, nodeID int) (bool, error)
}

// Telemetry records time series. It is satisfied by *influxdb.Client and is
// optional.
type Telemetry interface {
	WriteShutterPosition(nodeID int, name string, current, target int)
	WriteAlarmState(nodeID int, state string, triggered bool)
	WriteExecutorStats(bridgeID string, counters influxdb.RequestCounters)
}

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies the bridge in health messages and telemetry.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Address is the gateway API base URL, reported in health messages.
	Address string

	// PollInterval is how often device state is read from the box.
	PollInterval time.Duration

	// HealthInterval is how often health is published.
	HealthInterval time.Duration

	MQTTClient MQTTClient
	Gateway    Gateway

	// Alarm and Shutters are the discovered controllers. Either may be nil
	// when the box has no such node, but not both.
	Alarm    Alarm
	Shutters Shutters

	// Telemetry is optional.
	Telemetry Telemetry

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge id is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if opts.Alarm == nil && opts.Shutters == nil {
		return nil, fmt.Errorf("an alarm or shutters controller is required")
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:     opts.BridgeID,
		pollInterval: pollInterval,
		mqtt:         opts.MQTTClient,
		gateway:      opts.Gateway,
		alarm:        opts.Alarm,
		shutters:     opts.Shutters,
		telemetry:    opts.Telemetry,
		devices:      make(map[string]device),
		stateCache:   make(map[string]map[string]any),
		commands:     make(chan CommandMessage, commandQueueSize),
		poke:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		ctx:          ctx,
		ctxCancel:    ctxCancel,
		logger:       opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Address:   opts.Address,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Gateway:   opts.Gateway,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Health returns the bridge health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start begins bridge operation.
// This builds the device table, subscribes to command topics, announces
// the devices and starts the polling and health loops.
func (b *Bridge) Start(ctx context.Context) error {
	var alarmNode *home.Node
	if b.alarm != nil {
		alarmNode, _ = b.alarm.Node()
	}
	var blinds []home.Blind
	if b.shutters != nil {
		blinds = b.shutters.Blinds()
	}
	devices := buildDevices(alarmNode, blinds)

	b.devicesMu.Lock()
	b.devices = devices
	b.devicesMu.Unlock()
	b.health.SetDeviceCount(len(devices))

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := mqtt.Topics{}.BridgeCommands(Protocol)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.publishDiscovery(devices)

	b.health.Start(ctx)

	b.wg.Add(2)
	go b.commandLoop()
	go b.pollLoop(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.bridgeID,
		"devices", len(devices))

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort queued gateway calls
		b.ctxCancel()
		b.wg.Wait()

		// Stop health reporting last so "stopping" is the final status
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// handleMQTTMessage queues a command received on graylogic/command/freebox/{device}.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	deviceID := mqtt.DeviceFromTopic(topic)
	if deviceID == "" {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID != deviceID {
		if cmd.DeviceID != "" {
			b.logDebug("command device overridden by topic",
				"payload_device", cmd.DeviceID,
				"topic_device", deviceID)
		}
		cmd.DeviceID = deviceID
	}

	select {
	case b.commands <- cmd:
	default:
		b.publishAckError(cmd, "", ErrCodeBridgeError, ErrQueueFull.Error(), 0)
	}
}

func (b *Bridge) commandLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case cmd := <-b.commands:
			b.executeCommand(cmd)
		}
	}
}

// executeCommand validates cmd, acknowledges it and runs it on the box.
func (b *Bridge) executeCommand(cmd CommandMessage) {
	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	b.devicesMu.RLock()
	dev, ok := b.devices[cmd.DeviceID]
	b.devicesMu.RUnlock()

	if !ok {
		err := fmt.Errorf("%w: %s not configured", ErrUnknownDevice, cmd.DeviceID)
		b.publishAckError(cmd, "", ErrCodeNotConfigured, err.Error(), 0)
		return
	}
	if err := dev.supports(cmd.Command); err != nil {
		b.publishAckError(cmd, dev.address(), ErrCodeInvalidCommand, err.Error(), 0)
		return
	}

	action, err := b.action(dev, cmd)
	if err != nil {
		b.publishAckError(cmd, dev.address(), ErrCodeInvalidParameters, err.Error(), 0)
		return
	}

	// Publish accepted ack before sending
	b.publishAck(cmd, dev.address(), AckAccepted)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := action(ctx); err != nil {
		code, retries := ackCode(err)
		b.publishAckError(cmd, dev.address(), code, err.Error(), retries)
		return
	}

	b.requestPoll()
}

// action resolves the gateway call for a validated command.
func (b *Bridge) action(dev device, cmd CommandMessage) (func(context.Context) error, error) {
	if dev.kind == deviceTypeAlarm {
		var run func(context.Context) (bool, error)
		switch cmd.Command {
		case CommandArmMain:
			run = func(ctx context.Context) (bool, error) { return b.alarm.Set(ctx, home.AlarmMain) }
		case CommandArmNight:
			run = func(ctx context.Context) (bool, error) { return b.alarm.Set(ctx, home.AlarmNight) }
		default:
			run = b.alarm.Disable
		}
		// A false result only means the alarm already runs in that mode.
		return func(ctx context.Context) error {
			_, err := run(ctx)
			return err
		}, nil
	}

	nodeID := dev.nodeID
	var run func(context.Context, int) (bool, error)
	switch cmd.Command {
	case CommandSetPosition:
		position, err := positionParam(cmd.Parameters)
		if err != nil {
			return nil, err
		}
		run = func(ctx context.Context, id int) (bool, error) { return b.shutters.SetPosition(ctx, id, position) }
	case CommandOpen:
		run = b.shutters.Open
	case CommandClose:
		run = b.shutters.Close
	case CommandStop:
		run = b.shutters.Stop
	default:
		run = b.shutters.Toggle
	}
	return func(ctx context.Context) error {
		ok, err := run(ctx, nodeID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: shutter %d %s", ErrNotAcknowledged, nodeID, cmd.Command)
		}
		return nil
	}, nil
}

// positionParam reads the set_position "position" parameter.
func positionParam(params map[string]any) (int, error) {
	posAny, ok := params["position"]
	if !ok {
		return 0, fmt.Errorf("%w: missing 'position' parameter", ErrInvalidParameters)
	}
	position, ok := posAny.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: 'position' must be a number", ErrInvalidParameters)
	}
	if position < home.PositionOpen || position > home.PositionClosed {
		return 0, fmt.Errorf("%w: 'position' must be 0-100, got %.2f", ErrInvalidParameters, position)
	}
	return int(math.Round(position)), nil
}

// ackCode maps a command failure to an ack error code and retry count.
func ackCode(err error) (string, int) {
	retries := 0
	var apiErr *freeboxos.APIError
	if errors.As(err, &apiErr) {
		retries = apiErr.Retries
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout, retries
	case errors.Is(err, home.ErrInvalidPosition):
		return ErrCodeInvalidParameters, retries
	case errors.Is(err, home.ErrNoAlarm),
		errors.Is(err, home.ErrUnknownBlind),
		errors.Is(err, home.ErrEndpointNotFound):
		return ErrCodeNotConfigured, retries
	case errors.Is(err, freeboxos.ErrInsufficientRights):
		return ErrCodePermissionDenied, retries
	case errors.Is(err, freeboxos.ErrProtocol),
		errors.Is(err, freeboxos.ErrInvalidReply),
		errors.Is(err, home.ErrRejected),
		errors.Is(err, home.ErrUnexpectedValue):
		return ErrCodeProtocolError, retries
	case errors.Is(err, freeboxos.ErrClosed),
		errors.Is(err, context.Canceled):
		return ErrCodeBridgeError, retries
	default:
		return ErrCodeDeviceUnreachable, retries
	}
}

// requestPoll schedules an early poll so command effects show up quickly.
func (b *Bridge) requestPoll() {
	select {
	case b.poke <- struct{}{}:
	default:
	}
}

func (b *Bridge) pollLoop(ctx context.Context) {
	defer b.wg.Done()

	b.pollOnce()
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.pollOnce()
		case <-b.poke:
			b.pollOnce()
		}
	}
}

func (b *Bridge) pollOnce() {
	if err := b.Poll(b.ctx); err != nil && b.ctx.Err() == nil {
		b.logWarn("poll failed", "error", err)
	}
}

// Poll reads the alarm state and every shutter position once, publishing
// retained state for devices whose state changed.
//
// Values the box reports as not updated, or cannot serve while overloaded,
// are skipped. The joined remaining errors are recorded for health
// reporting and returned.
func (b *Bridge) Poll(ctx context.Context) error {
	var errs []error

	if b.alarm != nil {
		if node, ok := b.alarm.Node(); ok {
			errs = append(errs, b.pollAlarm(ctx, node))
		}
	}
	if b.shutters != nil {
		for _, blind := range b.shutters.Blinds() {
			errs = append(errs, b.pollShutter(ctx, blind))
		}
	}

	if b.telemetry != nil {
		stats := b.gateway.Stats()
		b.telemetry.WriteExecutorStats(b.bridgeID, influxdb.RequestCounters{
			Requests: stats.Requests,
			Retries:  stats.Retries,
			Renewals: stats.Renewals,
			Failures: stats.Failures,
			Queued:   stats.Queued,
		})
	}

	err := errors.Join(errs...)
	b.health.RecordPoll(err)
	return err
}

func (b *Bridge) pollAlarm(ctx context.Context, node *home.Node) error {
	state, err := b.alarm.State(ctx)
	if skippable(err) {
		b.logDebug("alarm state not refreshed", "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("polling alarm: %w", err)
	}

	changed := b.publishState(AlarmDeviceID, node.ID, map[string]any{
		"state":     string(state),
		"mode":      state.Kind().String(),
		"arming":    state.Arming(),
		"triggered": state.Triggered(),
	})
	if changed && b.telemetry != nil {
		b.telemetry.WriteAlarmState(node.ID, string(state), state.Triggered())
	}
	return nil
}

func (b *Bridge) pollShutter(ctx context.Context, blind home.Blind) error {
	current, err := b.shutters.CurrentPosition(ctx, blind.NodeID)
	if skippable(err) {
		b.logDebug("shutter position not refreshed", "node_id", blind.NodeID, "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("polling shutter %d: %w", blind.NodeID, err)
	}
	target, err := b.shutters.TargetPosition(ctx, blind.NodeID)
	if skippable(err) {
		b.logDebug("shutter target not refreshed", "node_id", blind.NodeID, "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("polling shutter %d: %w", blind.NodeID, err)
	}

	changed := b.publishState(ShutterDeviceID(blind.NodeID), blind.NodeID, map[string]any{
		"position": current.Value,
		"target":   target.Value,
	})
	if changed && b.telemetry != nil {
		b.telemetry.WriteShutterPosition(blind.NodeID, blind.Name, current.Value, target.Value)
	}
	return nil
}

// skippable reports whether a read failure just means there is nothing new.
func skippable(err error) bool {
	return errors.Is(err, freeboxos.ErrNotUpdated) || errors.Is(err, freeboxos.ErrRetryLater)
}

// publishState publishes retained state when it differs from the last
// published value. It reports whether the state changed.
func (b *Bridge) publishState(deviceID string, nodeID int, state map[string]any) bool {
	if b.stateUnchanged(deviceID, state) {
		return false
	}

	msg := NewStateMessage(deviceID, strconv.Itoa(nodeID), state)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return true
	}

	topic := mqtt.Topics{}.BridgeState(Protocol, deviceID)
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
		// Publish again on the next poll.
		b.forgetState(deviceID)
	}
	return true
}

// stateUnchanged checks if state matches the cached state.
// Returns true if unchanged (should skip publish).
func (b *Bridge) stateUnchanged(deviceID string, state map[string]any) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if cached, ok := b.stateCache[deviceID]; ok && maps.Equal(cached, state) {
		return true
	}
	b.stateCache[deviceID] = state
	return false
}

func (b *Bridge) forgetState(deviceID string) {
	b.stateCacheMu.Lock()
	delete(b.stateCache, deviceID)
	b.stateCacheMu.Unlock()
}

// ClearStateCache forces every device state to be published on the next
// poll. Call it after the MQTT connection is re-established.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()
	b.stateCache = make(map[string]map[string]any)
}

func (b *Bridge) publishDiscovery(devices map[string]device) {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.bridgeID,
		Devices:   discovered(devices),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.BridgeDiscovery(Protocol), payload, 1, true); err != nil {
		b.logError("failed to publish discovery", err)
	}
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, address string, status AckStatus) {
	ack := NewAckMessage(cmd, status, address)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := mqtt.Topics{}.BridgeAck(Protocol, cmd.DeviceID)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string, retries int) {
	ack := NewAckError(cmd, address, code, message, retries)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}

	topic := mqtt.Topics{}.BridgeAck(Protocol, cmd.DeviceID)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logWarn("command failed",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"code", code,
		"message", message)
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
