package home

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
)

// Shutter positions. 0 is fully open, 100 fully closed.
const (
	PositionOpen   = 0
	PositionClosed = 100
)

// Shutter endpoint names.
const (
	endpointPositionSet = "position_set"
	endpointStop        = "stop"
	endpointToggle      = "toggle"
)

// Blind is a shutter node with its endpoints and last known positions.
type Blind struct {
	NodeID        int
	Name          string
	ShowEndpoints []Endpoint
	Endpoints     []Endpoint

	// Current and Target are -1 until read.
	Current int
	Target  int
}

// Position is a shutter position read from the box.
type Position struct {
	Value int

	// Refresh is the delay the box asks for before the next read.
	Refresh time.Duration
}

// ShuttersController drives the shutter nodes of the box.
//
// Thread Safety: all methods are safe for concurrent use.
type ShuttersController struct {
	client *Client
	logger Logger

	mu     sync.Mutex
	blinds map[int]*Blind
}

// NewShuttersController creates a controller. Discover must be called
// before any other operation.
func NewShuttersController(client *Client, logger Logger) *ShuttersController {
	if logger == nil {
		logger = nopLogger{}
	}
	return &ShuttersController{client: client, logger: logger, blinds: make(map[int]*Blind)}
}

// Discover registers every shutter of nodes, replacing previous results.
//
// Returns:
//   - []Blind: The shutters found, sorted by node id
func (s *ShuttersController) Discover(nodes []Node) []Blind {
	blinds := make(map[int]*Blind)
	for _, n := range nodes {
		if n.Category != CategoryShutter {
			continue
		}
		blinds[n.ID] = &Blind{
			NodeID:        n.ID,
			Name:          n.Label,
			ShowEndpoints: n.ShowEndpoints,
			Endpoints:     n.Type.Endpoints,
			Current:       -1,
			Target:        -1,
		}
	}

	s.mu.Lock()
	s.blinds = blinds
	s.mu.Unlock()

	s.logger.Info("shutters discovered", "count", len(blinds))
	return s.Blinds()
}

// Blinds returns a snapshot of the known shutters, sorted by node id.
func (s *ShuttersController) Blinds() []Blind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Blind, 0, len(s.blinds))
	for _, b := range s.blinds {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Blind returns a snapshot of one shutter.
func (s *ShuttersController) Blind(nodeID int) (Blind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blinds[nodeID]
	if !ok {
		return Blind{}, fmt.Errorf("%w: node %d", ErrUnknownBlind, nodeID)
	}
	return *b, nil
}

// CurrentPosition reads where the shutter is now. It does not retry.
func (s *ShuttersController) CurrentPosition(ctx context.Context, nodeID int) (Position, error) {
	pos, err := s.readPosition(ctx, nodeID, AccessRead)
	if err != nil {
		return Position{}, err
	}
	s.update(nodeID, func(b *Blind) { b.Current = pos.Value })
	return pos, nil
}

// TargetPosition reads where the shutter is heading. It does not retry.
func (s *ShuttersController) TargetPosition(ctx context.Context, nodeID int) (Position, error) {
	pos, err := s.readPosition(ctx, nodeID, AccessWrite)
	if err != nil {
		return Position{}, err
	}
	s.update(nodeID, func(b *Blind) { b.Target = pos.Value })
	return pos, nil
}

// SetPosition moves the shutter to position (0 open, 100 closed).
//
// Parameters:
//   - ctx: Context for cancellation
//   - nodeID: Shutter node id
//   - position: Target position in [0,100]
//
// Returns:
//   - bool: The acknowledgement value returned by the box
//   - error: ErrInvalidPosition, ErrUnknownBlind or a request failure
func (s *ShuttersController) SetPosition(ctx context.Context, nodeID, position int) (bool, error) {
	if position < PositionOpen || position > PositionClosed {
		return false, fmt.Errorf("%w: %d not in [0,100]", ErrInvalidPosition, position)
	}
	ok, err := s.send(ctx, nodeID, endpointPositionSet, map[string]any{"value": position})
	if err != nil {
		return false, err
	}
	s.update(nodeID, func(b *Blind) { b.Target = position })
	return ok, nil
}

// Open fully opens the shutter.
func (s *ShuttersController) Open(ctx context.Context, nodeID int) (bool, error) {
	return s.SetPosition(ctx, nodeID, PositionOpen)
}

// Close fully closes the shutter.
func (s *ShuttersController) Close(ctx context.Context, nodeID int) (bool, error) {
	return s.SetPosition(ctx, nodeID, PositionClosed)
}

// Stop halts a moving shutter.
func (s *ShuttersController) Stop(ctx context.Context, nodeID int) (bool, error) {
	return s.send(ctx, nodeID, endpointStop, nil)
}

// Toggle reverses the movement of the shutter.
func (s *ShuttersController) Toggle(ctx context.Context, nodeID int) (bool, error) {
	return s.send(ctx, nodeID, endpointToggle, nil)
}

func (s *ShuttersController) readPosition(ctx context.Context, nodeID int, mode AccessMode) (Position, error) {
	epID, err := s.endpointID(nodeID, endpointPositionSet, mode)
	if err != nil {
		return Position{}, err
	}
	value, err := s.client.Endpoint(ctx, nodeID, epID, freeboxos.NoRetry)
	if err != nil {
		return Position{}, fmt.Errorf("reading shutter %d position: %w", nodeID, err)
	}
	n, err := value.Int()
	if err != nil {
		return Position{}, fmt.Errorf("reading shutter %d position: %w", nodeID, err)
	}
	return Position{Value: n, Refresh: value.RefreshInterval()}, nil
}

func (s *ShuttersController) send(ctx context.Context, nodeID int, name string, payload any) (bool, error) {
	epID, err := s.endpointID(nodeID, name, AccessWrite)
	if err != nil {
		return false, err
	}
	value, err := s.client.SetEndpoint(ctx, nodeID, epID, payload)
	if err != nil {
		return false, fmt.Errorf("shutter %d %s: %w", nodeID, name, err)
	}
	ok, err := value.Bool()
	if err != nil {
		return false, fmt.Errorf("shutter %d %s: %w", nodeID, name, err)
	}
	s.logger.Debug("shutter command sent", "node_id", nodeID, "endpoint", name, "ack", ok)
	return ok, nil
}

// endpointID finds the shown endpoint called name that grants mode.
func (s *ShuttersController) endpointID(nodeID int, name string, mode AccessMode) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blinds[nodeID]
	if !ok {
		return 0, fmt.Errorf("%w: node %d", ErrUnknownBlind, nodeID)
	}
	for _, ep := range b.ShowEndpoints {
		if ep.Name == name && ep.allows(mode) {
			return ep.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: shutter %d %s (%s)", ErrEndpointNotFound, nodeID, name, mode)
}

func (s *ShuttersController) update(nodeID int, fn func(*Blind)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blinds[nodeID]; ok {
		fn(b)
	}
}
