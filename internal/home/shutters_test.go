package home

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
)

func newTestShutters(t *testing.T) (*ShuttersController, *fakeRequester) {
	t.Helper()
	req := newFakeRequester()
	shutters := NewShuttersController(NewClient(req, testBase, nil), nil)
	blinds := shutters.Discover([]Node{alarmNode(), shutterNode(5), shutterNode(3)})
	if len(blinds) != 2 {
		t.Fatalf("Discover() = %d blinds, want 2", len(blinds))
	}
	return shutters, req
}

func TestShuttersController_Discover(t *testing.T) {
	shutters, _ := newTestShutters(t)

	blinds := shutters.Blinds()
	if blinds[0].NodeID != 3 || blinds[1].NodeID != 5 {
		t.Errorf("Blinds() order = %d, %d, want 3, 5", blinds[0].NodeID, blinds[1].NodeID)
	}
	if blinds[0].Name != "Volet 3" || blinds[0].Current != -1 || blinds[0].Target != -1 {
		t.Errorf("Blinds()[0] = %+v", blinds[0])
	}
	if _, err := shutters.Blind(99); !errors.Is(err, ErrUnknownBlind) {
		t.Errorf("Blind(99) error = %v, want ErrUnknownBlind", err)
	}
}

func TestShuttersController_Positions(t *testing.T) {
	shutters, req := newTestShutters(t)
	req.on(freeboxos.MethodGet, "/home/endpoints/3/4", value("int", `35`))
	req.on(freeboxos.MethodGet, "/home/endpoints/3/0", value("int", `"80"`))
	ctx := context.Background()

	current, err := shutters.CurrentPosition(ctx, 3)
	if err != nil {
		t.Fatalf("CurrentPosition() error = %v", err)
	}
	if current.Value != 35 || current.Refresh != 2*time.Second {
		t.Errorf("CurrentPosition() = %+v, want 35 with 2s refresh", current)
	}

	target, err := shutters.TargetPosition(ctx, 3)
	if err != nil {
		t.Fatalf("TargetPosition() error = %v", err)
	}
	if target.Value != 80 {
		t.Errorf("TargetPosition() = %+v, want 80", target)
	}

	b, _ := shutters.Blind(3)
	if b.Current != 35 || b.Target != 80 {
		t.Errorf("Blind(3) = %+v, want cached 35/80", b)
	}
	for _, r := range req.Requests() {
		if r.Policy != freeboxos.NoRetry {
			t.Errorf("%s policy = %v, want no_retry", r.Path, r.Policy)
		}
	}
}

func TestShuttersController_PositionWrongType(t *testing.T) {
	shutters, req := newTestShutters(t)
	req.on(freeboxos.MethodGet, "/home/endpoints/3/4", value("bool", `true`))

	if _, err := shutters.CurrentPosition(context.Background(), 3); !errors.Is(err, ErrUnexpectedValue) {
		t.Errorf("CurrentPosition() error = %v, want ErrUnexpectedValue", err)
	}
}

func TestShuttersController_SetPosition(t *testing.T) {
	tests := []struct {
		name     string
		call     func(context.Context, *ShuttersController) (bool, error)
		wantPath string
		wantBody any
	}{
		{"set", func(ctx context.Context, s *ShuttersController) (bool, error) { return s.SetPosition(ctx, 3, 40) }, "/home/endpoints/3/0", 40},
		{"open", func(ctx context.Context, s *ShuttersController) (bool, error) { return s.Open(ctx, 3) }, "/home/endpoints/3/0", 0},
		{"close", func(ctx context.Context, s *ShuttersController) (bool, error) { return s.Close(ctx, 3) }, "/home/endpoints/3/0", 100},
		{"stop", func(ctx context.Context, s *ShuttersController) (bool, error) { return s.Stop(ctx, 3) }, "/home/endpoints/3/1", nil},
		{"toggle via ui access", func(ctx context.Context, s *ShuttersController) (bool, error) { return s.Toggle(ctx, 3) }, "/home/endpoints/3/2", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutters, req := newTestShutters(t)
			req.on(freeboxos.MethodPut, tt.wantPath, value("bool", `true`))

			ok, err := tt.call(context.Background(), shutters)
			if err != nil || !ok {
				t.Fatalf("call = %v, %v, want true", ok, err)
			}

			writes := req.writes()
			if len(writes) != 1 || writes[0].Path != tt.wantPath {
				t.Fatalf("writes = %+v, want one to %s", writes, tt.wantPath)
			}
			if tt.wantBody == nil {
				if writes[0].Body != nil {
					t.Errorf("body = %#v, want none", writes[0].Body)
				}
				return
			}
			body, _ := writes[0].Body.(map[string]any)
			if body["value"] != tt.wantBody {
				t.Errorf("body = %#v, want value %v", writes[0].Body, tt.wantBody)
			}
			if b, _ := shutters.Blind(3); b.Target != tt.wantBody {
				t.Errorf("Target = %d, want %v", b.Target, tt.wantBody)
			}
		})
	}
}

func TestShuttersController_SetPositionErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("out of range", func(t *testing.T) {
		shutters, req := newTestShutters(t)
		for _, p := range []int{-1, 101} {
			if _, err := shutters.SetPosition(ctx, 3, p); !errors.Is(err, ErrInvalidPosition) {
				t.Errorf("SetPosition(%d) error = %v, want ErrInvalidPosition", p, err)
			}
		}
		if n := len(req.Requests()); n != 0 {
			t.Errorf("requests = %d, want 0", n)
		}
	})

	t.Run("unknown shutter", func(t *testing.T) {
		shutters, _ := newTestShutters(t)
		if _, err := shutters.Stop(ctx, 42); !errors.Is(err, ErrUnknownBlind) {
			t.Errorf("Stop(42) error = %v, want ErrUnknownBlind", err)
		}
	})

	t.Run("missing endpoint", func(t *testing.T) {
		req := newFakeRequester()
		shutters := NewShuttersController(NewClient(req, testBase, nil), nil)
		node := shutterNode(3)
		node.ShowEndpoints = node.ShowEndpoints[3:] // read-only position only
		shutters.Discover([]Node{node})

		if _, err := shutters.SetPosition(ctx, 3, 50); !errors.Is(err, ErrEndpointNotFound) {
			t.Errorf("SetPosition() error = %v, want ErrEndpointNotFound", err)
		}
	})

	t.Run("ack is not a bool", func(t *testing.T) {
		shutters, req := newTestShutters(t)
		req.on(freeboxos.MethodPut, "/home/endpoints/3/0", value("int", `1`))
		if _, err := shutters.SetPosition(ctx, 3, 50); !errors.Is(err, ErrUnexpectedValue) {
			t.Errorf("SetPosition() error = %v, want ErrUnexpectedValue", err)
		}
		if b, _ := shutters.Blind(3); b.Target != -1 {
			t.Errorf("Target = %d, want unchanged -1", b.Target)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		shutters, req := newTestShutters(t)
		req.on(freeboxos.MethodPut, "/home/endpoints/3/1", `{"success":false,"error_code":"busy"}`)
		if ok, err := shutters.Stop(ctx, 3); ok || !errors.Is(err, ErrRejected) {
			t.Errorf("Stop() = %v, %v, want false, ErrRejected", ok, err)
		}
	})
}
