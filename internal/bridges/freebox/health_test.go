package freebox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
)

func newTestReporter(pub *MockMQTTClient) *HealthReporter {
	return NewHealthReporter(HealthReporterConfig{
		BridgeID:  "freebox",
		Version:   "1.2.3",
		Address:   "https://box.test:4242/api/v8",
		Interval:  time.Hour,
		Publisher: pub,
		Gateway:   &fakeGateway{stats: freeboxos.Stats{Requests: 10, Retries: 2, Renewals: 1, Failures: 3, Queued: 4}},
	})
}

func TestDetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		pollErr    error
		wantStatus HealthStatus
		wantReason string
	}{
		{"healthy", true, nil, HealthHealthy, ""},
		{"mqtt down", false, nil, HealthDegraded, "MQTT disconnected"},
		{"gateway unreachable", true, errors.New("dial tcp: refused"), HealthDegraded, "dial tcp: refused"},
		{"authorization refused", true, fmt.Errorf("polling alarm: %w", freeboxos.ErrAuthorizationRefused), HealthUnhealthy, ""},
		{"no session", true, freeboxos.ErrNoSession, HealthUnhealthy, ""},
		{"executor closed", true, freeboxos.ErrClosed, HealthUnhealthy, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := NewMockMQTTClient()
			pub.connected = tt.connected
			h := newTestReporter(pub)
			h.RecordPoll(tt.pollErr)

			status, reason := h.determineStatus()
			if status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status, tt.wantStatus)
			}
			if tt.wantReason != "" && reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
			if tt.pollErr != nil && tt.connected && reason == "" {
				t.Error("reason is empty for a failed poll")
			}
		})
	}
}

func TestHealthPublishNow(t *testing.T) {
	pub := NewMockMQTTClient()
	h := newTestReporter(pub)
	h.SetDeviceCount(3)

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	h.RecordPoll(nil)
	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	pubs := pub.PublishedTo("graylogic/health/freebox")
	if len(pubs) != 2 {
		t.Fatalf("health publishes = %d, want 2", len(pubs))
	}
	if !pubs[0].Retained || pubs[0].QoS != 1 {
		t.Errorf("health publish qos=%d retained=%v, want 1 retained", pubs[0].QoS, pubs[0].Retained)
	}

	var before, after HealthMessage
	if err := json.Unmarshal(pubs[0].Payload, &before); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(pubs[1].Payload, &after); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if before.Connection == nil || before.Connection.Status != "disconnected" || before.Connection.LastSuccess != nil {
		t.Errorf("connection before first poll = %+v", before.Connection)
	}
	if after.Connection.Status != "connected" || after.Connection.LastSuccess == nil {
		t.Errorf("connection after poll = %+v", after.Connection)
	}
	if after.Connection.Address != "https://box.test:4242/api/v8" {
		t.Errorf("address = %q", after.Connection.Address)
	}

	if after.Bridge != "freebox" || after.Version != "1.2.3" || after.Status != HealthHealthy {
		t.Errorf("health = %+v", after)
	}
	if after.DevicesManaged != 3 {
		t.Errorf("DevicesManaged = %d, want 3", after.DevicesManaged)
	}
	want := BridgeStatistics{Requests: 10, Retries: 2, Renewals: 1, Errors: 3, Queued: 4}
	if after.Statistics == nil || *after.Statistics != want {
		t.Errorf("Statistics = %+v, want %+v", after.Statistics, want)
	}
}

func TestHealthFailedPollKeepsLastSuccess(t *testing.T) {
	pub := NewMockMQTTClient()
	h := newTestReporter(pub)

	h.RecordPoll(nil)
	h.RecordPoll(errors.New("timeout"))
	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	var msg HealthMessage
	if err := json.Unmarshal(pub.GetPublished()[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthDegraded || msg.Reason != "timeout" {
		t.Errorf("status = %s (%s), want degraded (timeout)", msg.Status, msg.Reason)
	}
	if msg.Connection.Status != "disconnected" || msg.Connection.LastSuccess == nil {
		t.Errorf("connection = %+v, want disconnected with last success", msg.Connection)
	}
}

func TestHealthStartStop(t *testing.T) {
	pub := NewMockMQTTClient()
	h := newTestReporter(pub)

	h.Start(context.Background())
	h.Stop()
	h.Stop()

	pubs := pub.GetPublished()
	if len(pubs) != 1 {
		t.Fatalf("publishes = %d, want one stopping status", len(pubs))
	}
	var msg HealthMessage
	if err := json.Unmarshal(pubs[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthStopping {
		t.Errorf("status = %s, want stopping", msg.Status)
	}
}

func TestHealthPublishStarting(t *testing.T) {
	pub := NewMockMQTTClient()
	h := newTestReporter(pub)

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	var msg HealthMessage
	if err := json.Unmarshal(pub.GetPublished()[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthStarting || msg.Reason != "bridge starting" {
		t.Errorf("health = %s (%s)", msg.Status, msg.Reason)
	}

	pub.publishErr = errors.New("broker down")
	if err := h.PublishStarting(); err == nil {
		t.Error("PublishStarting() error = nil, want publish failure")
	}
}

func TestHealthLWT(t *testing.T) {
	h := newTestReporter(NewMockMQTTClient())

	if topic := h.GetLWTTopic(); topic != "graylogic/health/freebox" {
		t.Errorf("GetLWTTopic() = %q", topic)
	}

	payload, err := h.GetLWTPayload()
	if err != nil {
		t.Fatalf("GetLWTPayload() error = %v", err)
	}
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthOffline || msg.Bridge != "freebox" || msg.Reason != "unexpected_disconnect" {
		t.Errorf("LWT = %+v", msg)
	}
}
