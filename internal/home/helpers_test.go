package home

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
)

const testBase = "http://box.test/api/v8"

type request struct {
	Method freeboxos.Method
	Path   string
	Body   any
	Policy freeboxos.RetryPolicy
}

// fakeRequester answers from a table keyed by "METHOD path" and records calls.
type fakeRequester struct {
	mu       sync.Mutex
	replies  map[string][]string
	requests []request
	err      error
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{replies: make(map[string][]string)}
}

// on queues bodies for a route. The last body is repeated once the queue
// runs dry.
func (f *fakeRequester) on(method freeboxos.Method, path string, bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(method) + " " + path
	f.replies[key] = append(f.replies[key], bodies...)
}

func (f *fakeRequester) Request(_ context.Context, method freeboxos.Method, url string, body any, policy freeboxos.RetryPolicy) (*freeboxos.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(url, testBase)
	f.requests = append(f.requests, request{Method: method, Path: path, Body: body, Policy: policy})
	if f.err != nil {
		return nil, f.err
	}

	key := string(method) + " " + path
	bodies := f.replies[key]
	if len(bodies) == 0 {
		return nil, fmt.Errorf("no reply for %s", key)
	}
	data := bodies[0]
	if len(bodies) > 1 {
		f.replies[key] = bodies[1:]
	}
	return &freeboxos.Result{StatusCode: 200, Data: json.RawMessage(data)}, nil
}

func (f *fakeRequester) Requests() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.requests...)
}

func (f *fakeRequester) writes() []request {
	var out []request
	for _, r := range f.Requests() {
		if r.Method == freeboxos.MethodPut {
			out = append(out, r)
		}
	}
	return out
}

func value(valueType string, v string) string {
	return fmt.Sprintf(`{"success":true,"result":{"value":%s,"value_type":%q,"refresh":2000}}`, v, valueType)
}

const okReply = `{"success":true}`

// alarmNode has endpoints state=0, off=1, alarm1=2, alarm2=3 by position,
// with ids that differ from positions.
func alarmNode() Node {
	return Node{
		ID:       7,
		Category: CategoryAlarm,
		Label:    "Alarme",
		Type: NodeType{Endpoints: []Endpoint{
			{ID: 10, Name: "state", EpType: "signal"},
			{ID: 11, Name: "off", EpType: "slot"},
			{ID: 12, Name: "alarm1", EpType: "slot"},
			{ID: 13, Name: "alarm2", EpType: "slot"},
		}},
	}
}

func shutterNode(id int) Node {
	return Node{
		ID:       id,
		Category: CategoryShutter,
		Label:    fmt.Sprintf("Volet %d", id),
		ShowEndpoints: []Endpoint{
			{ID: 0, Name: "position_set", Access: AccessWrite},
			{ID: 1, Name: "stop", Access: AccessWrite},
			{ID: 2, Name: "toggle", UI: &EndpointUI{Access: AccessWrite}},
			{ID: 4, Name: "position_set", Access: AccessRead},
		},
	}
}
