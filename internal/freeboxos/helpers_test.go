package freeboxos

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

const testBaseURL = "http://box.test/api/v8"

// fakeCall records one transport call.
type fakeCall struct {
	Method  Method
	URL     string
	Headers map[string]string
	Body    any
}

// fakeTransport implements Transport with a scripted handler.
type fakeTransport struct {
	mu          sync.Mutex
	calls       []fakeCall
	inFlight    int
	maxInFlight int
	handler     func(ctx context.Context, c fakeCall) (*Result, error)
}

func newFakeTransport(handler func(ctx context.Context, c fakeCall) (*Result, error)) *fakeTransport {
	return &fakeTransport{handler: handler}
}

func (f *fakeTransport) Do(ctx context.Context, method Method, url string, headers map[string]string, body any) (*Result, error) {
	c := fakeCall{Method: method, URL: url, Headers: headers, Body: body}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	return f.handler(ctx, c)
}

func (f *fakeTransport) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the calls whose URL ends with suffix.
func (f *fakeTransport) CallsTo(suffix string) []fakeCall {
	var out []fakeCall
	for _, c := range f.Calls() {
		if strings.HasSuffix(c.URL, suffix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// sleepRecorder replaces real delays and records them.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// reply builds a 200 result carrying body.
func reply(body string) *Result {
	return &Result{StatusCode: 200, Data: json.RawMessage(body)}
}

// replyStatus builds a result with an explicit status code.
func replyStatus(status int, body string) *Result {
	return &Result{StatusCode: status, Data: json.RawMessage(body)}
}

type testPipeline struct {
	transport *fakeTransport
	session   *SessionManager
	executor  *Executor
	sleeps    *sleepRecorder
}

// newTestPipeline wires a session manager and an executor on a fake
// transport with recorded delays.
func newTestPipeline(t *testing.T, handler func(ctx context.Context, c fakeCall) (*Result, error)) *testPipeline {
	t.Helper()

	transport := newFakeTransport(handler)
	sleeps := &sleepRecorder{}

	session := NewSessionManager(SessionConfig{
		BaseURL:   testBaseURL,
		App:       DefaultAppInfo(),
		Transport: transport,
	})
	session.sleep = sleeps.sleep

	exec := NewExecutor(ExecutorConfig{
		Transport: transport,
		Session:   session,
	})
	exec.sleep = sleeps.sleep
	t.Cleanup(exec.Close)

	return &testPipeline{
		transport: transport,
		session:   session,
		executor:  exec,
		sleeps:    sleeps,
	}
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
