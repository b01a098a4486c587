package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scribeworks/dictate/internal/capture"
	"github.com/scribeworks/dictate/internal/transport"
)

// callOrder records the sequence of teardown-relevant calls across the
// fake transport and recorder.
type callOrder struct {
	mu    sync.Mutex
	calls []string
}

func (o *callOrder) add(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, name)
}

func (o *callOrder) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.calls...)
}

type fakeTransport struct {
	order  *callOrder
	events chan transport.Event

	mu          sync.Mutex
	connects    []string
	disconnects []int
	sent        [][]byte
}

func newFakeTransport(order *callOrder) *fakeTransport {
	return &fakeTransport{order: order, events: make(chan transport.Event, 32)}
}

func (t *fakeTransport) Connect(credential string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects = append(t.connects, credential)
	t.order.add("transport.connect")
	return nil
}

func (t *fakeTransport) Disconnect(code int, _ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects = append(t.disconnects, code)
	t.order.add("transport.disconnect")
}

func (t *fakeTransport) Send(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, data)
}

func (t *fakeTransport) Events() <-chan transport.Event { return t.events }

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) lastDisconnect() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.disconnects) == 0 {
		return 0, false
	}
	return t.disconnects[len(t.disconnects)-1], true
}

type fakeRecorder struct {
	order    *callOrder
	chunks   chan []byte
	startErr error
	artifact *capture.Artifact

	mu      sync.Mutex
	started int
	began   bool
}

func newFakeRecorder(order *callOrder) *fakeRecorder {
	return &fakeRecorder{order: order, chunks: make(chan []byte, 32)}
}

func (r *fakeRecorder) Start(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	r.order.add("capture.start")
	return r.startErr
}

func (r *fakeRecorder) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.began = true
	r.order.add("capture.begin")
}

func (r *fakeRecorder) Chunks() <-chan []byte { return r.chunks }

func (r *fakeRecorder) Stop() (*capture.Artifact, error) {
	r.order.add("capture.stop")
	return r.artifact, nil
}

func (r *fakeRecorder) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *fakeRecorder) hasBegun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.began
}

type harness struct {
	coord    *Coordinator
	tr       *fakeTransport
	recorder *fakeRecorder
	order    *callOrder
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	order := &callOrder{}
	tr := newFakeTransport(order)
	recorder := newFakeRecorder(order)
	coord := New(cfg, tr, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)
	t.Cleanup(cancel)

	return &harness{coord: coord, tr: tr, recorder: recorder, order: order, cancel: cancel}
}

// waitUpdate drains updates until one satisfies the predicate.
func waitUpdate(t *testing.T, h *harness, desc string, pred func(Update) bool) Update {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case u := <-h.coord.Updates():
			if pred(u) {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for update: %s", desc)
		}
	}
}

func waitPhase(t *testing.T, h *harness, phase Phase) Update {
	t.Helper()
	return waitUpdate(t, h, "phase "+phase.String(), func(u Update) bool { return u.Phase == phase })
}

func startRecording(t *testing.T, h *harness) {
	t.Helper()
	h.coord.StartSession()
	waitPhase(t, h, PhaseConnecting)
	h.tr.events <- transport.Event{Kind: transport.EventConnecting, Connecting: true}
	h.tr.events <- transport.Event{Kind: transport.EventConnecting, Connecting: false}
	h.tr.events <- transport.Event{Kind: transport.EventOpen}
	waitPhase(t, h, PhaseRecording)
}

func TestStart_MissingCredential(t *testing.T) {
	h := newHarness(t, Config{Credential: ""})

	h.coord.StartSession()
	u := waitUpdate(t, h, "error", func(u Update) bool { return u.Err != nil })
	if !errors.Is(u.Err, transport.ErrMissingCredential) {
		t.Errorf("err = %v, want ErrMissingCredential", u.Err)
	}
	if u.Phase != PhaseIdle {
		t.Errorf("phase = %v, want idle", u.Phase)
	}
	if u.Connecting {
		t.Error("connecting flagged despite missing credential")
	}
	if h.recorder.startCount() != 0 {
		t.Error("device acquisition attempted without a credential")
	}
}

func TestStart_EmissionWaitsForOpen(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})

	h.coord.StartSession()
	waitPhase(t, h, PhaseConnecting)

	if h.recorder.hasBegun() {
		t.Fatal("emission began before the transport opened")
	}

	h.tr.events <- transport.Event{Kind: transport.EventOpen}
	waitPhase(t, h, PhaseRecording)

	if !h.recorder.hasBegun() {
		t.Fatal("emission did not begin after open")
	}
}

func TestRecording_ForwardsAudioChunks(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	startRecording(t, h)

	h.recorder.chunks <- []byte{1, 2, 3}
	h.recorder.chunks <- []byte{4, 5, 6}

	deadline := time.After(3 * time.Second)
	for h.tr.sentCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d chunks forwarded, want 2", h.tr.sentCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Forwarding is reflected on the debug surface.
	u := waitUpdate(t, h, "chunk count", func(u Update) bool { return u.Chunks >= 2 })
	if u.Socket != "open" {
		t.Errorf("socket state = %q, want open", u.Socket)
	}
}

func TestRecording_WordBatchReachesTranscript(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	startRecording(t, h)

	h.tr.events <- transport.Event{Kind: transport.EventMessage, Payload: []byte(`{
		"channel": {"alternatives": [{"words": [
			{"word": "patient", "start": 0, "end": 0.5, "speaker": 0},
			{"word": "presents", "start": 0.5, "end": 1.0, "speaker": 0}
		]}]}
	}`)}

	u := waitUpdate(t, h, "segments", func(u Update) bool { return len(u.Segments) > 0 })
	if u.Segments[0].Text != "patient presents" {
		t.Errorf("segment text = %q", u.Segments[0].Text)
	}
}

func TestRecording_MalformedFrameIsDropped(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	startRecording(t, h)

	h.tr.events <- transport.Event{Kind: transport.EventMessage, Payload: []byte(`{broken`)}
	h.tr.events <- transport.Event{Kind: transport.EventMessage, Payload: []byte(`{
		"channel": {"alternatives": [{"transcript": "still alive"}]}
	}`)}

	u := waitUpdate(t, h, "segments", func(u Update) bool { return len(u.Segments) > 0 })
	if u.Phase != PhaseRecording {
		t.Errorf("phase = %v; a malformed frame must not end the session", u.Phase)
	}
	if u.Err != nil {
		t.Errorf("err = %v; a malformed frame must not surface as a session error", u.Err)
	}
}

func TestStop_CaptureBeforeTransport(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	startRecording(t, h)

	h.coord.StopSession()
	waitPhase(t, h, PhaseStopping)

	// The service acknowledges the close.
	h.tr.events <- transport.Event{Kind: transport.EventClosed, Code: 1000}
	u := waitPhase(t, h, PhaseIdle)
	if u.Err != nil {
		t.Errorf("orderly stop produced error: %v", u.Err)
	}

	calls := h.order.list()
	stopIdx, discIdx := -1, -1
	for i, call := range calls {
		switch call {
		case "capture.stop":
			if stopIdx == -1 {
				stopIdx = i
			}
		case "transport.disconnect":
			if discIdx == -1 {
				discIdx = i
			}
		}
	}
	if stopIdx == -1 || discIdx == -1 {
		t.Fatalf("missing teardown calls: %v", calls)
	}
	if stopIdx > discIdx {
		t.Errorf("capture torn down after transport close: %v", calls)
	}

	if code, ok := h.tr.lastDisconnect(); !ok || code != 1000 {
		t.Errorf("disconnect code = %d, want 1000", code)
	}
}

func TestAbnormalClose_SurfacesConnectionLost(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	startRecording(t, h)

	h.tr.events <- transport.Event{Kind: transport.EventClosed, Code: 1006, Reason: "network dropped"}

	u := waitPhase(t, h, PhaseIdle)
	var lost *ConnectionLostError
	if !errors.As(u.Err, &lost) {
		t.Fatalf("err = %v, want ConnectionLostError", u.Err)
	}
	if lost.Code != 1006 {
		t.Errorf("code = %d, want 1006", lost.Code)
	}

	found := false
	for _, call := range h.order.list() {
		if call == "capture.stop" {
			found = true
		}
	}
	if !found {
		t.Error("capture not released after lost connection")
	}
}

func TestNormalRemoteClose_NoError(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	startRecording(t, h)

	h.tr.events <- transport.Event{Kind: transport.EventClosed, Code: 1005}

	u := waitPhase(t, h, PhaseIdle)
	if u.Err != nil {
		t.Errorf("close code 1005 produced error: %v", u.Err)
	}
}

func TestStop_WhileConnecting(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})

	h.coord.StartSession()
	waitPhase(t, h, PhaseConnecting)
	h.tr.events <- transport.Event{Kind: transport.EventConnecting, Connecting: true}
	waitUpdate(t, h, "connecting flag", func(u Update) bool { return u.Connecting })

	h.coord.StopSession()
	waitPhase(t, h, PhaseStopping)

	// The aborted handshake resolves as a closed connection.
	h.tr.events <- transport.Event{Kind: transport.EventConnecting, Connecting: false}
	h.tr.events <- transport.Event{Kind: transport.EventClosed, Code: 1000, Reason: "session stopped"}

	u := waitPhase(t, h, PhaseIdle)
	if u.Err != nil {
		t.Errorf("stop while connecting produced error: %v", u.Err)
	}
	if u.Connecting {
		t.Error("connecting flag still set after stop")
	}
}

func TestStop_PublishesArtifact(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	h.recorder.artifact = &capture.Artifact{Path: "out/rec.wav", Bytes: 32000, Duration: time.Second}
	startRecording(t, h)

	h.coord.StopSession()
	h.tr.events <- transport.Event{Kind: transport.EventClosed, Code: 1000}

	u := waitPhase(t, h, PhaseIdle)
	if u.Artifact == nil || u.Artifact.Path != "out/rec.wav" {
		t.Errorf("artifact = %+v, want out/rec.wav", u.Artifact)
	}
}

func TestStart_DeviceAccessFailure(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	h.recorder.startErr = &capture.DeviceAccessError{Err: errors.New("microphone busy")}

	h.coord.StartSession()
	u := waitUpdate(t, h, "device error", func(u Update) bool { return u.Err != nil })

	var devErr *capture.DeviceAccessError
	if !errors.As(u.Err, &devErr) {
		t.Errorf("err = %v, want DeviceAccessError", u.Err)
	}
	if u.Phase != PhaseIdle {
		t.Errorf("phase = %v, want idle", u.Phase)
	}
	if len(h.tr.connects) != 0 {
		t.Error("transport dialed despite device failure")
	}
}

func TestStart_ClearsPreviousError(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	startRecording(t, h)
	h.tr.events <- transport.Event{Kind: transport.EventClosed, Code: 1006}
	waitUpdate(t, h, "error set", func(u Update) bool { return u.Err != nil && u.Phase == PhaseIdle })

	h.coord.StartSession()
	u := waitPhase(t, h, PhaseStarting)
	if u.Err != nil {
		t.Errorf("previous error survived new start: %v", u.Err)
	}
}

func TestStart_BeginsWithEmptyTranscript(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	startRecording(t, h)

	h.tr.events <- transport.Event{Kind: transport.EventMessage, Payload: []byte(`{
		"channel": {"alternatives": [{"transcript": "from the first session"}]}
	}`)}
	waitUpdate(t, h, "first session segments", func(u Update) bool { return len(u.Segments) == 1 })

	h.coord.StopSession()
	h.tr.events <- transport.Event{Kind: transport.EventClosed, Code: 1000}
	waitPhase(t, h, PhaseIdle)

	h.coord.StartSession()
	u := waitPhase(t, h, PhaseStarting)
	if len(u.Segments) != 0 {
		t.Fatalf("new session start kept %d segment(s): %q", len(u.Segments), u.Segments[0].Text)
	}
}

func TestClear_OnlyWhenIdle(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	startRecording(t, h)

	h.tr.events <- transport.Event{Kind: transport.EventMessage, Payload: []byte(`{
		"channel": {"alternatives": [{"transcript": "keep me"}]}
	}`)}
	waitUpdate(t, h, "segments", func(u Update) bool { return len(u.Segments) == 1 })

	h.coord.ClearTranscript() // recording: ignored
	h.coord.StopSession()
	h.tr.events <- transport.Event{Kind: transport.EventClosed, Code: 1000}
	u := waitPhase(t, h, PhaseIdle)
	if len(u.Segments) != 1 {
		t.Fatalf("clear during recording took effect: %d segments", len(u.Segments))
	}

	h.coord.ClearTranscript()
	u = waitUpdate(t, h, "cleared", func(u Update) bool { return len(u.Segments) == 0 })
	if u.Phase != PhaseIdle {
		t.Errorf("phase = %v after clear", u.Phase)
	}
}

func TestShutdown_ClosesWithGoingAway(t *testing.T) {
	h := newHarness(t, Config{Credential: "key"})
	startRecording(t, h)

	h.cancel()

	deadline := time.After(3 * time.Second)
	for {
		if code, ok := h.tr.lastDisconnect(); ok {
			if code != 1001 {
				t.Errorf("shutdown close code = %d, want 1001", code)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("transport never closed on shutdown")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
