package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/scribeworks/dictate/internal/capture"
	"github.com/scribeworks/dictate/internal/metrics"
	"github.com/scribeworks/dictate/internal/sessionlog"
	"github.com/scribeworks/dictate/internal/transcript"
	"github.com/scribeworks/dictate/internal/transport"
)

// Phase is the dictation session lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseConnecting
	PhaseRecording
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseConnecting:
		return "connecting"
	case PhaseRecording:
		return "recording"
	case PhaseStopping:
		return "stopping"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Transport is the socket manager surface the coordinator drives.
type Transport interface {
	Connect(credential string) error
	Disconnect(code int, reason string)
	Send(data []byte)
	Events() <-chan transport.Event
}

// Recorder is the capture controller surface the coordinator drives.
type Recorder interface {
	Start(ctx context.Context, label string) error
	Begin()
	Chunks() <-chan []byte
	Stop() (*capture.Artifact, error)
}

// Update is one coordinator state snapshot published after every
// observable change. Segments is a copy, safe to render concurrently.
type Update struct {
	Phase      Phase
	Connecting bool
	Segments   []transcript.Segment
	Err        error
	Artifact   *capture.Artifact

	// Debug surface: current socket state and chunks forwarded this
	// session.
	Socket string
	Chunks int
}

type Config struct {
	Credential string // recognition service API key
	Model      string
	SampleRate int
	LogDir     string // session JSONL logs; empty disables them
}

// Coordinator runs the session state machine: idle, starting (device
// acquisition), connecting, recording, stopping, back to idle. A single
// event loop owns all state; commands, transport events, and captured
// audio all funnel through it, so no mutex guards the session fields.
//
// Ordering rules it enforces:
//   - audio emission begins only once the transport reports open;
//   - stop tears capture down before closing the transport;
//   - an unexpected close with an abnormal code surfaces as
//     ConnectionLostError, while codes 1000 and 1005 end quietly.
type Coordinator struct {
	cfg      Config
	tr       Transport
	recorder Recorder
	rec      *transcript.Reconciler

	cmds    chan command
	updates chan Update
	capDone chan error

	phase      Phase
	connecting bool
	connOpen   bool
	sockState  string
	chunksSent int
	lastErr    error
	artifact   *capture.Artifact
	audioIn    <-chan []byte

	sessionID string
	startedAt time.Time
	slog      *sessionlog.Logger
	stats     *metrics.SessionMetrics
}

type command int

const (
	cmdStart command = iota
	cmdStop
	cmdClear
)

func New(cfg Config, tr Transport, recorder Recorder) *Coordinator {
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	return &Coordinator{
		cfg:       cfg,
		tr:        tr,
		recorder:  recorder,
		rec:       transcript.NewReconciler(),
		cmds:      make(chan command, 8),
		updates:   make(chan Update, 64),
		capDone:   make(chan error, 1),
		sockState: transport.StateNotConnected.String(),
	}
}

// Updates returns the coordinator's state snapshot stream.
func (c *Coordinator) Updates() <-chan Update {
	return c.updates
}

// StartSession requests a transition from idle to recording.
func (c *Coordinator) StartSession() { c.send(cmdStart) }

// StopSession requests an orderly session end.
func (c *Coordinator) StopSession() { c.send(cmdStop) }

// ClearTranscript discards accumulated segments. Ignored unless idle.
func (c *Coordinator) ClearTranscript() { c.send(cmdClear) }

func (c *Coordinator) send(cmd command) {
	select {
	case c.cmds <- cmd:
	default:
		log.Printf("session: command queue full, dropping command %d", cmd)
	}
}

// Run drives the event loop until ctx is cancelled. Cancellation is the
// app-shutdown path: capture is released and the transport closed with
// the going-away code before Run returns.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case cmd := <-c.cmds:
			switch cmd {
			case cmdStart:
				c.handleStart(ctx)
			case cmdStop:
				c.handleStop()
			case cmdClear:
				c.handleClear()
			}
		case err := <-c.capDone:
			c.handleCaptureReady(err)
		case ev := <-c.tr.Events():
			c.handleTransport(ev)
		case chunk, ok := <-c.audioIn:
			if !ok {
				c.audioIn = nil
				continue
			}
			c.tr.Send(chunk)
			c.chunksSent++
			if c.stats != nil {
				c.stats.AddAudioChunk(len(chunk))
			}
			c.publish()
		}
	}
}

func (c *Coordinator) handleStart(ctx context.Context) {
	if c.phase != PhaseIdle {
		return
	}
	// Credential check comes before any device or network activity.
	if c.cfg.Credential == "" {
		c.lastErr = transport.ErrMissingCredential
		c.publish()
		return
	}

	// A fresh session starts from an empty transcript, like the clear
	// action does; only within a session do segments accumulate.
	c.rec.Clear()
	c.lastErr = nil
	c.artifact = nil
	c.chunksSent = 0
	c.sessionID = uuid.New().String()
	c.startedAt = time.Now()
	c.stats = metrics.NewSessionMetrics(c.sessionID, c.cfg.Model, c.cfg.SampleRate)

	if c.cfg.LogDir != "" {
		slog, err := sessionlog.New(c.cfg.LogDir, c.sessionID, c.startedAt)
		if err != nil {
			log.Printf("session: could not open session log: %v", err)
		} else {
			c.slog = slog
			c.slog.LogSessionStart(c.sessionID, c.cfg.Model, c.startedAt)
		}
	}

	c.setPhase(PhaseStarting)
	go func() {
		c.capDone <- c.recorder.Start(ctx, shortID(c.sessionID))
	}()
}

func (c *Coordinator) handleCaptureReady(err error) {
	if c.phase == PhaseStopping {
		// Stop arrived while the device was still being acquired.
		if err == nil {
			c.teardownCapture()
		}
		c.finish("stopped during start")
		return
	}
	if c.phase != PhaseStarting {
		return
	}
	if err != nil {
		c.fail(err)
		return
	}

	c.audioIn = c.recorder.Chunks()
	c.setPhase(PhaseConnecting)
	if err := c.tr.Connect(c.cfg.Credential); err != nil {
		c.teardownCapture()
		c.fail(err)
	}
}

func (c *Coordinator) handleTransport(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnecting:
		c.connecting = ev.Connecting
		if ev.Connecting {
			c.sockState = transport.StateConnecting.String()
		}
		c.publish()

	case transport.EventOpen:
		c.connOpen = true
		c.sockState = transport.StateOpen.String()
		if c.slog != nil {
			c.slog.LogConnection(c.sessionID, "open", 0, "")
		}
		if c.phase == PhaseConnecting {
			// The connection exists now; audio may start flowing.
			c.recorder.Begin()
			c.setPhase(PhaseRecording)
		}

	case transport.EventMessage:
		c.handleMessage(ev.Payload)

	case transport.EventError:
		c.connOpen = false
		c.sockState = transport.StateClosed.String()
		if c.slog != nil {
			c.slog.LogError(c.sessionID, ev.Err)
		}
		switch c.phase {
		case PhaseIdle:
		case PhaseStopping:
			c.finish("transport error during stop")
		default:
			c.teardownCapture()
			c.fail(&TransportError{Err: ev.Err})
		}

	case transport.EventClosed:
		c.connOpen = false
		c.sockState = transport.StateClosed.String()
		if c.slog != nil {
			c.slog.LogConnection(c.sessionID, "closed", ev.Code, ev.Reason)
		}
		switch c.phase {
		case PhaseIdle:
		case PhaseStopping:
			c.finish("stopped")
		default:
			// The service hung up on us mid-session.
			c.teardownCapture()
			if isNormalClose(ev.Code) {
				c.finish("closed by service")
			} else {
				c.fail(&ConnectionLostError{Code: ev.Code, Reason: ev.Reason})
			}
		}
	}
}

func (c *Coordinator) handleMessage(payload []byte) {
	ev, err := transcript.Decode(payload)
	if err != nil {
		// One bad frame never ends the session; drop it and move on.
		log.Printf("session: %v", err)
		if c.stats != nil {
			c.stats.AddMalformedFrame()
		}
		return
	}

	switch ev := ev.(type) {
	case transcript.ErrorEvent:
		serr := &TransportError{Err: fmt.Errorf("recognition service: %s: %s", ev.Reason, ev.Description)}
		c.lastErr = serr
		sentry.CaptureException(serr)
		if c.stats != nil {
			c.stats.AddServiceError()
		}
		if c.slog != nil {
			c.slog.LogError(c.sessionID, serr)
		}
		c.publish()

	case transcript.WordBatch:
		c.rec.ApplyWords(ev.Words)
		c.recordResult(textOf(ev.Words), true)
		c.publish()

	case transcript.TextEvent:
		c.rec.ApplyText(ev.Text)
		c.recordResult(ev.Text, false)
		c.publish()

	case transcript.Unrecognized:
	}
}

func (c *Coordinator) recordResult(text string, wordLevel bool) {
	if c.stats != nil {
		c.stats.AddResult(len(text), wordLevel)
	}
	if c.slog != nil {
		c.slog.LogResult(c.sessionID, text, wordLevel, transcript.SpeakerCount(c.rec.Snapshot()))
	}
}

func (c *Coordinator) handleStop() {
	switch c.phase {
	case PhaseIdle, PhaseStopping:
		return

	case PhaseStarting:
		// Device acquisition is in flight; handleCaptureReady finishes
		// the teardown when it resolves.
		c.setPhase(PhaseStopping)

	case PhaseConnecting:
		c.setPhase(PhaseStopping)
		c.teardownCapture()
		c.tr.Disconnect(websocket.CloseNormalClosure, "session stopped")
		if !c.connOpen && !c.connecting {
			c.finish("stopped")
		}

	case PhaseRecording:
		// Capture goes down first so no audio chases a closing socket.
		c.setPhase(PhaseStopping)
		c.teardownCapture()
		c.tr.Disconnect(websocket.CloseNormalClosure, "session stopped")
		if !c.connOpen {
			c.finish("stopped")
		}
	}
}

func (c *Coordinator) handleClear() {
	if c.phase != PhaseIdle {
		return
	}
	c.rec.Clear()
	c.artifact = nil
	c.publish()
}

func (c *Coordinator) teardownCapture() {
	art, err := c.recorder.Stop()
	if err != nil {
		log.Printf("session: capture teardown: %v", err)
		sentry.CaptureException(err)
	}
	if art != nil {
		c.artifact = art
		if c.slog != nil {
			c.slog.LogArtifact(c.sessionID, art.Path, art.Duration.Seconds())
		}
	}
	c.audioIn = nil
}

// finish returns the session to idle after an orderly end.
func (c *Coordinator) finish(reason string) {
	c.closeOut(reason)
	c.connecting = false
	c.setPhase(PhaseIdle)
}

// fail returns the session to idle carrying a terminal error.
func (c *Coordinator) fail(err error) {
	c.lastErr = err
	sentry.CaptureException(err)
	if c.slog != nil {
		c.slog.LogError(c.sessionID, err)
	}
	c.closeOut("error: " + err.Error())
	c.connecting = false
	c.setPhase(PhaseIdle)
}

func (c *Coordinator) closeOut(reason string) {
	if c.stats != nil {
		c.stats.Finalize()
		log.Printf("session %s ended:\n%s", shortID(c.sessionID), c.stats.Summary())
	}
	if c.slog != nil {
		c.slog.LogSessionEnd(c.sessionID, reason, time.Now())
		c.slog.Close()
		c.slog = nil
	}
}

func (c *Coordinator) shutdown() {
	if c.phase != PhaseIdle {
		c.teardownCapture()
	}
	if c.connOpen || c.connecting {
		c.tr.Disconnect(websocket.CloseGoingAway, "client shutting down")
	}
	if c.slog != nil {
		c.slog.LogSessionEnd(c.sessionID, "shutdown", time.Now())
		c.slog.Close()
		c.slog = nil
	}
}

func (c *Coordinator) setPhase(p Phase) {
	if c.slog != nil && p != c.phase {
		c.slog.LogPhase(c.sessionID, c.phase.String(), p.String())
	}
	c.phase = p
	c.publish()
}

func (c *Coordinator) publish() {
	u := Update{
		Phase:      c.phase,
		Connecting: c.connecting,
		Segments:   c.rec.Snapshot(),
		Err:        c.lastErr,
		Artifact:   c.artifact,
		Socket:     c.sockState,
		Chunks:     c.chunksSent,
	}
	select {
	case c.updates <- u:
	default:
		// Consumer is behind; drop the oldest snapshot to keep the
		// freshest one flowing.
		select {
		case <-c.updates:
		default:
		}
		select {
		case c.updates <- u:
		default:
		}
	}
}

// Close codes 1000 (normal) and 1005 (no status) end a session without
// an error; everything else is a lost connection.
func isNormalClose(code int) bool {
	return code == websocket.CloseNormalClosure || code == websocket.CloseNoStatusReceived
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func textOf(words []transcript.Word) string {
	n := 0
	for _, w := range words {
		n += len(w.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, w := range words {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, w.Text...)
	}
	return string(buf)
}
