package capture

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/CyCoreSystems/audiosocket"
)

// DeviceAccessError reports failure to acquire the audio input device.
// It surfaces to the user as a terminal session error; no retry is
// attempted.
type DeviceAccessError struct {
	Err error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("audio device access: %v", e.Err)
}

func (e *DeviceAccessError) Unwrap() error { return e.Err }

// Constraints are the processing options requested from the capture
// device. The capture agent applies them when it opens the microphone.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Source is an acquired audio input delivering raw PCM frames. The
// chunk channel closes when the device goes away.
type Source interface {
	Chunks() <-chan []byte
	Close() error
}

// Opener acquires an audio input device honoring the given constraints.
type Opener interface {
	Open(ctx context.Context, constraints Constraints) (Source, error)
}

// AudioSocketOpener acquires the microphone through a capture agent
// that streams signed linear PCM over a local AudioSocket connection.
// Open listens, waits for the agent to dial in, and hands back the
// accepted stream as a Source.
type AudioSocketOpener struct {
	ListenAddr    string
	AcceptTimeout time.Duration
}

func (o *AudioSocketOpener) Open(ctx context.Context, constraints Constraints) (Source, error) {
	ln, err := net.Listen("tcp", o.ListenAddr)
	if err != nil {
		return nil, &DeviceAccessError{Err: fmt.Errorf("listen on %s: %w", o.ListenAddr, err)}
	}

	timeout := o.AcceptTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(timeout))
	}

	conn, err := ln.Accept()
	if err != nil {
		ln.Close()
		return nil, &DeviceAccessError{Err: fmt.Errorf("capture agent did not connect: %w", err)}
	}

	// The agent opens with an ID message identifying its stream.
	id, err := audiosocket.GetID(conn)
	if err != nil {
		conn.Close()
		ln.Close()
		return nil, &DeviceAccessError{Err: fmt.Errorf("read capture stream ID: %w", err)}
	}

	log.Printf("capture: agent connected, stream %s (echo cancellation=%v, noise suppression=%v, auto gain=%v)",
		id, constraints.EchoCancellation, constraints.NoiseSuppression, constraints.AutoGainControl)

	s := &audioSocketSource{
		conn:     conn,
		listener: ln,
		chunks:   make(chan []byte, 32),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type audioSocketSource struct {
	conn     net.Conn
	listener net.Listener
	chunks   chan []byte
	done     chan struct{}

	closeOnce sync.Once
}

func (s *audioSocketSource) Chunks() <-chan []byte {
	return s.chunks
}

func (s *audioSocketSource) readLoop() {
	defer close(s.chunks)

	for {
		msg, err := audiosocket.NextMessage(s.conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("capture: stream read failed: %v", err)
			}
			return
		}

		switch msg.Kind() {
		case audiosocket.KindSlin:
			payload := msg.Payload()
			if len(payload) == 0 {
				continue
			}
			frame := make([]byte, len(payload))
			copy(frame, payload)
			// Close can land while the buffer is full and nothing is
			// draining; never block past it.
			select {
			case s.chunks <- frame:
			case <-s.done:
				return
			}

		case audiosocket.KindHangup:
			log.Print("capture: agent closed the stream")
			return

		case audiosocket.KindError:
			log.Printf("capture: agent reported error code %d", msg.ErrorCode())
			return
		}
	}
}

// Close releases the device: it tells the agent to stop and tears down
// the local listener.
func (s *audioSocketSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if _, werr := s.conn.Write(audiosocket.HangupMessage()); werr != nil {
			log.Printf("capture: hangup write failed: %v", werr)
		}
		err = s.conn.Close()
		s.listener.Close()
	})
	return err
}
