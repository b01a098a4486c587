package capture

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	Constraints   Constraints
	SampleRate    int           // PCM sample rate in Hz
	SliceInterval time.Duration // cadence of outbound chunks
	OutputDir     string        // where finalized recordings land
}

// Artifact describes the finalized recording written at session end.
type Artifact struct {
	Path       string
	SampleRate int
	Bytes      int
	Duration   time.Duration
}

// Controller owns the capture half of a dictation session: it acquires
// the input device, slices the incoming PCM stream on a fixed cadence,
// and feeds every slice to both the outbound chunk channel and the
// whole-session recording buffer.
//
// Emission toward the chunk channel is gated: slices are buffered into
// the recording from Start, but none leave on Chunks() until Begin is
// called. The session coordinator calls Begin only once the transport
// reports open, so no audio is produced before the connection exists.
type Controller struct {
	cfg    Config
	opener Opener

	emitting atomic.Bool

	mu        sync.Mutex
	running   bool
	source    Source
	out       chan []byte
	stop      chan struct{}
	done      chan struct{}
	label     string
	startedAt time.Time
	recording []byte
}

func NewController(cfg Config, opener Opener) *Controller {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.SliceInterval == 0 {
		cfg.SliceInterval = 250 * time.Millisecond
	}
	return &Controller{cfg: cfg, opener: opener}
}

// Start acquires the input device and begins buffering audio. The label
// tags the finalized recording's filename. Start while already running
// is a no-op.
func (c *Controller) Start(ctx context.Context, label string) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	source, err := c.opener.Open(ctx, c.cfg.Constraints)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.running = true
	c.source = source
	c.label = label
	c.startedAt = time.Now()
	c.recording = nil
	c.out = make(chan []byte, 32)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.emitting.Store(false)
	out, stop, done := c.out, c.stop, c.done
	c.mu.Unlock()

	go c.run(source, out, stop, done)
	return nil
}

// Chunks returns the outbound slice channel for the capture run started
// by the most recent Start. It closes when capture ends.
func (c *Controller) Chunks() <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out
}

// Begin opens the emission gate: buffered slices start flowing to the
// chunk channel.
func (c *Controller) Begin() {
	c.emitting.Store(true)
}

// Stop tears down capture, releases the device, and finalizes the
// recording artifact. It returns (nil, nil) when nothing was running or
// no audio was captured.
func (c *Controller) Stop() (*Artifact, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil, nil
	}
	c.running = false
	source, stop, done := c.source, c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done
	if err := source.Close(); err != nil {
		log.Printf("capture: device release failed: %v", err)
	}
	c.emitting.Store(false)

	return c.finalize()
}

func (c *Controller) run(source Source, out chan []byte, stop, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.SliceInterval)
	defer ticker.Stop()

	var buf, recording []byte

	flush := func() {
		if len(buf) == 0 {
			return
		}
		slice := make([]byte, len(buf))
		copy(slice, buf)
		buf = buf[:0]

		recording = append(recording, slice...)
		if c.emitting.Load() {
			select {
			case out <- slice:
			default:
				log.Printf("capture: consumer stalled, dropping %d byte slice", len(slice))
			}
		}
	}

	defer func() {
		flush()
		c.mu.Lock()
		c.recording = recording
		c.mu.Unlock()
		close(out)
		close(done)
	}()

	for {
		select {
		case frame, ok := <-source.Chunks():
			if !ok {
				log.Print("capture: input stream ended")
				return
			}
			buf = append(buf, frame...)
		case <-ticker.C:
			flush()
		case <-stop:
			return
		}
	}
}

func (c *Controller) finalize() (*Artifact, error) {
	c.mu.Lock()
	recording := c.recording
	label := c.label
	startedAt := c.startedAt
	c.recording = nil
	c.mu.Unlock()

	if len(recording) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(c.cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(c.cfg.OutputDir, fmt.Sprintf("%s_dictation_%s.wav",
		startedAt.Format("20060102_150405"), label))

	if err := writeWAV(path, recording, c.cfg.SampleRate); err != nil {
		return nil, fmt.Errorf("finalize recording: %w", err)
	}

	duration := pcmDuration(len(recording), c.cfg.SampleRate)
	log.Printf("capture: recording saved to %s (%.2f seconds)", path, duration.Seconds())

	return &Artifact{
		Path:       path,
		SampleRate: c.cfg.SampleRate,
		Bytes:      len(recording),
		Duration:   duration,
	}, nil
}

// pcmDuration converts a 16-bit mono PCM byte count to wall time.
func pcmDuration(bytes, sampleRate int) time.Duration {
	samples := bytes / 2
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}
