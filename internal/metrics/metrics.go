package metrics

import (
	"fmt"
	"sync"
	"time"
)

type SessionMetrics struct {
	SessionID        string
	Model            string
	StartTime        time.Time
	EndTime          time.Time
	AudioBytes       int
	ChunksSent       int
	WordBatches      int
	TextResults      int
	ServiceErrors    int
	MalformedFrames  int
	TranscriptLength int
	FirstResultTime  *time.Time
	sampleRate       int
	mu               sync.Mutex
}

func NewSessionMetrics(sessionID, model string, sampleRate int) *SessionMetrics {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	return &SessionMetrics{
		SessionID:  sessionID,
		Model:      model,
		StartTime:  time.Now(),
		sampleRate: sampleRate,
	}
}

func (m *SessionMetrics) AddAudioChunk(bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AudioBytes += bytes
	m.ChunksSent++
}

// AddResult records one recognition result; wordLevel distinguishes
// diarized word batches from plain-text fallback results.
func (m *SessionMetrics) AddResult(textLen int, wordLevel bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FirstResultTime == nil {
		now := time.Now()
		m.FirstResultTime = &now
	}

	m.TranscriptLength += textLen
	if wordLevel {
		m.WordBatches++
	} else {
		m.TextResults++
	}
}

func (m *SessionMetrics) AddServiceError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ServiceErrors++
}

func (m *SessionMetrics) AddMalformedFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MalformedFrames++
}

func (m *SessionMetrics) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = time.Now()
}

func (m *SessionMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := m.EndTime.Sub(m.StartTime)
	var latency time.Duration
	if m.FirstResultTime != nil {
		latency = m.FirstResultTime.Sub(m.StartTime)
	}

	audioDuration := float64(m.AudioBytes) / (float64(m.sampleRate) * 2) // 16-bit mono

	rtf := 0.0
	if audioDuration > 0 {
		rtf = duration.Seconds() / audioDuration
	}

	return fmt.Sprintf(
		"Model: %s\n"+
			"Session: %s\n"+
			"Duration: %v\n"+
			"Audio Duration: %.2f seconds\n"+
			"Audio Bytes: %d\n"+
			"Chunks Sent: %d\n"+
			"Transcript Length: %d chars\n"+
			"First Result Latency: %v\n"+
			"Word Batches: %d\n"+
			"Text Results: %d\n"+
			"Service Errors: %d\n"+
			"Malformed Frames: %d\n"+
			"Real-time Factor: %.2fx\n",
		m.Model,
		m.SessionID,
		duration,
		audioDuration,
		m.AudioBytes,
		m.ChunksSent,
		m.TranscriptLength,
		latency,
		m.WordBatches,
		m.TextResults,
		m.ServiceErrors,
		m.MalformedFrames,
		rtf,
	)
}
