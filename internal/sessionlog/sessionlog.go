package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger writes structured JSONL session logs to a file
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

type logRecord struct {
	Timestamp string            `json:"ts"`
	Event     string            `json:"event"`
	SessionID string            `json:"session_id"`
	Phase     string            `json:"phase,omitempty"`
	Text      string            `json:"text,omitempty"`
	Code      int               `json:"code,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// New creates a logger under outputDir. Filename is timestamp + session id.
func New(outputDir, sessionID string, started time.Time) (*Logger, error) {
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	shortID := sessionID
	if len(sessionID) > 8 {
		shortID = sessionID[:8]
	}
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_session_%s.jsonl", started.Format("20060102_150405"), shortID))
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{file: f}, nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Logger) write(rec logRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	// sanitize text fields to keep lines compact
	rec.Text = strings.TrimSpace(rec.Text)
	enc := json.NewEncoder(l.file)
	_ = enc.Encode(rec)
}

func (l *Logger) LogSessionStart(sessionID, model string, started time.Time) {
	l.write(logRecord{Timestamp: started.Format(time.RFC3339Nano), Event: "session_start", SessionID: sessionID, Details: map[string]string{"model": model}})
}

func (l *Logger) LogSessionEnd(sessionID, reason string, ended time.Time) {
	l.write(logRecord{Timestamp: ended.Format(time.RFC3339Nano), Event: "session_end", SessionID: sessionID, Reason: reason})
}

func (l *Logger) LogPhase(sessionID, from, to string) {
	l.write(logRecord{Timestamp: time.Now().Format(time.RFC3339Nano), Event: "phase", SessionID: sessionID, Phase: to, Details: map[string]string{"from": from}})
}

func (l *Logger) LogConnection(sessionID, event string, code int, reason string) {
	l.write(logRecord{Timestamp: time.Now().Format(time.RFC3339Nano), Event: "connection_" + event, SessionID: sessionID, Code: code, Reason: reason})
}

func (l *Logger) LogResult(sessionID, text string, wordLevel bool, speakers int) {
	kind := "text"
	if wordLevel {
		kind = "words"
	}
	l.write(logRecord{Timestamp: time.Now().Format(time.RFC3339Nano), Event: "result", SessionID: sessionID, Text: text, Details: map[string]string{"kind": kind, "speakers": fmt.Sprintf("%d", speakers)}})
}

func (l *Logger) LogError(sessionID string, err error) {
	l.write(logRecord{Timestamp: time.Now().Format(time.RFC3339Nano), Event: "error", SessionID: sessionID, Reason: err.Error()})
}

func (l *Logger) LogArtifact(sessionID, path string, seconds float64) {
	l.write(logRecord{Timestamp: time.Now().Format(time.RFC3339Nano), Event: "artifact", SessionID: sessionID, Details: map[string]string{"path": path, "seconds": fmt.Sprintf("%.2f", seconds)}})
}

func (l *Logger) LogAPICall(sessionID string, endpoint, status string) {
	l.write(logRecord{Timestamp: time.Now().Format(time.RFC3339Nano), Event: "api_call", SessionID: sessionID, Details: map[string]string{"endpoint": endpoint, "status": status}})
}
