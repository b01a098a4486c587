package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/scribeworks/dictate/internal/ids"
	"github.com/scribeworks/dictate/internal/notes"
	"github.com/scribeworks/dictate/internal/session"
	"github.com/scribeworks/dictate/internal/transcript"
)

// Key binding constants used in handleKey.
const (
	KeyQuit    = "q"
	KeyCtrlC   = "ctrl+c"
	KeySpace   = " "
	KeyClear   = "c"
	KeyNotes   = "g"
	KeyRecords = "r"
)

// Controller is the session surface the TUI drives.
type Controller interface {
	StartSession()
	StopSession()
	ClearTranscript()
	Updates() <-chan session.Update
}

// Model is the root bubbletea model for the dictation TUI.
type Model struct {
	ctrl    Controller
	notes   *notes.Client
	ids     *ids.Store
	station string

	// Session state
	phase      session.Phase
	connecting bool
	segments   []transcript.Segment
	artifact   *sessionArtifact
	errMessage string
	socket     string
	chunksSent int

	// Notes
	notesStatus string

	// Display
	palette *SpeakerPalette
	width   int
	height  int
}

type sessionArtifact struct {
	Path     string
	Duration time.Duration
}

// New creates the TUI model. notesClient and idStore may be nil when
// the corresponding backends are not configured.
func New(ctrl Controller, notesClient *notes.Client, idStore *ids.Store, station string) Model {
	return Model{
		ctrl:    ctrl,
		notes:   notesClient,
		ids:     idStore,
		station: station,
		palette: NewSpeakerPalette(),
	}
}

// Init starts listening for coordinator updates.
func (m Model) Init() tea.Cmd {
	return listenCmd(m.ctrl)
}

// listenCmd waits for the next coordinator snapshot.
func listenCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ctrl.Updates()
		if !ok {
			return nil
		}
		return SessionUpdateMsg{Update: u}
	}
}

// generateNotesCmd uploads the finished recording for note generation.
func generateNotesCmd(client *notes.Client, store *ids.Store, station, audioPath, transcriptText string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		defer cancel()

		var patientID, doctorID string
		if store != nil {
			if got, err := store.Get(ctx, station); err == nil {
				doctorID = got.DoctorID
			}
			if id, err := store.EnsurePatientID(ctx, station); err == nil {
				patientID = id
			}
		}

		rec, err := client.GenerateFromRecording(ctx, audioPath, transcriptText, patientID, doctorID)
		if err != nil {
			return NotesErrorMsg{Err: err}
		}
		return NotesGeneratedMsg{Record: rec}
	}
}

// fetchRecordsCmd lists the clinician's previously generated records.
func fetchRecordsCmd(client *notes.Client, store *ids.Store, station string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var doctorID string
		if store != nil {
			if got, err := store.Get(ctx, station); err == nil {
				doctorID = got.DoctorID
			}
		}

		recs, err := client.FetchRecords(ctx, doctorID)
		if err != nil {
			return NotesErrorMsg{Err: err}
		}
		return RecordsFetchedMsg{Records: recs}
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SessionUpdateMsg:
		u := msg.Update
		m.phase = u.Phase
		m.connecting = u.Connecting
		m.segments = u.Segments
		m.socket = u.Socket
		m.chunksSent = u.Chunks
		if len(u.Segments) == 0 {
			// Cleared transcript: speaker colors start over.
			m.palette.Reset()
		}
		if u.Err != nil {
			m.errMessage = u.Err.Error()
		} else {
			m.errMessage = ""
		}
		if u.Artifact != nil {
			m.artifact = &sessionArtifact{Path: u.Artifact.Path, Duration: u.Artifact.Duration}
		} else {
			m.artifact = nil
		}
		return m, listenCmd(m.ctrl)

	case NotesGeneratedMsg:
		m.notesStatus = fmt.Sprintf("Notes ready (record %s, patient %s)", msg.Record.ID, msg.Record.PatientID)
		return m, nil

	case RecordsFetchedMsg:
		if len(msg.Records) == 0 {
			m.notesStatus = "No prior records"
		} else {
			latest := msg.Records[len(msg.Records)-1]
			m.notesStatus = fmt.Sprintf("%d prior records (latest %s)", len(msg.Records), latest.ID)
		}
		return m, nil

	case NotesErrorMsg:
		m.notesStatus = ""
		m.errMessage = msg.Err.Error()
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyCtrlC:
		return m, tea.Quit

	case KeySpace:
		if m.phase == session.PhaseIdle {
			m.notesStatus = ""
			m.ctrl.StartSession()
		} else {
			m.ctrl.StopSession()
		}
		return m, nil

	case KeyClear:
		m.notesStatus = ""
		m.ctrl.ClearTranscript()
		return m, nil

	case KeyNotes:
		if m.phase != session.PhaseIdle || m.artifact == nil {
			return m, nil
		}
		if m.notes == nil {
			m.errMessage = "notes backend not configured"
			return m, nil
		}
		m.notesStatus = "Generating notes..."
		return m, generateNotesCmd(m.notes, m.ids, m.station, m.artifact.Path, TranscriptText(m.segments))

	case KeyRecords:
		if m.notes == nil {
			m.errMessage = "notes backend not configured"
			return m, nil
		}
		m.notesStatus = "Fetching prior records..."
		return m, fetchRecordsCmd(m.notes, m.ids, m.station)
	}

	return m, nil
}

// View renders the whole screen.
func (m Model) View() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, "")
	sections = append(sections, m.renderTranscript())
	sections = append(sections, "")
	sections = append(sections, m.renderStats())

	if m.artifact != nil {
		sections = append(sections, ArtifactStyle.Render(
			fmt.Sprintf("Saved %s (%.1fs)", m.artifact.Path, m.artifact.Duration.Seconds())))
	}
	if m.notesStatus != "" {
		sections = append(sections, NotesStyle.Render(m.notesStatus))
	}
	if m.errMessage != "" {
		sections = append(sections, ErrorTextStyle.Render("✖ "+m.errMessage))
	}

	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := TitleStyle.Render("DICTATE")
	if m.station != "" {
		return title + DimStyle.Render(" — station "+m.station)
	}
	return title
}

func (m Model) renderStatusBar() string {
	var dot string
	switch {
	case m.connecting:
		dot = ConnectingStyle.Render("⟳ CONNECTING")
	case m.phase == session.PhaseRecording:
		dot = RecordingDotStyle.Render("● REC")
	case m.phase == session.PhaseIdle:
		dot = IdleDotStyle.Render("○ IDLE")
	default:
		dot = DimStyle.Render("○ " + strings.ToUpper(m.phase.String()))
	}
	return dot
}

func (m Model) renderTranscript() string {
	if len(m.segments) == 0 {
		return DimStyle.Render("  No transcript yet. Press space to start dictating.")
	}

	var lines []string
	for _, seg := range m.segments {
		label := SpeakerLabel(seg.Speaker)
		styled := lipgloss.NewStyle().Foreground(m.palette.Color(seg.Speaker)).Bold(true).Render(label + ":")
		var stamp string
		if seg.HasTiming() {
			stamp = DimStyle.Render(fmt.Sprintf("[%5.1fs] ", *seg.Start))
		}
		lines = append(lines, stamp+styled+" "+seg.Text)
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderStats() string {
	words, speakers, span := transcriptStats(m.segments)
	return StatsStyle.Render(fmt.Sprintf("%d words · %d segments · %d speakers · %.1fs",
		words, len(m.segments), speakers, span))
}

func (m Model) renderFooter() string {
	keys := []struct{ key, desc string }{
		{"space", "start/stop"},
		{"c", "clear"},
		{"g", "notes"},
		{"r", "records"},
		{"q", "quit"},
	}
	var parts []string
	for _, k := range keys {
		parts = append(parts, FooterKeyStyle.Render(k.key)+FooterDescStyle.Render(" "+k.desc))
	}
	hints := strings.Join(parts, "  ")

	socket := m.socket
	if socket == "" {
		socket = "not connected"
	}
	debug := DimStyle.Render(fmt.Sprintf("socket %s · %d chunks sent", socket, m.chunksSent))
	return hints + "\n" + debug
}

// SpeakerLabel renders a speaker for display and export.
func SpeakerLabel(s transcript.Speaker) string {
	if s == transcript.SpeakerUnknown {
		return "Speaker"
	}
	return fmt.Sprintf("Speaker %d", int(s))
}

// TranscriptText flattens segments into the plain-text export form, one
// labeled line per segment.
func TranscriptText(segs []transcript.Segment) string {
	var lines []string
	for _, seg := range segs {
		lines = append(lines, SpeakerLabel(seg.Speaker)+": "+seg.Text)
	}
	return strings.Join(lines, "\n")
}

// transcriptStats derives the display statistics: total words, distinct
// speakers, and the timed span covered by word-level segments.
func transcriptStats(segs []transcript.Segment) (words, speakers int, span float64) {
	speakers = transcript.SpeakerCount(segs)
	var first, last *float64
	for _, seg := range segs {
		if len(seg.Words) > 0 {
			words += len(seg.Words)
		} else {
			words += len(strings.Fields(seg.Text))
		}
		if seg.Start != nil && (first == nil || *seg.Start < *first) {
			first = seg.Start
		}
		if seg.End != nil && (last == nil || *seg.End > *last) {
			last = seg.End
		}
	}
	if first != nil && last != nil && *last > *first {
		span = *last - *first
	}
	return words, speakers, span
}
