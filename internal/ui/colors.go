package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/scribeworks/dictate/internal/transcript"
)

// speakerColors is the fixed palette for diarized speakers. Colors are
// assigned in order of first appearance, so labels stay stable within
// one transcript but carry no meaning across transcripts.
var speakerColors = []lipgloss.Color{
	"#4285F4",
	"#EA4335",
	"#FBBC05",
	"#34A853",
	"#8F00FF",
	"#FF6D01",
}

var unknownSpeakerColor = lipgloss.Color("#757575")

// SpeakerPalette maps speaker labels to display colors for a single
// transcript instance. Reset it whenever the transcript is cleared.
type SpeakerPalette struct {
	assigned map[transcript.Speaker]lipgloss.Color
	next     int
}

func NewSpeakerPalette() *SpeakerPalette {
	return &SpeakerPalette{assigned: make(map[transcript.Speaker]lipgloss.Color)}
}

func (p *SpeakerPalette) Color(s transcript.Speaker) lipgloss.Color {
	if s == transcript.SpeakerUnknown {
		return unknownSpeakerColor
	}
	if c, ok := p.assigned[s]; ok {
		return c
	}
	c := speakerColors[p.next%len(speakerColors)]
	p.assigned[s] = c
	p.next++
	return c
}

func (p *SpeakerPalette) Reset() {
	p.assigned = make(map[transcript.Speaker]lipgloss.Color)
	p.next = 0
}
