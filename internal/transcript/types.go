package transcript

import "strconv"

// Speaker is a diarization label assigned by the recognition service.
// Labels are non-negative integers; SpeakerUnknown marks segments built
// from plain-text results that carried no speaker information.
type Speaker int

const SpeakerUnknown Speaker = -1

func (s Speaker) String() string {
	if s == SpeakerUnknown {
		return "unknown"
	}
	return strconv.Itoa(int(s))
}

// Word is the smallest recognition unit. Immutable once created.
type Word struct {
	Text       string
	Start      float64 // seconds from session start
	End        float64
	Confidence float64
	Speaker    Speaker
}

// Segment is a maximal run of consecutive same-speaker words. Start and
// End are nil for segments built from plain-text results without
// word-level timing.
type Segment struct {
	Speaker Speaker
	Words   []Word
	Start   *float64
	End     *float64
	Text    string
}

// HasTiming reports whether the segment carries word-level timing.
func (s Segment) HasTiming() bool {
	return len(s.Words) > 0
}

// newSegment builds a segment from a non-empty run of same-speaker words.
func newSegment(speaker Speaker, words []Word) Segment {
	start := words[0].Start
	end := words[len(words)-1].End
	return Segment{
		Speaker: speaker,
		Words:   words,
		Start:   &start,
		End:     &end,
		Text:    joinWords(words),
	}
}

func joinWords(words []Word) string {
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

// SpeakerCount returns the number of distinct speaker labels in segs.
func SpeakerCount(segs []Segment) int {
	seen := make(map[Speaker]struct{}, 4)
	for _, s := range segs {
		seen[s.Speaker] = struct{}{}
	}
	return len(seen)
}
