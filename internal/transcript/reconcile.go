package transcript

import (
	"sort"
	"strings"
)

// Reconciler folds recognition events into an ordered, speaker-grouped
// transcript. Word batches may arrive out of order or re-deliver revised
// copies of words already seen; merging dedupes by the (start, text) pair
// so applying the same batch twice is a no-op.
//
// Only the trailing segment is ever modified, and modification replaces
// it wholesale rather than mutating it in place; every segment before the
// tail is immutable history.
type Reconciler struct {
	segments []Segment
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Apply folds one decoded event into the transcript. Error and
// unrecognized events leave it untouched.
func (r *Reconciler) Apply(ev Event) {
	switch ev := ev.(type) {
	case WordBatch:
		r.ApplyWords(ev.Words)
	case TextEvent:
		r.ApplyText(ev.Text)
	}
}

// ApplyWords partitions a batch into runs of consecutive same-speaker
// words, in the order received, and merges each run into the transcript:
// the run extends the trailing segment when the speaker matches,
// otherwise it opens a new one. A single batch can therefore both extend
// the tail and append several new segments.
func (r *Reconciler) ApplyWords(words []Word) {
	for _, run := range partitionRuns(words) {
		r.mergeRun(run)
	}
}

// partitionRuns splits words into runs of consecutive identical speaker
// labels, preserving arrival order.
func partitionRuns(words []Word) [][]Word {
	var runs [][]Word
	for i := 0; i < len(words); {
		j := i + 1
		for j < len(words) && words[j].Speaker == words[i].Speaker {
			j++
		}
		runs = append(runs, words[i:j])
		i = j
	}
	return runs
}

func (r *Reconciler) mergeRun(run []Word) {
	if len(run) == 0 {
		return
	}
	speaker := run[0].Speaker

	if n := len(r.segments); n > 0 && r.segments[n-1].Speaker == speaker {
		last := r.segments[n-1]

		seen := make(map[wordKey]struct{}, len(last.Words))
		for _, w := range last.Words {
			seen[wordKey{w.Start, w.Text}] = struct{}{}
		}
		var add []Word
		for _, w := range run {
			if _, dup := seen[wordKey{w.Start, w.Text}]; !dup {
				add = append(add, w)
			}
		}
		if len(add) == 0 {
			return
		}

		merged := make([]Word, 0, len(last.Words)+len(add))
		merged = append(merged, last.Words...)
		merged = append(merged, add...)
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Start < merged[j].Start
		})
		r.segments[n-1] = newSegment(speaker, merged)
		return
	}

	r.segments = append(r.segments, newSegment(speaker, append([]Word(nil), run...)))
}

// ApplyText handles the no-timing fallback: consecutive plain-text
// results accumulate into a single "unknown" segment; a new one is opened
// only when the tail already carries word-level data or a known speaker.
// Blank text is ignored entirely.
func (r *Reconciler) ApplyText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if n := len(r.segments); n > 0 {
		last := r.segments[n-1]
		if last.Speaker == SpeakerUnknown && len(last.Words) == 0 {
			r.segments[n-1] = Segment{
				Speaker: SpeakerUnknown,
				Text:    strings.TrimSpace(last.Text + " " + text),
			}
			return
		}
	}

	r.segments = append(r.segments, Segment{Speaker: SpeakerUnknown, Text: text})
}

// Snapshot returns a copy of the current segment sequence, safe to hand
// to readers while the reconciler keeps folding events.
func (r *Reconciler) Snapshot() []Segment {
	out := make([]Segment, len(r.segments))
	copy(out, r.segments)
	return out
}

// Len returns the current segment count.
func (r *Reconciler) Len() int { return len(r.segments) }

// Clear empties the transcript (user clear action or new-session start).
func (r *Reconciler) Clear() {
	r.segments = nil
}

type wordKey struct {
	start float64
	text  string
}
