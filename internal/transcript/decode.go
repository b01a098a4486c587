package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is one decoded recognition-service frame. Exactly one variant is
// produced per inbound message; malformed frames produce an error instead.
type Event interface {
	event()
}

// ErrorEvent is a service-side error frame. It is reported and otherwise
// ignored for transcript purposes.
type ErrorEvent struct {
	Reason      string
	Description string
}

// WordBatch is a word-level result: an ordered list of words with timing
// and speaker labels.
type WordBatch struct {
	Words []Word
}

// TextEvent is a plain-text result with no word-level timing (the
// service's fallback mode).
type TextEvent struct {
	Text string
}

// Unrecognized is any frame shape this client does not understand. It is
// dropped silently.
type Unrecognized struct{}

func (ErrorEvent) event()   {}
func (WordBatch) event()    {}
func (TextEvent) event()    {}
func (Unrecognized) event() {}

// MalformedMessageError wraps a frame that failed to parse. The caller
// logs it and drops the single message; it never aborts the session.
type MalformedMessageError struct {
	Err error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed recognition message: %v", e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// Wire shapes for the recognition service's JSON frames.
type wireResponse struct {
	Type        string `json:"type"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
	Channel     struct {
		Alternatives []struct {
			Transcript string     `json:"transcript"`
			Words      []wireWord `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type wireWord struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	Speaker        *int    `json:"speaker"`
}

// Decode classifies one inbound text frame into exactly one Event
// variant. JSON that does not parse returns a MalformedMessageError;
// shapes the client does not recognize decode to Unrecognized.
func Decode(frame []byte) (Event, error) {
	var resp wireResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, &MalformedMessageError{Err: err}
	}

	if resp.Type == "Error" {
		return ErrorEvent{Reason: resp.Reason, Description: resp.Description}, nil
	}

	if len(resp.Channel.Alternatives) == 0 {
		return Unrecognized{}, nil
	}
	alt := resp.Channel.Alternatives[0]

	if len(alt.Words) > 0 {
		words := make([]Word, 0, len(alt.Words))
		for _, w := range alt.Words {
			text := w.PunctuatedWord
			if text == "" {
				text = w.Word
			}
			// A word-level result that omits the speaker field entirely
			// still belongs to a diarized batch; default it to speaker 0.
			speaker := Speaker(0)
			if w.Speaker != nil {
				speaker = Speaker(*w.Speaker)
			}
			words = append(words, Word{
				Text:       text,
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Confidence,
				Speaker:    speaker,
			})
		}
		return WordBatch{Words: words}, nil
	}

	if text := strings.TrimSpace(alt.Transcript); text != "" {
		return TextEvent{Text: text}, nil
	}

	return Unrecognized{}, nil
}
