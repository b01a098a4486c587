package ui

import (
	"github.com/scribeworks/dictate/internal/notes"
	"github.com/scribeworks/dictate/internal/session"
)

// SessionUpdateMsg wraps one coordinator state snapshot.
type SessionUpdateMsg struct {
	Update session.Update
}

// NotesGeneratedMsg carries a successfully generated note record.
type NotesGeneratedMsg struct {
	Record *notes.Record
}

// NotesErrorMsg reports a failed notes backend call.
type NotesErrorMsg struct {
	Err error
}

// RecordsFetchedMsg carries the clinician's prior note records.
type RecordsFetchedMsg struct {
	Records []notes.Record
}
