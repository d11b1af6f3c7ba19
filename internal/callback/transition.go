package callback

import (
	"errors"
	"fmt"

	"docedit/internal/model"
)

// ErrSaveInProgress is the rejection for a save that arrives while another
// save holds the document.
var ErrSaveInProgress = errors.New("save already in progress")

// State is the part of a document record the state machine reads.
type State struct {
	Status  model.Status
	Editors []string
}

// Effect is a side effect the runner must perform, in order.
type Effect interface {
	effect()
}

// SetState persists status and editors.
type SetState struct {
	Status  model.Status
	Editors []string
}

// ClaimSave atomically moves the record to saving. Failure means another
// writer holds the save slot.
type ClaimSave struct{}

// FetchContent downloads the new version.
type FetchContent struct {
	URL string
}

// ReplaceContent atomically swaps the fetched bytes into the document path.
type ReplaceContent struct{}

// CommitVersion bumps the version, stores the new size and returns to ready.
type CommitVersion struct{}

// ArchiveVersion copies the committed bytes to the version archive. Best effort.
type ArchiveVersion struct{}

// Log records the event without touching state.
type Log struct {
	Message string
}

func (SetState) effect()       {}
func (ClaimSave) effect()      {}
func (FetchContent) effect()   {}
func (ReplaceContent) effect() {}
func (CommitVersion) effect()  {}
func (ArchiveVersion) effect() {}
func (Log) effect()            {}

// Decision is the outcome of a transition. When Reject is set nothing runs.
// OnFailure runs if an effect after a successful ClaimSave fails.
type Decision struct {
	Effects   []Effect
	OnFailure []Effect
	Reject    error
}

// Transition computes the effects for ev applied to a document in state s.
// It performs no I/O.
func Transition(s State, ev Event) Decision {
	switch e := ev.(type) {
	case EditingStarted:
		editors, status := e.Editors, model.StatusEditing
		if len(editors) == 0 {
			editors, status = []string{}, model.StatusReady
		}
		// An in-flight save keeps its claim; only the editor list moves.
		if s.Status == model.StatusSaving {
			status = model.StatusSaving
		}
		return Decision{Effects: []Effect{SetState{Status: status, Editors: editors}}}

	case SaveRequested:
		if s.Status == model.StatusSaving {
			return Decision{Reject: ErrSaveInProgress}
		}
		if e.URL == "" {
			return Decision{Effects: []Effect{Log{Message: "save requested without url"}}}
		}
		return Decision{
			Effects: []Effect{
				ClaimSave{},
				FetchContent{URL: e.URL},
				ReplaceContent{},
				CommitVersion{},
				ArchiveVersion{},
			},
			OnFailure: []Effect{SetState{Status: model.StatusReady, Editors: []string{}}},
		}

	case ReadyForSaving:
		return Decision{Effects: []Effect{Log{Message: "document ready for saving"}}}

	case SaveFailed, EditorsIdle, SessionExpired:
		return Decision{Effects: []Effect{SetState{Status: model.StatusReady, Editors: []string{}}}}

	case Unrecognized:
		return Decision{Effects: []Effect{Log{Message: fmt.Sprintf("ignoring status %d", e.Status)}}}
	}
	return Decision{Effects: []Effect{Log{Message: "ignoring event"}}}
}
