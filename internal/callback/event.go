package callback

import "fmt"

// Event is one interpreted callback notification. The concrete types below
// are the only implementations.
type Event interface {
	// Kind is a stable label used in logs and metrics.
	Kind() string
	event()
}

// EditingStarted reports the current set of users with the document open.
type EditingStarted struct {
	Editors []string
}

// SaveRequested means the editing session produced a new version at URL.
type SaveRequested struct {
	URL     string
	Editors []string
}

// ReadyForSaving is informational; no bytes are available yet.
type ReadyForSaving struct{}

// SaveFailed means the document server could not build the new version.
type SaveFailed struct{}

// EditorsIdle means every editor left without changes.
type EditorsIdle struct{}

// SessionExpired means the server dropped the session.
type SessionExpired struct{}

// Unrecognized carries a status code this service does not act on.
type Unrecognized struct {
	Status int
}

func (EditingStarted) Kind() string { return "editing_started" }
func (SaveRequested) Kind() string  { return "save_requested" }
func (ReadyForSaving) Kind() string { return "ready_for_saving" }
func (SaveFailed) Kind() string     { return "save_failed" }
func (EditorsIdle) Kind() string    { return "editors_idle" }
func (SessionExpired) Kind() string { return "session_expired" }
func (Unrecognized) Kind() string   { return "unrecognized" }

func (EditingStarted) event() {}
func (SaveRequested) event()  {}
func (ReadyForSaving) event() {}
func (SaveFailed) event()     {}
func (EditorsIdle) event()    {}
func (SessionExpired) event() {}
func (Unrecognized) event()   {}

// Parse maps a payload to its event.
func Parse(p Payload) Event {
	switch p.Status {
	case StatusEditing:
		return EditingStarted{Editors: p.EditorIDs()}
	case StatusMustSave:
		return SaveRequested{URL: p.URL, Editors: p.EditorIDs()}
	case StatusReadyForSaving:
		return ReadyForSaving{}
	case StatusSaveError:
		return SaveFailed{}
	case StatusEditorsIdle:
		return EditorsIdle{}
	case StatusSessionExpired:
		return SessionExpired{}
	default:
		return Unrecognized{Status: p.Status}
	}
}

// Validate checks what the schema cannot see per status: a save needs a
// download url. It runs after the key is known to exist.
func Validate(ev Event) error {
	if s, ok := ev.(SaveRequested); ok && s.URL == "" {
		return fmt.Errorf("%w: save without url", ErrInvalidPayload)
	}
	return nil
}

// IsSave reports whether ev needs the exclusive save slot for its key.
func IsSave(ev Event) bool {
	_, ok := ev.(SaveRequested)
	return ok
}
