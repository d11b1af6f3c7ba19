package callback

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Status codes sent by the document server in the callback body.
const (
	StatusEditing        = 1
	StatusMustSave       = 2
	StatusReadyForSaving = 3
	StatusSaveError      = 4
	StatusEditorsIdle    = 6
	StatusSessionExpired = 7
)

// EditorRef identifies a user attached to an editing session. The document
// server sends either bare ids or {id, name} objects.
type EditorRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (e *EditorRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &e.ID)
	}
	type plain EditorRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("decode user: %w", err)
	}
	*e = EditorRef(p)
	return nil
}

// Action is one entry of the optional actions list (connect/disconnect).
type Action struct {
	Type   int    `json:"type"`
	UserID string `json:"userid"`
}

// Payload is the decoded callback request body.
type Payload struct {
	Key     string      `json:"key"`
	Status  int         `json:"status"`
	URL     string      `json:"url,omitempty"`
	Users   []EditorRef `json:"users,omitempty"`
	Actions []Action    `json:"actions,omitempty"`
	Token   string      `json:"token,omitempty"`
}

// EditorIDs returns the reported user ids in order, skipping blanks and repeats.
func (p Payload) EditorIDs() []string {
	ids := make([]string, 0, len(p.Users))
	seen := make(map[string]struct{}, len(p.Users))
	for _, u := range p.Users {
		if u.ID == "" {
			continue
		}
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		ids = append(ids, u.ID)
	}
	return ids
}
