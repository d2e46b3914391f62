package document

import (
	"strings"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// EventKind is the kind of change crossing the ingestion boundary.
type EventKind int

const (
	Created EventKind = iota
	Updated
	Deleted
	// SessionDeleted destroys every document of Event.Session.
	SessionDeleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	case SessionDeleted:
		return "session_deleted"
	default:
		return "unknown"
	}
}

// Event is a document change from the host application.
// Deleted events only need ID, SessionDeleted events only Session; the
// others carry the full Document.
type Event struct {
	Kind     EventKind
	ID       string
	Session  string
	Document *Document
}

// TargetID returns the id the event applies to.
func (e Event) TargetID() string {
	if e.Document != nil {
		return e.Document.ID
	}
	return e.ID
}

// Validate checks that the event carries what its kind needs.
func (e Event) Validate() error {
	switch e.Kind {
	case Created, Updated:
		return e.Document.Validate()
	case Deleted:
		if e.TargetID() == "" {
			return rerrors.New(rerrors.ErrCodeInvalidInput, "delete event has no id", nil)
		}
		return nil
	case SessionDeleted:
		return ValidateSession(e.Session)
	default:
		return rerrors.Newf(rerrors.ErrCodeInvalidInput, "unknown event kind %d", int(e.Kind))
	}
}

// ValidateSession checks that session can prefix document ids.
func ValidateSession(session string) error {
	if session == "" {
		return rerrors.New(rerrors.ErrCodeInvalidInput, "session is empty", nil)
	}
	if strings.Contains(session, "/") {
		return rerrors.Newf(rerrors.ErrCodeInvalidInput, "session %q contains a slash", session)
	}
	return nil
}
