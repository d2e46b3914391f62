// Package document defines the units recall indexes: chat messages and
// attached files, their bounded metadata, and ingestion events.
package document

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// Kind distinguishes messages from files.
type Kind string

const (
	KindMessage Kind = "message"
	KindFile    Kind = "file"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindMessage || k == KindFile
}

const (
	msgSegment  = "msg"
	fileSegment = "file"
)

// Document is a single indexable unit.
// Updating a document is delete-then-insert under the same ID.
type Document struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  Metadata  `json:"metadata"`
}

// MessageID composes the stable id of a message: <session>/msg/<msg>.
func MessageID(session, msg string) string {
	return session + "/" + msgSegment + "/" + msg
}

// FileID composes the stable id of a file: <session>/file/<rel>.
// rel is normalized to forward slashes.
func FileID(session, rel string) string {
	return session + "/" + fileSegment + "/" + path.Clean(filepath.ToSlash(rel))
}

// ParseID splits an id built by MessageID or FileID.
func ParseID(id string) (session string, kind Kind, local string, ok bool) {
	session, rest, found := strings.Cut(id, "/")
	if !found || session == "" {
		return "", "", "", false
	}
	seg, local, found := strings.Cut(rest, "/")
	if !found || local == "" {
		return "", "", "", false
	}
	switch seg {
	case msgSegment:
		return session, KindMessage, local, true
	case fileSegment:
		return session, KindFile, local, true
	default:
		return "", "", "", false
	}
}

// NewMessage builds a message document.
func NewMessage(session, msgID, text string, createdAt time.Time) *Document {
	return &Document{
		ID:        MessageID(session, msgID),
		Kind:      KindMessage,
		SessionID: session,
		Text:      text,
		CreatedAt: createdAt,
	}
}

// NewFile builds a file document for the file at absPath, known to the
// session under rel. Text is filled in by extraction.
func NewFile(session, rel, absPath string, createdAt time.Time) *Document {
	return &Document{
		ID:        FileID(session, rel),
		Kind:      KindFile,
		SessionID: session,
		Path:      absPath,
		CreatedAt: createdAt,
		Metadata: Metadata{
			FileType: strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), "."),
		},
	}
}

// Validate checks the fields every index structure relies on.
func (d *Document) Validate() error {
	if d == nil {
		return rerrors.New(rerrors.ErrCodeInvalidInput, "document is nil", nil)
	}
	if d.ID == "" {
		return rerrors.New(rerrors.ErrCodeInvalidInput, "document id is empty", nil)
	}
	if !d.Kind.Valid() {
		return rerrors.Newf(rerrors.ErrCodeInvalidInput, "document %s has unknown kind %q", d.ID, d.Kind)
	}
	if d.CreatedAt.IsZero() {
		return rerrors.Newf(rerrors.ErrCodeInvalidInput, "document %s has no created_at", d.ID)
	}
	return nil
}

// HasAttachment is true for files and for messages flagged as carrying one.
func (d *Document) HasAttachment() bool {
	return d.Kind == KindFile || d.Metadata.Attachment
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := *d
	c.Metadata = d.Metadata.Clone()
	return &c
}

func (d *Document) String() string {
	return fmt.Sprintf("%s(%s)", d.Kind, d.ID)
}
