package document

import (
	"slices"
	"strconv"
	"strings"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// Bounds for free-form metadata.
const (
	MaxExtraEntries    = 16
	MaxExtraKeyBytes   = 64
	MaxExtraValueBytes = 512
)

// Known metadata keys with typed fields.
const (
	KeyRole       = "role"
	KeyModel      = "model"
	KeyTags       = "tags"
	KeyFileType   = "file_type"
	KeyAttachment = "attachment"
)

var (
	// ErrMetadataFull is returned when Extra already holds MaxExtraEntries keys.
	ErrMetadataFull = rerrors.New(rerrors.ErrCodeMetadataFull, "metadata extra entries exhausted", nil)

	// ErrMetadataTooLarge is returned for oversized keys or values.
	ErrMetadataTooLarge = rerrors.New(rerrors.ErrCodeMetadataTooLarge, "metadata key or value too large", nil)
)

// Metadata is the closed set of known attributes plus a bounded map for the rest.
type Metadata struct {
	Role       string            `json:"role,omitempty"`
	Model      string            `json:"model,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	FileType   string            `json:"file_type,omitempty"`
	Attachment bool              `json:"attachment,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Set routes a known key to its typed field and anything else into Extra.
// Tags are comma separated; attachment accepts strconv.ParseBool forms.
func (m *Metadata) Set(key, value string) error {
	switch key {
	case KeyRole:
		m.Role = value
	case KeyModel:
		m.Model = value
	case KeyFileType:
		m.FileType = strings.ToLower(value)
	case KeyTags:
		m.Tags = m.Tags[:0]
		for _, tag := range strings.Split(value, ",") {
			m.AddTag(tag)
		}
	case KeyAttachment:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return rerrors.Newf(rerrors.ErrCodeInvalidInput, "attachment must be a boolean, got %q", value)
		}
		m.Attachment = b
	default:
		return m.setExtra(key, value)
	}
	return nil
}

func (m *Metadata) setExtra(key, value string) error {
	if key == "" {
		return rerrors.New(rerrors.ErrCodeInvalidInput, "metadata key is empty", nil)
	}
	if len(key) > MaxExtraKeyBytes || len(value) > MaxExtraValueBytes {
		return ErrMetadataTooLarge
	}
	if _, exists := m.Extra[key]; !exists && len(m.Extra) >= MaxExtraEntries {
		return ErrMetadataFull
	}
	if m.Extra == nil {
		m.Extra = make(map[string]string)
	}
	m.Extra[key] = value
	return nil
}

// Get returns the string form of any key.
func (m *Metadata) Get(key string) (string, bool) {
	switch key {
	case KeyRole:
		return m.Role, m.Role != ""
	case KeyModel:
		return m.Model, m.Model != ""
	case KeyFileType:
		return m.FileType, m.FileType != ""
	case KeyTags:
		return strings.Join(m.Tags, ","), len(m.Tags) > 0
	case KeyAttachment:
		return strconv.FormatBool(m.Attachment), m.Attachment
	}
	v, ok := m.Extra[key]
	return v, ok
}

// AddTag adds a normalized tag once.
func (m *Metadata) AddTag(tag string) {
	tag = normalizeTag(tag)
	if tag == "" || slices.Contains(m.Tags, tag) {
		return
	}
	m.Tags = append(m.Tags, tag)
}

// HasAllTags reports whether every tag in want is present.
func (m *Metadata) HasAllTags(want []string) bool {
	for _, tag := range want {
		if !slices.Contains(m.Tags, normalizeTag(tag)) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	c := m
	c.Tags = slices.Clone(m.Tags)
	if m.Extra != nil {
		c.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
