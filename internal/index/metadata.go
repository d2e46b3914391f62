package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/recall/internal/analysis"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// SchemaVersion is bumped whenever the persisted layout changes.
const SchemaVersion = 1

// MetadataFileName is the metadata file kept in the data dir.
const MetadataFileName = "metadata.json"

// Metadata describes a persisted index.
type Metadata struct {
	SchemaVersion   int       `json:"schema_version"`
	AnalysisVersion string    `json:"analysis_version"`
	LastIndexedAt   time.Time `json:"last_indexed_at,omitzero"`
	TotalDocuments  int       `json:"total_documents"`
	EmbedderModel   string    `json:"embedder_model,omitempty"`
	Dimensions      int       `json:"dimensions,omitempty"`
	// RebuildPending survives restarts until a Rebuild completes.
	RebuildPending bool `json:"rebuild_pending,omitempty"`
}

// LoadMetadata reads path. A missing file returns (nil, nil); an
// unreadable one returns ErrCodeCorruptIndex.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeFilePermission, "cannot read index metadata", err).WithDetail("path", path)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeCorruptIndex, "index metadata is corrupt", err).WithDetail("path", path)
	}
	return &m, nil
}

// Save writes m to path atomically (temp file + rename).
func (m *Metadata) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rerrors.New(rerrors.ErrCodeFilePermission, "failed to create data directory", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return rerrors.New(rerrors.ErrCodeFilePermission, "failed to write index metadata", err).WithDetail("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return rerrors.New(rerrors.ErrCodeFilePermission, "failed to replace index metadata", err).WithDetail("path", path)
	}
	return nil
}

// Mismatches lists why an index described by m cannot be reused with the
// current schema, analyzer and embedder. model or dims left empty are not
// compared.
func (m *Metadata) Mismatches(model string, dims int) []string {
	var out []string
	if m.SchemaVersion != SchemaVersion {
		out = append(out, fmt.Sprintf("schema version %d, want %d", m.SchemaVersion, SchemaVersion))
	}
	if m.AnalysisVersion != "" && m.AnalysisVersion != analysis.Version {
		out = append(out, fmt.Sprintf("analyzer %s, want %s", m.AnalysisVersion, analysis.Version))
	}
	if model != "" && m.EmbedderModel != "" && m.EmbedderModel != model {
		out = append(out, fmt.Sprintf("embedder model %s, want %s", m.EmbedderModel, model))
	}
	if dims > 0 && m.Dimensions > 0 && m.Dimensions != dims {
		out = append(out, fmt.Sprintf("dimensions %d, want %d", m.Dimensions, dims))
	}
	return out
}
