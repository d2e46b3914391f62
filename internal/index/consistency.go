package index

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/recall/internal/document"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanVector is a vector whose document is not in the
	// lexical index.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyMissingVector is a document with text but no vector,
	// typically left behind while the embedder was unavailable.
	InconsistencyMissingVector
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected cross-store issue.
type Inconsistency struct {
	Type  InconsistencyType
	DocID string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of documents verified.
	Checked int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Count returns the number of issues of type t.
func (r *CheckResult) Count(t InconsistencyType) int {
	n := 0
	for _, i := range r.Inconsistencies {
		if i.Type == t {
			n++
		}
	}
	return n
}

// RepairResult counts what Repair fixed.
type RepairResult struct {
	OrphansRemoved int
	Reembedded     int
	Failed         int
}

type documentSource interface {
	IDs(prefix string) []string
	Document(id string) (*document.Document, bool)
}

type vectorSource interface {
	IDs() []string
	Remove(ctx context.Context, id string) error
}

// ConsistencyChecker compares the lexical index, which is the source of
// truth for documents, with the vector store.
type ConsistencyChecker struct {
	docs    documentSource
	vectors vectorSource
	logger  *slog.Logger
}

// NewConsistencyChecker creates a checker over the two stores.
func NewConsistencyChecker(docs documentSource, vectors vectorSource, logger *slog.Logger) *ConsistencyChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsistencyChecker{docs: docs, vectors: vectors, logger: logger}
}

// Check lists orphan vectors and documents missing a vector. It is O(n)
// in the number of documents.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	docIDs := c.docs.IDs("")
	known := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		known[id] = true
	}

	var issues []Inconsistency
	vecIDs := c.vectors.IDs()
	hasVector := make(map[string]bool, len(vecIDs))
	for _, id := range vecIDs {
		hasVector[id] = true
		if !known[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, DocID: id})
		}
	}

	for i, id := range docIDs {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if hasVector[id] {
			continue
		}
		doc, ok := c.docs.Document(id)
		if !ok || strings.TrimSpace(doc.Text) == "" {
			continue
		}
		issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, DocID: id})
	}

	return &CheckResult{
		Checked:         len(docIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair removes orphan vectors and re-embeds documents missing one.
// Failures are logged and counted; cancellation stops between documents.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency, reembed func(context.Context, *document.Document) error) (*RepairResult, error) {
	res := &RepairResult{}
	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch issue.Type {
		case InconsistencyOrphanVector:
			if err := c.vectors.Remove(ctx, issue.DocID); err != nil {
				res.Failed++
				c.logger.Warn("orphan_vector_remove_failed", slog.String("id", issue.DocID), slog.String("error", err.Error()))
				continue
			}
			res.OrphansRemoved++
		case InconsistencyMissingVector:
			doc, ok := c.docs.Document(issue.DocID)
			if !ok {
				continue
			}
			if err := reembed(ctx, doc); err != nil {
				res.Failed++
				c.logger.Warn("reembed_failed", slog.String("id", issue.DocID), slog.String("error", err.Error()))
				continue
			}
			res.Reembedded++
		}
	}

	c.logger.Info("consistency_repaired",
		slog.Int("orphans_removed", res.OrphansRemoved),
		slog.Int("reembedded", res.Reembedded),
		slog.Int("failed", res.Failed))
	return res, nil
}
