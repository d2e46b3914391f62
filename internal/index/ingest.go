package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/document"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/extract"
	"github.com/Aman-CERP/recall/internal/watcher"
)

// Apply is the ingestion boundary: Created and Updated index the event's
// document, Deleted removes it and SessionDeleted removes every document
// of the session.
func (s *Service) Apply(ctx context.Context, ev document.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	switch ev.Kind {
	case document.Deleted:
		return s.Remove(ctx, ev.TargetID())
	case document.SessionDeleted:
		_, err := s.RemoveSession(ctx, ev.Session)
		return err
	default:
		return s.IndexDocument(ctx, ev.Document)
	}
}

// IndexDocument indexes doc, replacing any previous version with the same
// id in both stores.
//
// The embedding is computed on the embedding pool before the writer lock
// of doc.ID is taken, so a slow service never holds up writes of other
// documents. The lexical write always happens. When the embedder is
// unavailable the document stays lexical-only and the previous vector is
// dropped, so it is never matched on stale content; Repair embeds it
// later. A vector the store rejects is returned as an error. When writes
// of one id overlap, the one started last wins. Once started the write
// runs to completion even if ctx is cancelled.
func (s *Service) IndexDocument(ctx context.Context, doc *document.Document) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wctx := context.WithoutCancel(ctx)

	seq := s.order.begin(doc.ID)
	defer s.order.end(doc.ID)

	vec, embedErr := s.embedText(wctx, doc.Text)

	unlock := s.writers.Lock(doc.ID)
	defer unlock()

	if !s.order.commit(doc.ID, seq) {
		s.logger.Debug("document_write_superseded", slog.String("id", doc.ID))
		return nil
	}
	if err := s.lexical.Add(wctx, doc); err != nil {
		return err
	}
	err := s.storeVector(wctx, doc.ID, vec, embedErr)
	s.touch()
	if err != nil && !isVectorRejection(err) {
		s.logger.Warn("embed_failed",
			slog.String("id", doc.ID),
			slog.String("error", err.Error()))
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Debug("document_indexed", slog.String("id", doc.ID), slog.Int("bytes", len(doc.Text)))
	return nil
}

// embedText returns the vector of text, or nil for blank text.
func (s *Service) embedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return s.embeddings.Embed(ctx, text)
}

// storeVector swaps the vector of id for vec. A nil vec or a failed
// embedding leaves id without a vector. Callers hold the writer lock.
func (s *Service) storeVector(ctx context.Context, id string, vec []float32, embedErr error) error {
	if embedErr != nil || vec == nil {
		if err := s.vectors.Remove(ctx, id); err != nil {
			return err
		}
		return embedErr
	}
	if err := s.vectors.Upsert(ctx, id, vec); err != nil {
		_ = s.vectors.Remove(ctx, id)
		return err
	}
	return nil
}

// reembed refreshes the vector of an already indexed document. Unlike
// IndexDocument it reports embedding failures. A document removed or
// rewritten while it was being embedded is left to that write.
func (s *Service) reembed(ctx context.Context, doc *document.Document) error {
	vec, err := s.embedText(ctx, doc.Text)
	if err != nil {
		return err
	}

	unlock := s.writers.Lock(doc.ID)
	defer unlock()
	current, ok := s.lexical.Document(doc.ID)
	if !ok || current.Text != doc.Text {
		return nil
	}
	return s.storeVector(ctx, doc.ID, vec, nil)
}

func isVectorRejection(err error) bool {
	return rerrors.HasCode(err, rerrors.ErrCodeDimensionMismatch) ||
		rerrors.HasCode(err, rerrors.ErrCodeDegenerateVector) ||
		rerrors.HasCode(err, rerrors.ErrCodeClosed)
}

// Remove deletes id from both stores. Removing an unknown id is a no-op.
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if id == "" {
		return rerrors.New(rerrors.ErrCodeInvalidInput, "document id is empty", nil)
	}
	wctx := context.WithoutCancel(ctx)

	seq := s.order.begin(id)
	defer s.order.end(id)

	unlock := s.writers.Lock(id)
	defer unlock()

	if !s.order.commit(id, seq) {
		return nil
	}
	if err := s.lexical.Remove(wctx, id); err != nil {
		return err
	}
	if err := s.vectors.Remove(wctx, id); err != nil {
		return err
	}
	s.touch()
	s.logger.Debug("document_removed", slog.String("id", id))
	return nil
}

// RemoveSession deletes every document of session from both stores,
// including vectors whose document is already gone. Removing an unknown
// session is a no-op. It returns the number of ids removed.
func (s *Service) RemoveSession(ctx context.Context, session string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := document.ValidateSession(session); err != nil {
		return 0, err
	}
	prefix := session + "/"

	ids := s.lexical.IDs(prefix)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range s.vectors.IDs() {
		if strings.HasPrefix(id, prefix) && !seen[id] {
			ids = append(ids, id)
		}
	}

	var errs []error
	for _, id := range ids {
		errs = append(errs, s.Remove(ctx, id))
	}
	s.logger.Info("session_removed", slog.String("session", session), slog.Int("documents", len(ids)))
	return len(ids), errors.Join(errs...)
}

func (s *Service) touch() {
	s.mu.Lock()
	s.meta.LastIndexedAt = time.Now().UTC()
	s.mu.Unlock()
}

// IndexPath extracts root/rel and indexes it as a file document of the
// root's session. Files without an adapter are skipped. A file that
// vanished is removed, and one that can no longer be extracted loses its
// previous content.
func (s *Service) IndexPath(ctx context.Context, root, rel string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if !extract.Supported(abs) {
		s.logger.Debug("index_path_skipped", slog.String("path", abs))
		return nil
	}

	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return s.RemovePath(ctx, root, rel)
	}
	if err != nil {
		return rerrors.New(rerrors.ErrCodeFilePermission, "cannot stat file", err).WithDetail("path", abs)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	session := s.sessionFor(root)
	doc := document.NewFile(session, rel, abs, info.ModTime().UTC())
	text, err := s.extractor.Extract(ctx, abs, "")
	if err != nil {
		if ctx.Err() == nil {
			_ = s.Remove(ctx, doc.ID)
		}
		return err
	}
	doc.Text = text
	return s.IndexDocument(ctx, doc)
}

// RemovePath removes root/rel. When rel is a directory every file
// document below it is removed.
func (s *Service) RemovePath(ctx context.Context, root, rel string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	id := document.FileID(s.sessionFor(root), rel)
	if s.lexical.Contains(id) || s.vectors.Contains(id) {
		return s.Remove(ctx, id)
	}

	ids := s.lexical.IDs(id + "/")
	for _, vid := range s.vectors.IDs() {
		if strings.HasPrefix(vid, id+"/") && !s.lexical.Contains(vid) {
			ids = append(ids, vid)
		}
	}
	var errs []error
	for _, child := range ids {
		errs = append(errs, s.Remove(ctx, child))
	}
	return errors.Join(errs...)
}

// IndexedPaths lists the relative paths of the file documents of root's
// session.
func (s *Service) IndexedPaths(root string) []string {
	prefix := s.sessionFor(root) + "/" + string(document.KindFile) + "/"
	ids := s.lexical.IDs(prefix)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strings.TrimPrefix(id, prefix)
	}
	return out
}

// RebuildStats counts the work done by Rebuild.
type RebuildStats struct {
	Reindexed int           `json:"reindexed"`
	Scanned   int           `json:"scanned"`
	Removed   int           `json:"removed"`
	Failed    int           `json:"failed"`
	Took      time.Duration `json:"took"`
}

// Rebuild re-analyzes and re-embeds every retained document, re-extracts
// file documents from their source, and then indexes files under roots
// that are not indexed yet. Cancellation is checked between documents;
// a cancelled rebuild leaves the index flagged for another one.
func (s *Service) Rebuild(ctx context.Context, roots []config.RootConfig) (*RebuildStats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	stats := &RebuildStats{}
	done := make(map[string]bool)

	s.logger.Info("rebuild_started", slog.Int("documents", s.lexical.Stats().Documents), slog.Int("roots", len(roots)))

	// vectors without a document would survive a re-embed pass
	check, err := s.checker.Check(ctx)
	if err != nil {
		return s.rebuildCancelled(stats, start, err)
	}
	for _, issue := range check.Inconsistencies {
		if issue.Type == InconsistencyOrphanVector {
			_ = s.vectors.Remove(ctx, issue.DocID)
		}
	}

	for _, id := range s.lexical.IDs("") {
		if err := ctx.Err(); err != nil {
			return s.rebuildCancelled(stats, start, err)
		}
		done[id] = true
		doc, ok := s.lexical.Document(id)
		if !ok {
			continue
		}
		err := s.reindex(ctx, doc)
		switch {
		case errors.Is(err, os.ErrNotExist):
			stats.Removed++
		case err != nil:
			stats.Failed++
			s.logger.Warn("rebuild_document_failed", slog.String("id", id), slog.String("error", err.Error()))
		default:
			stats.Reindexed++
		}
	}

	m := watcher.NewMatcher(s.cfg.Watch.Exclude)
	for _, r := range roots {
		session := s.AddRoot(r)
		err := watcher.Walk(ctx, r.Path, m, func(rel string) error {
			if done[document.FileID(session, rel)] || !extract.Supported(rel) {
				return nil
			}
			if err := s.IndexPath(ctx, r.Path, rel); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				stats.Failed++
				s.logger.Warn("rebuild_path_failed", slog.String("path", rel), slog.String("error", err.Error()))
				return nil
			}
			stats.Scanned++
			return nil
		})
		if ctx.Err() != nil {
			return s.rebuildCancelled(stats, start, ctx.Err())
		}
		if err != nil {
			stats.Failed++
			s.logger.Warn("rebuild_walk_failed", slog.String("root", r.Path), slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	s.reasons = nil
	s.meta.EmbedderModel = s.embedder.ModelName()
	s.mu.Unlock()
	stats.Took = time.Since(start)

	s.logger.Info("rebuild_done",
		slog.Int("reindexed", stats.Reindexed),
		slog.Int("scanned", stats.Scanned),
		slog.Int("removed", stats.Removed),
		slog.Int("failed", stats.Failed),
		slog.Duration("took", stats.Took))
	return stats, s.Flush()
}

func (s *Service) rebuildCancelled(stats *RebuildStats, start time.Time, err error) (*RebuildStats, error) {
	stats.Took = time.Since(start)
	s.mu.Lock()
	if len(s.reasons) == 0 {
		s.reasons = []string{"rebuild was interrupted"}
	}
	s.mu.Unlock()
	s.logger.Info("rebuild_cancelled", slog.Int("reindexed", stats.Reindexed), slog.Int("scanned", stats.Scanned))
	return stats, err
}

// reindex refreshes one retained document. File documents are extracted
// again from their source; a source that is gone removes the document and
// returns os.ErrNotExist.
func (s *Service) reindex(ctx context.Context, doc *document.Document) error {
	if doc.Kind != document.KindFile || doc.Path == "" {
		return s.IndexDocument(ctx, doc)
	}
	info, err := os.Stat(doc.Path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.Remove(ctx, doc.ID); err != nil {
			return err
		}
		return os.ErrNotExist
	}
	if err != nil {
		return err
	}
	text, err := s.extractor.Extract(ctx, doc.Path, "")
	if err != nil {
		return err
	}
	doc.Text = text
	doc.CreatedAt = info.ModTime().UTC()
	return s.IndexDocument(ctx, doc)
}
