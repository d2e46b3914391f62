package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/document"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/output"
	"github.com/Aman-CERP/recall/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	format     string // "text", "json"
	from       string
	to         string
	tags       []string
	kind       string
	attachment bool
	session    string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Search messages and files with hybrid search.

BM25 keyword ranking and embedding similarity run side by side and their
scores are merged. When the embedder is unreachable the results come from
keyword matching alone and are marked as degraded.`,
		Example: `  recall search "quarterly budget"
  recall search invoice --kind file --from 2024-01-01
  recall search "deploy steps" --tag ops --session work --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.query(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("attachment") {
				q.Filters.HasAttachment = &opts.attachment
			}
			return runSearch(cmd.Context(), cmd, q, opts.format)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: search.default_limit)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringVar(&opts.from, "from", "", "Only documents created at or after this date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Only documents created at or before this date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringSliceVarP(&opts.tags, "tag", "t", nil, "Require a tag (repeatable)")
	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "Filter by kind: message, file")
	cmd.Flags().BoolVar(&opts.attachment, "attachment", false, "Filter by whether the document has an attachment")
	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "Filter by session id")

	return cmd
}

// query validates the flags and builds the search request.
func (o searchOptions) query(text string) (search.Query, error) {
	q := search.Query{Text: text, Limit: o.limit}
	if o.limit < 0 {
		return q, rerrors.Newf(rerrors.ErrCodeInvalidInput, "--limit must not be negative, got %d", o.limit)
	}
	switch o.format {
	case "text", "json":
	default:
		return q, rerrors.Newf(rerrors.ErrCodeInvalidInput, "--format must be text or json, got %q", o.format)
	}

	var err error
	if q.Filters.From, err = parseDate(o.from, false); err != nil {
		return q, err
	}
	if q.Filters.To, err = parseDate(o.to, true); err != nil {
		return q, err
	}
	if !q.Filters.From.IsZero() && !q.Filters.To.IsZero() && q.Filters.To.Before(q.Filters.From) {
		return q, rerrors.New(rerrors.ErrCodeInvalidInput, "--to is before --from", nil)
	}

	if o.kind != "" {
		kind := document.Kind(strings.ToLower(o.kind))
		if !kind.Valid() {
			return q, rerrors.Newf(rerrors.ErrCodeInvalidInput, "--kind must be message or file, got %q", o.kind)
		}
		q.Filters.Kind = kind
	}
	q.Filters.Tags = o.tags
	q.Filters.Session = o.session
	return q, nil
}

// parseDate accepts RFC 3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, time.Local)
	if err != nil {
		return time.Time{}, rerrors.Newf(rerrors.ErrCodeInvalidInput, "invalid date %q, use YYYY-MM-DD or RFC 3339", v)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

func runSearch(ctx context.Context, cmd *cobra.Command, q search.Query, format string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex(svc, &err)

	slog.Debug("search_started", slog.String("query", q.Text), slog.Int("limit", q.Limit))
	resp, err := svc.Query(ctx, q)
	if err != nil {
		return err
	}
	slog.Debug("search_complete",
		slog.Int("results", len(resp.Results)),
		slog.Bool("degraded", resp.Degraded),
		slog.Duration("took", resp.Took))

	out := output.New(cmd.OutOrStdout())
	if format == "json" {
		return out.JSON(resp)
	}
	printResults(out, q.Text, resp)
	if svc.NeedsRebuild() {
		out.Newline()
		out.Warning("Index needs a rebuild, results may be incomplete. Run 'recall rebuild'")
	}
	return nil
}

func printResults(out *output.Writer, query string, resp *search.Response) {
	if resp.Degraded {
		out.Warningf("Semantic search unavailable (%s), showing keyword matches only", resp.Reason)
	}
	if len(resp.Results) == 0 {
		out.Statusf("", "No results for %q", query)
		return
	}

	out.Header(fmt.Sprintf("%d results for %q", len(resp.Results), query))
	out.Newline()
	for i, r := range resp.Results {
		title := r.DocID
		if r.Path != "" {
			title = r.Path
		}
		out.Statusf(fmt.Sprintf("%2d.", i+1), "%s  %s", title, out.Styles().Dim.Render(fmt.Sprintf("%.3f", r.CombinedScore)))
		out.Dim(fmt.Sprintf("    %s · %s · %s", r.SessionID, r.Kind, output.FormatTime(r.CreatedAt)))
		if r.Snippet != "" {
			out.Statusf("", " %s", r.Snippet)
		}
		out.Newline()
	}
	out.Dim(fmt.Sprintf("took %s", resp.Took.Round(time.Millisecond)))
}
