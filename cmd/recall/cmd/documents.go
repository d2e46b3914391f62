package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/document"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/output"
)

// addOptions holds CLI flags for add.
type addOptions struct {
	session    string
	id         string
	role       string
	model      string
	tags       []string
	attachment bool
	created    string
	meta       []string
}

func newAddCmd() *cobra.Command {
	var opts addOptions

	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Index a message",
		Long: `Index a chat message. The text is taken from the arguments, or from
standard input when the only argument is "-".

Adding a message with the id of an existing one replaces it.`,
		Example: `  recall add "Remember to renew the TLS certificates" --session ops --tag todo
  pbpaste | recall add - --session notes --role user`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.session, "session", "s", "default", "Session id of the message")
	cmd.Flags().StringVar(&opts.id, "id", "", "Message id within the session (default: random)")
	cmd.Flags().StringVar(&opts.role, "role", "", "Author role, e.g. user or assistant")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model that produced the message")
	cmd.Flags().StringSliceVarP(&opts.tags, "tag", "t", nil, "Tag the message (repeatable)")
	cmd.Flags().BoolVar(&opts.attachment, "attachment", false, "Mark the message as having an attachment")
	cmd.Flags().StringVar(&opts.created, "created", "", "Creation time (YYYY-MM-DD or RFC 3339, default: now)")
	cmd.Flags().StringArrayVar(&opts.meta, "meta", nil, "Extra metadata as key=value (repeatable)")

	return cmd
}

// message builds the document to index from the flags and text.
func (o addOptions) message(text string, now time.Time) (*document.Document, error) {
	created := now.UTC()
	if o.created != "" {
		t, err := parseDate(o.created, false)
		if err != nil {
			return nil, err
		}
		created = t.UTC()
	}
	id := o.id
	if id == "" {
		id = uuid.NewString()
	}

	doc := document.NewMessage(o.session, id, text, created)
	doc.Metadata.Role = o.role
	doc.Metadata.Model = o.model
	doc.Metadata.Attachment = o.attachment
	for _, tag := range o.tags {
		doc.Metadata.AddTag(tag)
	}
	for _, kv := range o.meta {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, rerrors.Newf(rerrors.ErrCodeInvalidInput, "--meta must be key=value, got %q", kv)
		}
		if err := doc.Metadata.Set(strings.TrimSpace(key), value); err != nil {
			return nil, err
		}
	}
	return doc, doc.Validate()
}

func readText(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("failed to read standard input: %w", err)
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}

func runAdd(ctx context.Context, cmd *cobra.Command, args []string, opts addOptions) (err error) {
	text, err := readText(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return rerrors.New(rerrors.ErrCodeInvalidInput, "message text is empty", nil)
	}
	doc, err := opts.message(text, time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex(svc, &err)

	if err := svc.Apply(ctx, document.Event{Kind: document.Created, Document: doc}); err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())
	out.Successf("Indexed %s", doc.ID)
	return nil
}

func newRemoveCmd() *cobra.Command {
	var sessions []string

	cmd := &cobra.Command{
		Use:   "remove [id...]",
		Short: "Remove documents from the index",
		Long: `Remove documents by id. Message ids look like <session>/msg/<id>, file
ids like <session>/file/<path>. Unknown ids are ignored.

With --session every document of the session is removed, files included.`,
		Example: `  # Remove one message
  recall remove ops/msg/6f1c1f0e-3b7e-4c4e-9a8e-0d1b2c3d4e5f

  # Remove a whole conversation
  recall remove --session ops`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(sessions) == 0 {
				return rerrors.New(rerrors.ErrCodeInvalidInput, "nothing to remove", nil).
					WithSuggestion("Pass document ids or --session <name>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), cmd, args, sessions)
		},
	}

	cmd.Flags().StringArrayVarP(&sessions, "session", "s", nil, "Remove every document of this session (repeatable)")

	return cmd
}

func runRemove(ctx context.Context, cmd *cobra.Command, ids, sessions []string) (err error) {
	for _, id := range ids {
		if _, _, _, ok := document.ParseID(id); !ok {
			return rerrors.Newf(rerrors.ErrCodeInvalidInput, "invalid document id %q", id).
				WithSuggestion("ids look like <session>/msg/<id> or <session>/file/<path>")
		}
	}
	for _, session := range sessions {
		if err := document.ValidateSession(session); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex(svc, &err)

	out := output.New(cmd.OutOrStdout())
	var errs []error
	for _, id := range ids {
		if err := svc.Apply(ctx, document.Event{Kind: document.Deleted, ID: id}); err != nil {
			errs = append(errs, err)
			continue
		}
		out.Successf("Removed %s", id)
	}
	for _, session := range sessions {
		n, err := svc.RemoveSession(ctx, session)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out.Successf("Removed session %s (%d %s)", session, n, pluralize(n, "document", "documents"))
	}
	return errors.Join(errs...)
}
