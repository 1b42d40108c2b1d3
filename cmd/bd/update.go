package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

// stringUpdateFlags maps update flags onto the issue field they patch.
var stringUpdateFlags = []struct{ flag, field string }{
	{"title", "title"},
	{"assignee", "assignee"},
	{"description", "description"},
	{"design", "design"},
	{"acceptance", "acceptance_criteria"},
	{"notes", "notes"},
	{"status", "status"},
	{"type", "issue_type"},
}

func newUpdateCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "update [id...]",
		GroupID: groupIssues,
		Short:   "Update one or more issues",
		Long: `Patch the given fields of one or more issues. Without an ID the last touched
issue is updated. --expect-hash makes the update fail with a conflict when the
issue changed since its content hash was read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := buildUpdates(cmd, time.Now())
			if err != nil {
				return err
			}
			addLabels, _ := cmd.Flags().GetStringSlice("add-label")
			removeLabels, _ := cmd.Flags().GetStringSlice("remove-label")
			if len(updates) == 0 && len(addLabels) == 0 && len(removeLabels) == 0 {
				return fmt.Errorf("no updates specified: %w", storage.ErrInvalidInput)
			}
			expectHash, _ := cmd.Flags().GetString("expect-hash")

			store, err := s.mustStore()
			if err != nil {
				return err
			}
			ids, err := s.resolveIDs(store, args)
			if err != nil {
				return err
			}
			if expectHash != "" && len(ids) > 1 {
				return fmt.Errorf("--expect-hash applies to a single issue: %w", storage.ErrInvalidInput)
			}

			var updated []*types.Issue
			for _, id := range ids {
				if len(updates) > 0 {
					cond := storage.Precondition{ContentHash: expectHash}
					if err := store.UpdateIssueIf(s.ctx, id, cond, updates, s.actor); err != nil {
						return err
					}
				}
				for _, label := range normalizeLabels(addLabels) {
					if err := store.AddLabel(s.ctx, id, label, s.actor); err != nil {
						return err
					}
				}
				for _, label := range normalizeLabels(removeLabels) {
					if err := store.RemoveLabel(s.ctx, id, label, s.actor); err != nil {
						return err
					}
				}
				issue, err := store.GetIssue(s.ctx, id)
				if err != nil {
					return err
				}
				updated = append(updated, issue)
				s.setLastTouched(id)
			}

			return s.emit(updated, func(w io.Writer) {
				for _, issue := range updated {
					fmt.Fprintf(w, "✓ Updated issue: %s\n", issue.ID)
				}
			})
		},
	}

	flags := cmd.Flags()
	flags.String("title", "", "New title")
	flags.StringP("assignee", "a", "", "New assignee (empty string to unassign)")
	flags.StringP("description", "d", "", "New description")
	flags.String("design", "", "New design notes")
	flags.String("acceptance", "", "New acceptance criteria")
	flags.String("notes", "", "New notes")
	flags.StringP("status", "s", "", "New status")
	flags.StringP("type", "t", "", "New issue type")
	flags.StringP("priority", "p", "", "New priority (0-4 or P0-P4)")
	flags.Int("estimate", 0, "Estimated minutes (0 clears)")
	flags.String("external-ref", "", "External reference (empty string clears)")
	flags.String("defer", "", "Defer until (e.g. +1w, next monday; 'none' clears)")
	flags.String("due", "", "Due date ('none' clears)")
	flags.StringSlice("add-label", nil, "Labels to add")
	flags.StringSlice("remove-label", nil, "Labels to remove")
	flags.String("expect-hash", "", "Only update if the issue still has this content hash")
	return cmd
}

// buildUpdates turns the flags the user set into a patch map. Flags left
// alone are not part of the patch.
func buildUpdates(cmd *cobra.Command, now time.Time) (map[string]interface{}, error) {
	flags := cmd.Flags()
	updates := make(map[string]interface{})
	for _, f := range stringUpdateFlags {
		if flags.Changed(f.flag) {
			value, _ := flags.GetString(f.flag)
			if f.field == "status" || f.field == "issue_type" {
				value = strings.TrimSpace(value)
			}
			updates[f.field] = value
		}
	}
	if flags.Changed("priority") {
		raw, _ := flags.GetString("priority")
		priority, err := parsePriority(raw)
		if err != nil {
			return nil, err
		}
		updates["priority"] = priority
	}
	if flags.Changed("estimate") {
		minutes, _ := flags.GetInt("estimate")
		if minutes > 0 {
			updates["estimated_minutes"] = minutes
		} else {
			updates["estimated_minutes"] = nil
		}
	}
	if flags.Changed("external-ref") {
		ref, _ := flags.GetString("external-ref")
		if ref = strings.TrimSpace(ref); ref == "" {
			updates["external_ref"] = nil
		} else {
			updates["external_ref"] = ref
		}
	}
	for _, tf := range []struct{ flag, field string }{{"defer", "defer_until"}, {"due", "due_at"}} {
		if !flags.Changed(tf.flag) {
			continue
		}
		raw, _ := flags.GetString(tf.flag)
		t, cleared, err := parseTimeFlag(tf.flag, raw, now)
		if err != nil {
			return nil, err
		}
		if cleared || t == nil {
			updates[tf.field] = nil
		} else {
			updates[tf.field] = *t
		}
	}
	return updates, nil
}
