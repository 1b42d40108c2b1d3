package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

func newCloseCmd(s *session) *cobra.Command {
	var reason, sessionID string

	cmd := &cobra.Command{
		Use:     "close [id...]",
		Aliases: []string{"done"},
		GroupID: groupIssues,
		Short:   "Close one or more issues",
		Long: `Close one or more issues. Without an ID the last touched issue is closed.

The reason matters to conditional-blocks edges: an issue waiting on a
conditional-blocks target only becomes ready when the target closed with a
failure reason such as "failed" or "wontfix".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			ids, err := s.resolveIDs(store, args)
			if err != nil {
				return err
			}
			if reason == "" {
				reason = "Closed"
			}
			if sessionID == "" {
				sessionID = os.Getenv("BD_SESSION_ID")
			}

			var closed []*types.Issue
			for _, id := range ids {
				if err := store.CloseIssue(s.ctx, id, reason, s.actor, sessionID); err != nil {
					return err
				}
				issue, err := store.GetIssue(s.ctx, id)
				if err != nil {
					return err
				}
				closed = append(closed, issue)
				s.setLastTouched(id)
			}
			return s.emit(closed, func(w io.Writer) {
				for _, issue := range closed {
					fmt.Fprintf(w, "✓ Closed %s: %s\n", issue.ID, reason)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Reason for closing")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session that closed the issue (default: $BD_SESSION_ID)")
	return cmd
}

func newReopenCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "reopen [id...]",
		GroupID: groupIssues,
		Short:   "Reopen closed issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			ids, err := s.resolveIDs(store, args)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := store.ReopenIssue(s.ctx, id, s.actor); err != nil {
					return err
				}
				s.setLastTouched(id)
			}
			return s.emit(map[string][]string{"reopened": ids}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Reopened %s\n", strings.Join(ids, ", "))
			})
		},
	}
}

func newDeleteCmd(s *session) *cobra.Command {
	var reason string
	var force bool

	cmd := &cobra.Command{
		Use:     "delete <id...>",
		GroupID: groupIssues,
		Short:   "Delete issues (leaves a tombstone that syncs to other clones)",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			ids, err := s.resolveIDs(store, args)
			if err != nil {
				return err
			}
			if !force {
				for _, id := range ids {
					dependents, err := store.GetDependents(s.ctx, id)
					if err != nil {
						return err
					}
					if live := liveDependents(s.ctx, store, dependents); len(live) > 0 {
						return fmt.Errorf("%s has dependents %s (pass --force to delete anyway)", id, strings.Join(live, ", "))
					}
				}
			}
			for _, id := range ids {
				if err := store.DeleteIssue(s.ctx, id, reason, s.actor); err != nil {
					return err
				}
			}
			return s.emit(map[string][]string{"deleted": ids}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Deleted %s\n", strings.Join(ids, ", "))
			})
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Reason for deleting")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Delete even if other issues depend on it")
	return cmd
}

// liveDependents lists the sources of dependents that are not deleted.
func liveDependents(ctx context.Context, store storage.Storage, deps []*types.Dependency) []string {
	var ids []string
	for _, dep := range deps {
		issue, err := store.GetIssue(ctx, dep.IssueID)
		if err != nil || issue.IsTombstone() {
			continue
		}
		ids = append(ids, dep.IssueID)
	}
	return ids
}
