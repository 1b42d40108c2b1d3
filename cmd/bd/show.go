package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/types"
)

type issueDetail struct {
	*types.Issue
	Dependents []*types.Dependency `json:"dependents,omitempty"`
	BlockedBy  []string            `json:"blocked_by,omitempty"`
	Events     []*types.Event      `json:"events,omitempty"`
}

func newShowCmd(s *session) *cobra.Command {
	var events int

	cmd := &cobra.Command{
		Use:     "show [id...]",
		GroupID: groupIssues,
		Short:   "Show issue details",
		Long:    `Show one or more issues with labels, dependencies, dependents and comments. Without an ID the last touched issue is shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			ids, err := s.resolveIDs(store, args)
			if err != nil {
				return err
			}

			details := make([]*issueDetail, 0, len(ids))
			for _, id := range ids {
				issue, err := store.GetIssue(s.ctx, id)
				if err != nil {
					return err
				}
				if issue.Comments, err = store.GetComments(s.ctx, id); err != nil {
					return err
				}
				detail := &issueDetail{Issue: issue}
				if detail.Dependents, err = store.GetDependents(s.ctx, id); err != nil {
					return err
				}
				if !issue.Status.IsTerminal() {
					if _, detail.BlockedBy, err = store.IsBlocked(s.ctx, id); err != nil {
						return err
					}
				}
				if events != 0 {
					limit := events
					if limit < 0 {
						limit = 0
					}
					if detail.Events, err = store.GetEvents(s.ctx, id, limit); err != nil {
						return err
					}
				}
				details = append(details, detail)
			}
			if len(ids) == 1 {
				s.setLastTouched(ids[0])
			}

			return s.emit(details, func(w io.Writer) {
				for i, d := range details {
					if i > 0 {
						fmt.Fprintln(w, strings.Repeat("─", 60))
					}
					printIssueDetail(w, d.Issue, d.Dependents)
					if len(d.BlockedBy) > 0 {
						fmt.Fprintf(w, "\nBlocked by: %s\n", strings.Join(d.BlockedBy, ", "))
					}
					if len(d.Events) > 0 {
						fmt.Fprintf(w, "\nHistory:\n")
						for _, e := range d.Events {
							fmt.Fprintf(w, "  [%s] %s %s\n", formatTime(&e.CreatedAt), e.Actor, e.EventType)
						}
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&events, "events", 0, "Include the N most recent audit events (-1 for all)")
	return cmd
}
