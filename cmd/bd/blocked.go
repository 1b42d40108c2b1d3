package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newBlockedCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "blocked",
		GroupID: groupViews,
		Short:   "Show issues waiting on open blockers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			blocked, err := store.GetBlockedIssues(s.ctx)
			if err != nil {
				return err
			}
			return s.emit(blocked, func(w io.Writer) {
				if len(blocked) == 0 {
					fmt.Fprintln(w, "✓ No blocked issues")
					return
				}
				fmt.Fprintf(w, "Blocked issues (%d):\n\n", len(blocked))
				for _, b := range blocked {
					fmt.Fprintln(w, formatIssueLine(&b.Issue))
					fmt.Fprintf(w, "  blocked by %d: %s\n", b.BlockedByCount, strings.Join(b.BlockedBy, ", "))
				}
			})
		},
	}
}
