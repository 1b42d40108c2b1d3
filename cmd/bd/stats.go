package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

func newStatsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		Aliases: []string{"status"},
		GroupID: groupViews,
		Short:   "Show issue statistics",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			stats, err := store.GetStatistics(s.ctx)
			if err != nil {
				return err
			}
			return s.emit(stats, func(w io.Writer) {
				fmt.Fprintf(w, "Total issues:      %d\n", stats.TotalIssues)
				fmt.Fprintf(w, "Open:              %d\n", stats.OpenIssues)
				fmt.Fprintf(w, "In progress:       %d\n", stats.InProgressIssues)
				fmt.Fprintf(w, "Closed:            %d\n", stats.ClosedIssues)
				fmt.Fprintf(w, "Blocked:           %d\n", stats.BlockedIssues)
				fmt.Fprintf(w, "Deferred:          %d\n", stats.DeferredIssues)
				fmt.Fprintf(w, "Ready:             %d\n", stats.ReadyIssues)
				if stats.PinnedIssues > 0 {
					fmt.Fprintf(w, "Pinned:            %d\n", stats.PinnedIssues)
				}
				if stats.TombstoneIssues > 0 {
					fmt.Fprintf(w, "Deleted:           %d\n", stats.TombstoneIssues)
				}
				if stats.AverageLeadTime > 0 {
					fmt.Fprintf(w, "Avg lead time:     %.1f hours\n", stats.AverageLeadTime)
				}
				if len(stats.ByType) > 0 {
					fmt.Fprintln(w, "\nBy type:")
					types := make([]string, 0, len(stats.ByType))
					for t := range stats.ByType {
						types = append(types, t)
					}
					sort.Strings(types)
					for _, t := range types {
						fmt.Fprintf(w, "  %-16s %d\n", t, stats.ByType[t])
					}
				}
				if len(stats.ByPriority) > 0 {
					fmt.Fprintln(w, "\nBy priority:")
					for p := 0; p <= 4; p++ {
						if n := stats.ByPriority[p]; n > 0 {
							fmt.Fprintf(w, "  P%d               %d\n", p, n)
						}
					}
				}
			})
		},
	}
}
