package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/config"
	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

func newReadyCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ready",
		GroupID: groupViews,
		Short:   "Show issues with no open blockers",
		Long: `Show open issues that nothing blocks, ordered by the sort policy:

  hybrid    issues created in the last 48 hours by priority, older ones by age
  priority  priority first, then creation time
  oldest    creation time only

Deferred issues are hidden until their defer date unless --include-deferred.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := buildWorkFilter(cmd)
			if err != nil {
				return err
			}
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			issues, err := store.GetReadyWork(s.ctx, filter)
			if err != nil {
				return err
			}
			return s.emit(issues, func(w io.Writer) {
				if len(issues) == 0 {
					fmt.Fprintln(w, "No ready work.")
					return
				}
				fmt.Fprintf(w, "Ready work (%d issue(s)):\n\n", len(issues))
				for i, issue := range issues {
					fmt.Fprintf(w, "%d. %s\n", i+1, formatIssueLine(issue))
				}
			})
		},
	}

	flags := cmd.Flags()
	flags.IntP("limit", "n", 10, "Maximum number of issues (0 for all)")
	flags.StringP("assignee", "a", "", "Only issues assigned to this person")
	flags.BoolP("unassigned", "u", false, "Only unassigned issues")
	flags.StringP("priority", "p", "", "Only this priority")
	flags.StringP("type", "t", "", "Only this issue type")
	flags.StringSliceP("label", "l", nil, "Require all of these labels")
	flags.StringSlice("label-any", nil, "Require at least one of these labels")
	flags.StringP("sort", "s", "", "Sort policy: hybrid, priority or oldest")
	flags.Bool("include-deferred", false, "Include issues deferred into the future")
	return cmd
}

func buildWorkFilter(cmd *cobra.Command) (types.WorkFilter, error) {
	flags := cmd.Flags()
	filter := types.WorkFilter{Now: time.Now()}

	filter.Limit, _ = flags.GetInt("limit")
	if filter.Limit < 0 {
		return filter, fmt.Errorf("--limit must not be negative: %w", storage.ErrInvalidInput)
	}
	if v, _ := flags.GetString("assignee"); v != "" {
		filter.Assignee = &v
	}
	filter.Unassigned, _ = flags.GetBool("unassigned")
	if filter.Unassigned && filter.Assignee != nil {
		return filter, fmt.Errorf("--assignee and --unassigned are exclusive: %w", storage.ErrInvalidInput)
	}
	if raw, _ := flags.GetString("priority"); raw != "" {
		p, err := parsePriority(raw)
		if err != nil {
			return filter, err
		}
		filter.Priority = &p
	}
	if v, _ := flags.GetString("type"); v != "" {
		filter.Type = types.IssueType(strings.TrimSpace(v))
	}
	labels, _ := flags.GetStringSlice("label")
	filter.Labels = normalizeLabels(labels)
	labelsAny, _ := flags.GetStringSlice("label-any")
	filter.LabelsAny = normalizeLabels(labelsAny)
	filter.IncludeDeferred, _ = flags.GetBool("include-deferred")

	// An empty policy lets the store use its own configured default.
	policy, _ := flags.GetString("sort")
	if policy == "" && config.GetValueSource(config.KeyReadySortPolicy) != config.SourceDefault {
		policy = config.GetString(config.KeyReadySortPolicy)
	}
	filter.SortPolicy = types.SortPolicy(strings.TrimSpace(policy))
	if !filter.SortPolicy.IsValid() {
		return filter, fmt.Errorf("invalid sort policy %q (want hybrid, priority or oldest): %w", policy, storage.ErrInvalidInput)
	}
	return filter, nil
}
