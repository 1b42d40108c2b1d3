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

func newListCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list [query]",
		GroupID: groupIssues,
		Short:   "List issues",
		Long: `List issues matching the filters. The optional query matches title,
description or ID. Time filters take the same forms as --defer: "-7d",
"yesterday", "2025-03-01".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := buildIssueFilter(cmd, time.Now())
			if err != nil {
				return err
			}
			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			issues, err := store.SearchIssues(s.ctx, query, filter)
			if err != nil {
				return err
			}
			return s.emit(issues, func(w io.Writer) {
				printIssueList(w, issues)
				if len(issues) > 0 {
					fmt.Fprintf(w, "\n%d issue(s)\n", len(issues))
				}
			})
		},
	}

	flags := cmd.Flags()
	flags.StringP("status", "s", "", "Filter by status")
	flags.StringP("priority", "p", "", "Filter by priority (0-4 or P0-P4)")
	flags.String("priority-min", "", "Minimum priority (inclusive)")
	flags.String("priority-max", "", "Maximum priority (inclusive)")
	flags.StringP("type", "t", "", "Filter by issue type")
	flags.StringP("assignee", "a", "", "Filter by assignee")
	flags.Bool("no-assignee", false, "Only unassigned issues")
	flags.StringSliceP("label", "l", nil, "Require all of these labels")
	flags.StringSlice("label-any", nil, "Require at least one of these labels")
	flags.Bool("no-labels", false, "Only issues without labels")
	flags.String("title", "", "Title contains")
	flags.String("desc", "", "Description contains")
	flags.String("notes", "", "Notes contain")
	flags.Bool("empty-description", false, "Only issues with no description")
	flags.String("id-prefix", "", "Only IDs starting with this prefix")
	flags.String("created-after", "", "Created after")
	flags.String("created-before", "", "Created before")
	flags.String("updated-after", "", "Updated after")
	flags.String("updated-before", "", "Updated before")
	flags.String("closed-after", "", "Closed after")
	flags.String("closed-before", "", "Closed before")
	flags.String("due-before", "", "Due before")
	flags.Bool("pinned", false, "Only pinned issues")
	flags.Bool("include-deleted", false, "Include tombstones")
	flags.String("sort", "", "Sort order, e.g. priority,updated-desc (fields: priority, created, updated, title, id)")
	flags.IntP("limit", "n", 0, "Maximum number of issues")
	flags.Int("offset", 0, "Skip this many issues")
	return cmd
}

func buildIssueFilter(cmd *cobra.Command, now time.Time) (types.IssueFilter, error) {
	flags := cmd.Flags()
	var filter types.IssueFilter

	if v, _ := flags.GetString("status"); v != "" {
		status := types.Status(strings.TrimSpace(v))
		filter.Status = &status
	}
	for _, pf := range []struct {
		flag   string
		target **int
	}{{"priority", &filter.Priority}, {"priority-min", &filter.PriorityMin}, {"priority-max", &filter.PriorityMax}} {
		raw, _ := flags.GetString(pf.flag)
		if raw == "" {
			continue
		}
		p, err := parsePriority(raw)
		if err != nil {
			return filter, err
		}
		*pf.target = &p
	}
	if v, _ := flags.GetString("type"); v != "" {
		t := types.IssueType(strings.TrimSpace(v))
		filter.IssueType = &t
	}
	if v, _ := flags.GetString("assignee"); v != "" {
		filter.Assignee = &v
	}
	filter.NoAssignee, _ = flags.GetBool("no-assignee")
	labels, _ := flags.GetStringSlice("label")
	filter.Labels = normalizeLabels(labels)
	labelsAny, _ := flags.GetStringSlice("label-any")
	filter.LabelsAny = normalizeLabels(labelsAny)
	filter.NoLabels, _ = flags.GetBool("no-labels")
	filter.TitleContains, _ = flags.GetString("title")
	filter.DescriptionContains, _ = flags.GetString("desc")
	filter.NotesContains, _ = flags.GetString("notes")
	filter.EmptyDescription, _ = flags.GetBool("empty-description")
	filter.IDPrefix, _ = flags.GetString("id-prefix")
	filter.IncludeTombstones, _ = flags.GetBool("include-deleted")
	if pinned, _ := flags.GetBool("pinned"); pinned {
		filter.Pinned = &pinned
	}
	filter.Limit, _ = flags.GetInt("limit")
	filter.Offset, _ = flags.GetInt("offset")
	if filter.Limit < 0 || filter.Offset < 0 {
		return filter, fmt.Errorf("--limit and --offset must not be negative: %w", storage.ErrInvalidInput)
	}
	if raw, _ := flags.GetString("sort"); raw != "" {
		filter.Sort = types.ParseIssueSortOrder(raw)
		if len(filter.Sort) == 0 {
			return filter, fmt.Errorf("invalid --sort %q: %w", raw, storage.ErrInvalidInput)
		}
	}

	for _, tf := range []struct {
		flag   string
		target **time.Time
	}{
		{"created-after", &filter.CreatedAfter},
		{"created-before", &filter.CreatedBefore},
		{"updated-after", &filter.UpdatedAfter},
		{"updated-before", &filter.UpdatedBefore},
		{"closed-after", &filter.ClosedAfter},
		{"closed-before", &filter.ClosedBefore},
		{"due-before", &filter.DueBefore},
	} {
		raw, _ := flags.GetString(tf.flag)
		t, _, err := parseTimeFlag(tf.flag, raw, now)
		if err != nil {
			return filter, err
		}
		*tf.target = t
	}
	return filter, nil
}
