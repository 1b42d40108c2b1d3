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

type createFlags struct {
	description, design, acceptance, notes string
	priority                               string
	issueType                              string
	assignee                               string
	labels                                 []string
	deps                                   []string
	parent                                 string
	id                                     string
	externalRef                            string
	deferUntil, due                        string
	estimate                               int
}

func newCreateCmd(s *session) *cobra.Command {
	var f createFlags

	cmd := &cobra.Command{
		Use:     "create [title]",
		GroupID: groupIssues,
		Aliases: []string{"new"},
		Short:   "Create a new issue",
		Long: `Create a new issue. Without --id a hash ID is generated; with --parent the
issue gets the next hierarchical child ID (bd-a3f8.1) and a parent-child edge.

--deps takes "type:id" or bare ids (blocks), e.g. --deps blocks:bd-12,related:bd-7.
--defer and --due accept "+2d", "tomorrow", "next monday" or "2025-03-01".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			if len(args) > 0 {
				if title != "" && title != args[0] {
					return fmt.Errorf("title given twice (%q and --title %q): %w", args[0], title, storage.ErrInvalidInput)
				}
				title = args[0]
			}
			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("title is required: %w", storage.ErrInvalidInput)
			}

			store, err := s.mustStore()
			if err != nil {
				return err
			}
			issue, err := s.buildIssue(title, f, time.Now())
			if err != nil {
				return err
			}
			type edge struct {
				depType types.DependencyType
				target  string
			}
			var edges []edge
			for _, spec := range f.deps {
				for _, part := range strings.Split(spec, ",") {
					if strings.TrimSpace(part) == "" {
						continue
					}
					depType, target, err := parseDependencySpec(part)
					if err != nil {
						return err
					}
					if target, err = s.resolveID(store, target); err != nil {
						return err
					}
					edges = append(edges, edge{depType, target})
				}
			}

			if f.parent != "" {
				parentID, err := s.resolveID(store, f.parent)
				if err != nil {
					return err
				}
				if f.id != "" {
					return fmt.Errorf("--id and --parent are mutually exclusive: %w", storage.ErrInvalidInput)
				}
				if issue.ID, err = s.raw.NextChildID(s.ctx, parentID); err != nil {
					return err
				}
				edges = append(edges, edge{types.DepParentChild, parentID})
			}

			err = store.RunInTransaction(s.ctx, func(tx storage.Transaction) error {
				if err := tx.CreateIssue(s.ctx, issue, s.actor); err != nil {
					return err
				}
				for _, label := range normalizeLabels(f.labels) {
					if err := tx.AddLabel(s.ctx, issue.ID, label, s.actor); err != nil {
						return err
					}
				}
				for _, e := range edges {
					dep := &types.Dependency{IssueID: issue.ID, DependsOnID: e.target, Type: e.depType}
					if err := tx.AddDependency(s.ctx, dep, s.actor); err != nil {
						return fmt.Errorf("add %s dependency on %s: %w", e.depType, e.target, err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			s.setLastTouched(issue.ID)

			created, err := store.GetIssue(s.ctx, issue.ID)
			if err != nil {
				return err
			}
			return s.emit(created, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Created issue: %s\n", created.ID)
				fmt.Fprintf(w, "  Title: %s\n", created.Title)
				fmt.Fprintf(w, "  Priority: P%d\n", created.Priority)
				fmt.Fprintf(w, "  Status: %s\n", created.Status)
			})
		},
	}

	flags := cmd.Flags()
	flags.String("title", "", "Issue title (alternative to the positional argument)")
	flags.StringVarP(&f.description, "description", "d", "", "Issue description")
	flags.StringVar(&f.design, "design", "", "Design notes")
	flags.StringVar(&f.acceptance, "acceptance", "", "Acceptance criteria")
	flags.StringVar(&f.notes, "notes", "", "Additional notes")
	flags.StringVarP(&f.priority, "priority", "p", "2", "Priority (0-4 or P0-P4, 0=highest)")
	flags.StringVarP(&f.issueType, "type", "t", string(types.TypeTask), "Issue type (bug|feature|task|epic|chore or a configured custom type)")
	flags.StringVarP(&f.assignee, "assignee", "a", "", "Assignee")
	flags.StringSliceVarP(&f.labels, "labels", "l", nil, "Labels (comma-separated)")
	flags.StringSliceVar(&f.deps, "deps", nil, "Dependencies as type:id (comma-separated)")
	flags.StringVar(&f.parent, "parent", "", "Parent issue; assigns the next child ID")
	flags.StringVar(&f.id, "id", "", "Explicit issue ID")
	flags.StringVar(&f.externalRef, "external-ref", "", "External reference (e.g. gh-42)")
	flags.StringVar(&f.deferUntil, "defer", "", "Hide from ready work until this time")
	flags.StringVar(&f.due, "due", "", "Due date")
	flags.IntVarP(&f.estimate, "estimate", "e", 0, "Estimated minutes")
	return cmd
}

func (s *session) buildIssue(title string, f createFlags, now time.Time) (*types.Issue, error) {
	priority, err := parsePriority(f.priority)
	if err != nil {
		return nil, err
	}
	issue := &types.Issue{
		ID:                 strings.TrimSpace(f.id),
		Title:              strings.TrimSpace(title),
		Description:        f.description,
		Design:             f.design,
		AcceptanceCriteria: f.acceptance,
		Notes:              f.notes,
		Status:             types.StatusOpen,
		Priority:           priority,
		IssueType:          types.IssueType(strings.TrimSpace(f.issueType)),
		Assignee:           f.assignee,
		CreatedBy:          s.actor,
	}
	if f.estimate > 0 {
		estimate := f.estimate
		issue.EstimatedMinutes = &estimate
	}
	if f.externalRef != "" {
		ref := f.externalRef
		issue.ExternalRef = &ref
	}
	if issue.DeferUntil, _, err = parseTimeFlag("defer", f.deferUntil, now); err != nil {
		return nil, err
	}
	if issue.DueAt, _, err = parseTimeFlag("due", f.due, now); err != nil {
		return nil, err
	}
	return issue, nil
}
