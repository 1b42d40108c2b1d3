package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newLabelCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "label",
		GroupID: groupIssues,
		Short:   "Manage issue labels",
	}

	change := func(use, short, verb string, apply func(id, label string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id> <label...>",
			Short: short,
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := s.mustStore()
				if err != nil {
					return err
				}
				id, err := s.resolveID(store, args[0])
				if err != nil {
					return err
				}
				labels := normalizeLabels(args[1:])
				for _, label := range labels {
					if err := apply(id, label); err != nil {
						return err
					}
				}
				s.setLastTouched(id)
				current, err := store.GetLabels(s.ctx, id)
				if err != nil {
					return err
				}
				return s.emit(map[string]interface{}{"id": id, "labels": current}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ %s %s on %s\n", verb, strings.Join(labels, ", "), id)
				})
			},
		}
	}

	cmd.AddCommand(
		change("add", "Add labels to an issue", "Added", func(id, label string) error {
			return s.store.AddLabel(s.ctx, id, label, s.actor)
		}),
		change("remove", "Remove labels from an issue", "Removed", func(id, label string) error {
			return s.store.RemoveLabel(s.ctx, id, label, s.actor)
		}),
		&cobra.Command{
			Use:   "list [id]",
			Short: "List the labels of an issue",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := s.mustStore()
				if err != nil {
					return err
				}
				ids, err := s.resolveIDs(store, args)
				if err != nil {
					return err
				}
				labels, err := store.GetLabels(s.ctx, ids[0])
				if err != nil {
					return err
				}
				return s.emit(labels, func(w io.Writer) {
					if len(labels) == 0 {
						fmt.Fprintf(w, "%s has no labels\n", ids[0])
						return
					}
					for _, label := range labels {
						fmt.Fprintln(w, label)
					}
				})
			},
		},
	)
	return cmd
}
