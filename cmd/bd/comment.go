package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/storage"
)

func newCommentCmd(s *session) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:     "comment <id> [text...]",
		GroupID: groupIssues,
		Short:   "Add a comment to an issue",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			if file != "" {
				data, err := os.ReadFile(file) // #nosec G304 - user-supplied comment file
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				text = string(data)
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("comment text is required: %w", storage.ErrInvalidInput)
			}

			store, err := s.mustStore()
			if err != nil {
				return err
			}
			id, err := s.resolveID(store, args[0])
			if err != nil {
				return err
			}
			comment, err := store.AddComment(s.ctx, id, s.actor, text)
			if err != nil {
				return err
			}
			s.setLastTouched(id)
			return s.emit(comment, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Comment added to %s\n", id)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the comment text from a file")
	return cmd
}

func newCommentsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "comments [id]",
		GroupID: groupViews,
		Short:   "List the comments of an issue",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			ids, err := s.resolveIDs(store, args)
			if err != nil {
				return err
			}
			comments, err := store.GetComments(s.ctx, ids[0])
			if err != nil {
				return err
			}
			return s.emit(comments, func(w io.Writer) {
				if len(comments) == 0 {
					fmt.Fprintf(w, "No comments on %s\n", ids[0])
					return
				}
				printComments(w, comments)
			})
		},
	}
}
