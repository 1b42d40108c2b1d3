package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/types"
)

func newDepCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dep",
		GroupID: groupDeps,
		Short:   "Manage dependencies between issues",
	}
	cmd.AddCommand(newDepAddCmd(s), newDepRemoveCmd(s), newDepTreeCmd(s), newDepCyclesCmd(s))
	return cmd
}

func newDepAddCmd(s *session) *cobra.Command {
	var depType string

	cmd := &cobra.Command{
		Use:   "add <issue> <depends-on>",
		Short: "Add a dependency: <issue> depends on <depends-on>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := types.DependencyType(strings.TrimSpace(depType))
			if !t.IsValid() {
				return fmt.Errorf("invalid dependency type %q: %w", depType, storage.ErrInvalidInput)
			}
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			from, err := s.resolveID(store, args[0])
			if err != nil {
				return err
			}
			to, err := s.resolveID(store, args[1])
			if err != nil {
				return err
			}
			dep := &types.Dependency{IssueID: from, DependsOnID: to, Type: t}
			if err := store.AddDependency(s.ctx, dep, s.actor); err != nil {
				return err
			}
			s.setLastTouched(from)
			return s.emit(dep, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s now depends on %s (%s)\n", from, to, t)
			})
		},
	}
	cmd.Flags().StringVarP(&depType, "type", "t", string(types.DepBlocks), "Dependency type (blocks, parent-child, conditional-blocks, waits-for, related, ...)")
	return cmd
}

func newDepRemoveCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <issue> <depends-on>",
		Aliases: []string{"rm"},
		Short:   "Remove a dependency",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			from, err := s.resolveID(store, args[0])
			if err != nil {
				return err
			}
			to, err := s.resolveID(store, args[1])
			if err != nil {
				return err
			}
			if err := store.RemoveDependency(s.ctx, from, to, s.actor); err != nil {
				return err
			}
			return s.emit(map[string]string{"issue_id": from, "depends_on_id": to}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Removed dependency %s → %s\n", from, to)
			})
		},
	}
}

func newDepTreeCmd(s *session) *cobra.Command {
	var depth int
	var reverse bool

	cmd := &cobra.Command{
		Use:   "tree [id]",
		Short: "Show the dependency tree of an issue",
		Long: `Show what an issue depends on, or with --reverse what depends on it.
Nodes past --depth are marked truncated. Edges to issues that do not exist
locally are shown as missing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if depth < 1 {
				return fmt.Errorf("--depth must be at least 1: %w", storage.ErrInvalidInput)
			}
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			ids, err := s.resolveIDs(store, args)
			if err != nil {
				return err
			}
			nodes, err := store.GetDependencyTree(s.ctx, ids[0], depth, reverse)
			if err != nil {
				return err
			}
			return s.emit(nodes, func(w io.Writer) { printTree(w, nodes) })
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 50, "Maximum depth to walk")
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "Show dependents instead of dependencies")
	return cmd
}

func printTree(w io.Writer, nodes []*types.TreeNode) {
	for _, node := range nodes {
		indent := strings.Repeat("  ", node.Depth)
		prefix := ""
		if node.Depth > 0 {
			prefix = "└─ "
		}
		switch {
		case node.Missing:
			fmt.Fprintf(w, "%s%s%s (missing)\n", indent, prefix, node.ID)
			continue
		case node.DepType != "" && node.DepType != types.DepBlocks:
			prefix += "(" + string(node.DepType) + ") "
		}
		line := formatIssueLine(&node.Issue)
		if node.Truncated {
			line += " …"
		}
		fmt.Fprintf(w, "%s%s%s\n", indent, prefix, line)
	}
}

func newDepCyclesCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "cycles",
		Short: "Detect dependency cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			cycles, err := store.DetectCycles(s.ctx)
			if err != nil {
				return err
			}
			if cycles == nil {
				cycles = [][]string{}
			}
			return s.emit(cycles, func(w io.Writer) {
				if len(cycles) == 0 {
					fmt.Fprintln(w, "✓ No dependency cycles")
					return
				}
				fmt.Fprintf(w, "Found %d cycle(s):\n", len(cycles))
				for _, cycle := range cycles {
					fmt.Fprintf(w, "  %s → %s\n", strings.Join(cycle, " → "), cycle[0])
				}
			})
		},
	}
}
