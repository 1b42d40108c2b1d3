package graph

import (
	"context"
	"iter"

	"github.com/beadsync/beadsync/internal/types"
)

// DefaultTreeDepth is used when a tree is requested without a depth.
const DefaultTreeDepth = 50

// TreeSource supplies the data a tree walk needs, one node at a time.
type TreeSource interface {
	// TreeIssue returns the issue, or nil with no error when it does not exist.
	TreeIssue(ctx context.Context, id string) (*types.Issue, error)
	// TreeEdges returns the blocking-type edges leaving id, or entering it when
	// reverse is set.
	TreeEdges(ctx context.Context, id string, reverse bool) ([]*types.Dependency, error)
}

// Tree walks the dependency tree below rootID depth-first, fetching each
// node only when the caller asks for it. Forward trees follow what an issue
// depends on; reverse trees follow its dependents.
//
// Targets that do not exist yield a Missing placeholder leaf. Nodes at
// maxDepth with further edges, and nodes already shown elsewhere in the tree,
// are marked Truncated and not expanded.
func Tree(ctx context.Context, src TreeSource, rootID string, maxDepth int, reverse bool) iter.Seq2[*types.TreeNode, error] {
	if maxDepth <= 0 {
		maxDepth = DefaultTreeDepth
	}
	return func(yield func(*types.TreeNode, error) bool) {
		w := &treeWalk{ctx: ctx, src: src, maxDepth: maxDepth, reverse: reverse, seen: make(map[string]bool), yield: yield}
		w.visit(rootID, "", "", 0)
	}
}

type treeWalk struct {
	ctx      context.Context
	src      TreeSource
	maxDepth int
	reverse  bool
	seen     map[string]bool
	yield    func(*types.TreeNode, error) bool
}

// visit emits id and its subtree. It returns false once the consumer stops.
func (w *treeWalk) visit(id, parentID string, depType types.DependencyType, depth int) bool {
	if err := w.ctx.Err(); err != nil {
		w.yield(nil, err)
		return false
	}
	issue, err := w.src.TreeIssue(w.ctx, id)
	if err != nil {
		w.yield(nil, err)
		return false
	}

	node := &types.TreeNode{Depth: depth, ParentID: parentID, DepType: depType}
	if issue == nil {
		node.Issue = types.Issue{ID: id}
		node.Missing = true
		return w.yield(node, nil)
	}
	node.Issue = *issue

	if w.seen[id] {
		node.Truncated = true
		return w.yield(node, nil)
	}
	w.seen[id] = true

	edges, err := w.src.TreeEdges(w.ctx, id, w.reverse)
	if err != nil {
		w.yield(nil, err)
		return false
	}
	if depth >= w.maxDepth && len(edges) > 0 {
		node.Truncated = true
		return w.yield(node, nil)
	}
	if !w.yield(node, nil) {
		return false
	}

	for _, dep := range edges {
		next := dep.DependsOnID
		if w.reverse {
			next = dep.IssueID
		}
		if !w.visit(next, id, dep.Type, depth+1) {
			return false
		}
	}
	return true
}

// CollectTree drains a tree walk into a slice.
func CollectTree(seq iter.Seq2[*types.TreeNode, error]) ([]*types.TreeNode, error) {
	var nodes []*types.TreeNode
	for node, err := range seq {
		if err != nil {
			return nodes, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// TreeIssue implements TreeSource.
func (s *Snapshot) TreeIssue(_ context.Context, id string) (*types.Issue, error) {
	return s.issues[id], nil
}

// TreeEdges implements TreeSource.
func (s *Snapshot) TreeEdges(_ context.Context, id string, reverse bool) ([]*types.Dependency, error) {
	edges := s.out[id]
	if reverse {
		edges = s.in[id]
	}
	var blocking []*types.Dependency
	for _, dep := range edges {
		if dep.Type.AffectsReadyWork() {
			blocking = append(blocking, dep)
		}
	}
	return blocking, nil
}
