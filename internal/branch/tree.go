// Package branch implements BranchTree (spec.md §4.5): the pure in-memory
// structural invariants of a Session's fork tree, rooted at main.
package branch

import (
	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/domain"
)

// Tree is a per-session arena of branches referenced by stable BranchID,
// modeled on the Design Notes' "graph with back-references" guidance:
// branches live in a flat map and parent/child links are IDs, not owning
// pointers, so the tree can be rebuilt on demand from persisted state.
type Tree struct {
	sessionID string
	branches  map[string]*domain.Branch
	children  map[string][]string // parentId -> ordered child branch IDs
	mainID    string
}

// NewTree builds a Tree from a persisted main branch plus its forks.
func NewTree(sessionID string, main *domain.Branch, forks []*domain.Branch) *Tree {
	t := &Tree{
		sessionID: sessionID,
		branches:  make(map[string]*domain.Branch),
		children:  make(map[string][]string),
	}
	if main != nil {
		t.branches[main.ID] = main
		t.mainID = main.ID
	}
	for _, f := range forks {
		t.branches[f.ID] = f
		if f.ParentID != nil {
			t.children[*f.ParentID] = append(t.children[*f.ParentID], f.ID)
		}
	}
	return t
}

// Main returns the session's root branch.
func (t *Tree) Main() *domain.Branch { return t.branches[t.mainID] }

// Get returns the branch with the given ID, or nil.
func (t *Tree) Get(branchID string) *domain.Branch { return t.branches[branchID] }

// activeChild returns the currently active child of parentID, if any.
func (t *Tree) activeChild(parentID string) *domain.Branch {
	for _, childID := range t.children[parentID] {
		if b := t.branches[childID]; b != nil && b.Status == domain.BranchActive {
			return b
		}
	}
	return nil
}

// AddChild attaches child under parentID, failing with Conflict(ParentBusy)
// if the parent already has an active child (spec.md §4.5).
func (t *Tree) AddChild(parentID string, child *domain.Branch) error {
	parent := t.branches[parentID]
	if parent == nil {
		return apperr.NotFound("branch", parentID)
	}
	if existing := t.activeChild(parentID); existing != nil {
		return apperr.Conflict("parent branch " + parentID + " already has an active child " + existing.ID)
	}
	t.branches[child.ID] = child
	t.children[parentID] = append(t.children[parentID], child.ID)
	return nil
}

// allowedTransitions encodes spec.md §4.5's status transition rules.
var allowedTransitions = map[domain.BranchStatus]map[domain.BranchStatus]bool{
	domain.BranchActive: {
		domain.BranchSaved:  true,
		domain.BranchClosed: true,
		domain.BranchMerged: true,
	},
	domain.BranchSaved: {
		domain.BranchActive: true,
		domain.BranchClosed: true,
	},
}

// SetStatus transitions branchID to status, rejecting transitions not in
// allowedTransitions. closed and merged are terminal: no further
// transitions are permitted once reached.
func (t *Tree) SetStatus(branchID string, status domain.BranchStatus) error {
	b := t.branches[branchID]
	if b == nil {
		return apperr.NotFound("branch", branchID)
	}
	if b.Status == status {
		return nil
	}
	if b.Status.IsTerminal() {
		return apperr.Conflict("branch " + branchID + " is in terminal status " + string(b.Status))
	}
	if !allowedTransitions[b.Status][status] {
		return apperr.Conflict("branch " + branchID + " cannot transition from " + string(b.Status) + " to " + string(status))
	}
	b.Status = status
	return nil
}

// Walk yields every branch in depth-first order starting from main.
func (t *Tree) Walk() []*domain.Branch {
	var out []*domain.Branch
	if t.mainID == "" {
		return out
	}
	var visit func(id string)
	visit = func(id string) {
		b := t.branches[id]
		if b == nil {
			return
		}
		out = append(out, b)
		for _, childID := range t.children[id] {
			visit(childID)
		}
	}
	visit(t.mainID)
	return out
}

// Forks returns every non-main branch, in the same order Walk would visit them.
func (t *Tree) Forks() []*domain.Branch {
	all := t.Walk()
	out := make([]*domain.Branch, 0, len(all))
	for _, b := range all {
		if !b.IsMain() {
			out = append(out, b)
		}
	}
	return out
}

// EligibleForFork reports whether parentID currently has no active child,
// i.e. a new fork could be attached without violating the single-active-
// child invariant.
func (t *Tree) EligibleForFork(parentID string) bool {
	return t.activeChild(parentID) == nil
}
