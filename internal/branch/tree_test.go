package branch

import (
	"testing"

	"github.com/kandev/orka/internal/common/apperr"
	"github.com/kandev/orka/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMain() *domain.Branch {
	return &domain.Branch{ID: "main", SessionID: "s1", Name: "main", Status: domain.BranchActive}
}

func TestWalkVisitsTreeDepthFirst(t *testing.T) {
	main := newMain()
	tr := NewTree("s1", main, nil)

	child := &domain.Branch{ID: "b1", SessionID: "s1", ParentID: strPtr("main"), Status: domain.BranchActive}
	require.NoError(t, tr.AddChild("main", child))

	grandchild := &domain.Branch{ID: "b2", SessionID: "s1", ParentID: strPtr("b1"), Status: domain.BranchClosed}
	require.NoError(t, tr.SetStatus("b1", domain.BranchSaved))
	require.NoError(t, tr.AddChild("b1", grandchild))

	ids := []string{}
	for _, b := range tr.Walk() {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"main", "b1", "b2"}, ids)
}

func TestAddChildFailsWithParentBusy(t *testing.T) {
	main := newMain()
	tr := NewTree("s1", main, nil)

	child1 := &domain.Branch{ID: "b1", SessionID: "s1", ParentID: strPtr("main"), Status: domain.BranchActive}
	require.NoError(t, tr.AddChild("main", child1))

	child2 := &domain.Branch{ID: "b2", SessionID: "s1", ParentID: strPtr("main"), Status: domain.BranchActive}
	err := tr.AddChild("main", child2)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
}

func TestAddChildAllowedAfterSiblingCloses(t *testing.T) {
	main := newMain()
	tr := NewTree("s1", main, nil)

	child1 := &domain.Branch{ID: "b1", SessionID: "s1", ParentID: strPtr("main"), Status: domain.BranchActive}
	require.NoError(t, tr.AddChild("main", child1))
	require.NoError(t, tr.SetStatus("b1", domain.BranchClosed))

	assert.True(t, tr.EligibleForFork("main"))

	child2 := &domain.Branch{ID: "b2", SessionID: "s1", ParentID: strPtr("main"), Status: domain.BranchActive}
	require.NoError(t, tr.AddChild("main", child2))
}

func TestSetStatusRejectsInvalidTransition(t *testing.T) {
	main := newMain()
	tr := NewTree("s1", main, nil)
	require.NoError(t, tr.SetStatus("main", domain.BranchClosed))

	err := tr.SetStatus("main", domain.BranchActive)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
}

func TestSetStatusResumeRoundTrip(t *testing.T) {
	main := newMain()
	tr := NewTree("s1", main, nil)
	require.NoError(t, tr.SetStatus("main", domain.BranchSaved))
	require.NoError(t, tr.SetStatus("main", domain.BranchActive))
	assert.Equal(t, domain.BranchActive, tr.Get("main").Status)
}

func strPtr(s string) *string { return &s }
