// ABOUTME: Tests for skill and workload weighted agent selection
// ABOUTME: Covers scoring, eligibility filters, tie-breaking and determinism

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/livechat-gateway/internal/store"
)

func newAgent(id string, skills []string, workload, capacity int) *store.Identity {
	return &store.Identity{
		ID:              id,
		TenantID:        "t1",
		Role:            store.RoleAgent,
		Skills:          skills,
		IsAvailable:     true,
		CurrentWorkload: workload,
		MaxWorkload:     capacity,
	}
}

func TestSelectAgent_SkillsOutweighLightWorkload(t *testing.T) {
	a1 := newAgent("a1", []string{"tech", "billing"}, 2, 5)
	a2 := newAgent("a2", []string{"tech"}, 1, 5)
	required := []string{"tech", "billing"}

	s1 := ScoreCandidate(a1, required)
	s2 := ScoreCandidate(a2, required)
	assert.InDelta(t, 1.0, s1.Skill, 1e-9)
	assert.InDelta(t, 0.6, s1.Workload, 1e-9)
	assert.InDelta(t, 0.84, s1.Total, 1e-9)
	assert.InDelta(t, 0.5, s2.Skill, 1e-9)
	assert.InDelta(t, 0.8, s2.Workload, 1e-9)
	assert.InDelta(t, 0.62, s2.Total, 1e-9)

	selected, ok := SelectAgent([]*store.Identity{a1, a2}, "t1", required)
	require.True(t, ok)
	assert.Equal(t, "a1", selected.ID)
}

func TestSelectAgent_NoSkillsRequiredFavoursLightWorkload(t *testing.T) {
	a1 := newAgent("a1", []string{"tech", "billing"}, 2, 5)
	a2 := newAgent("a2", []string{"tech"}, 1, 5)

	assert.InDelta(t, 0.84, ScoreCandidate(a1, nil).Total, 1e-9)
	assert.InDelta(t, 0.92, ScoreCandidate(a2, nil).Total, 1e-9)

	selected, ok := SelectAgent([]*store.Identity{a1, a2}, "t1", nil)
	require.True(t, ok)
	assert.Equal(t, "a2", selected.ID)
}

func TestSelectAgent_Filters(t *testing.T) {
	unavailable := newAgent("off", nil, 0, 5)
	unavailable.IsAvailable = false
	full := newAgent("full", nil, 5, 5)
	otherTenant := newAgent("other", nil, 0, 5)
	otherTenant.TenantID = "t2"
	admin := newAgent("admin", nil, 0, 5)
	admin.Role = store.RoleAdmin
	visitor := newAgent("visitor", nil, 0, 5)
	visitor.Role = store.RoleVisitor
	noCapacity := newAgent("zero", nil, 0, 0)

	tests := []struct {
		name       string
		candidates []*store.Identity
		tenantID   string
	}{
		{"empty", nil, "t1"},
		{"unavailable", []*store.Identity{unavailable}, "t1"},
		{"at capacity", []*store.Identity{full}, "t1"},
		{"other tenant", []*store.Identity{otherTenant}, "t1"},
		{"admin role", []*store.Identity{admin}, "t1"},
		{"visitor role", []*store.Identity{visitor}, "t1"},
		{"zero capacity", []*store.Identity{noCapacity}, "t1"},
		{"nil candidate", []*store.Identity{nil}, "t1"},
		{"blank tenant", []*store.Identity{newAgent("ok", nil, 0, 5)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, ok := SelectAgent(tt.candidates, tt.tenantID, nil)
			assert.False(t, ok)
			assert.Nil(t, selected)
		})
	}
}

func TestSelectAgent_NeverPicksIneligible(t *testing.T) {
	full := newAgent("full", []string{"billing"}, 5, 5)
	weak := newAgent("weak", nil, 4, 5)

	selected, ok := SelectAgent([]*store.Identity{full, weak}, "t1", []string{"billing"})
	require.True(t, ok)
	assert.Equal(t, "weak", selected.ID)
}

func TestSelectAgent_TieKeepsFirst(t *testing.T) {
	first := newAgent("first", []string{"en"}, 1, 4)
	second := newAgent("second", []string{"en"}, 2, 8)

	selected, ok := SelectAgent([]*store.Identity{first, second}, "t1", []string{"en"})
	require.True(t, ok)
	assert.Equal(t, "first", selected.ID)

	selected, ok = SelectAgent([]*store.Identity{second, first}, "t1", []string{"en"})
	require.True(t, ok)
	assert.Equal(t, "second", selected.ID)
}

func TestSelectAgent_Deterministic(t *testing.T) {
	candidates := []*store.Identity{
		newAgent("a", []string{"en"}, 2, 5),
		newAgent("b", []string{"en", "billing"}, 4, 5),
		newAgent("c", []string{"billing"}, 0, 5),
	}

	first, ok := SelectAgent(candidates, "t1", []string{"en", "billing"})
	require.True(t, ok)
	for range 50 {
		again, _ := SelectAgent(candidates, "t1", []string{"en", "billing"})
		assert.Same(t, first, again)
	}
}

func TestSkillScore(t *testing.T) {
	a := newAgent("a", []string{"billing"}, 0, 5)

	assert.Equal(t, 1.0, SkillScore(a, nil))
	assert.Equal(t, 1.0, SkillScore(a, []string{}))
	assert.Equal(t, 0.5, SkillScore(a, []string{"billing", "en"}))
	assert.Equal(t, 0.5, SkillScore(a, []string{"billing", "en", "en"}), "duplicates count once")
	assert.Equal(t, 0.0, SkillScore(a, []string{"fr"}))
}

func TestWorkloadScore(t *testing.T) {
	assert.Equal(t, 1.0, WorkloadScore(newAgent("a", nil, 0, 5)))
	assert.InDelta(t, 0.4, WorkloadScore(newAgent("a", nil, 3, 5)), 1e-9)
	assert.Equal(t, 0.0, WorkloadScore(newAgent("a", nil, 0, 0)))
}
