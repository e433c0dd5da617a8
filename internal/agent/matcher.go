// ABOUTME: Skill and workload weighted selection of the best agent for a conversation
// ABOUTME: Pure and deterministic: same candidates in the same order give the same pick

package agent

import (
	"github.com/2389/livechat-gateway/internal/store"
)

// Scoring weights. They sum to 1 so Total stays in [0, 1].
const (
	SkillWeight    = 0.6
	WorkloadWeight = 0.4
)

// Score is the breakdown of a candidate's suitability.
type Score struct {
	Skill    float64
	Workload float64
	Total    float64
}

// Eligible reports whether candidate may take a conversation for tenantID.
func Eligible(candidate *store.Identity, tenantID string) bool {
	return candidate != nil &&
		candidate.Role == store.RoleAgent &&
		candidate.IsAvailable &&
		tenantID != "" &&
		candidate.TenantID == tenantID &&
		candidate.MaxWorkload > 0 &&
		candidate.CurrentWorkload < candidate.MaxWorkload
}

// SkillScore is the fraction of required skills the candidate has. No
// required skills scores 1.0.
func SkillScore(candidate *store.Identity, requiredSkills []string) float64 {
	required := dedupe(requiredSkills)
	if len(required) == 0 {
		return 1.0
	}
	matched := 0
	for _, skill := range required {
		if candidate.HasSkill(skill) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// WorkloadScore is the candidate's free capacity as a fraction of its maximum.
func WorkloadScore(candidate *store.Identity) float64 {
	if candidate.MaxWorkload <= 0 {
		return 0
	}
	return 1.0 - float64(candidate.CurrentWorkload)/float64(candidate.MaxWorkload)
}

// ScoreCandidate computes the weighted score of a single candidate.
func ScoreCandidate(candidate *store.Identity, requiredSkills []string) Score {
	s := Score{
		Skill:    SkillScore(candidate, requiredSkills),
		Workload: WorkloadScore(candidate),
	}
	s.Total = SkillWeight*s.Skill + WorkloadWeight*s.Workload
	return s
}

// SelectAgent picks the highest scoring eligible candidate. The boolean is
// false when no candidate is eligible. Ties keep the earliest candidate.
func SelectAgent(candidates []*store.Identity, tenantID string, requiredSkills []string) (*store.Identity, bool) {
	var (
		best      *store.Identity
		bestScore float64
	)
	for _, candidate := range candidates {
		if !Eligible(candidate, tenantID) {
			continue
		}
		score := ScoreCandidate(candidate, requiredSkills).Total
		if best == nil || score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best, best != nil
}

func dedupe(values []string) []string {
	if len(values) < 2 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
