package routing

// SelectNext picks the group member who should receive the next assignment.
//
// For each member whose agent is active, the effective load is the member's
// historical assignment count in this group divided by the effective weight
// (the configured weight under weighted distribution, 1 under equal). The
// member with the minimum load wins; ties break by first-encountered order
// in the member list so selection is stable and reproducible, never
// randomized.
//
// This is deliberately a greedy least-loaded-next heuristic recomputed from
// durable history on every call, not a rotating pointer: it survives process
// restarts without recovery state, at the cost of transient imbalance when
// concurrent routes race on the same group (bounded by the number of racing
// requests).
//
// counts maps userID to that user's assignment count within this group only;
// assignments in other groups must not be included so an agent shared across
// groups tracks load independently per group.
func SelectNext(group *Group, members []*GroupMember, counts map[string]int) (*GroupMember, error) {
	var best *GroupMember
	var bestLoad float64

	for _, m := range members {
		if m.AgentStatus != AgentActive {
			continue
		}
		load := float64(counts[m.UserID]) / float64(effectiveWeight(group, m))
		if best == nil || load < bestLoad {
			best = m
			bestLoad = load
		}
	}

	if best == nil {
		return nil, ErrNoEligibleMembers
	}
	return best, nil
}

func effectiveWeight(group *Group, m *GroupMember) int {
	if group.DistributionMode != DistributionWeighted {
		return 1
	}
	if m.Weight < 1 {
		return 1
	}
	return m.Weight
}
