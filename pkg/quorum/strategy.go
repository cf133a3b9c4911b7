// Package quorum decides whether every expected participant of a poll has answered every
// option, using whatever membership view the platform can provide.
package quorum

// Answers is the per-user answer count of one poll.
type Answers struct {
	Options int
	Counts  map[string]int
}

// Complete reports whether user has answered every option.
func (a Answers) Complete(user string) bool {
	return a.Options > 0 && a.Counts[user] >= a.Options
}

// CompleteCount is the number of users who answered every option.
func (a Answers) CompleteCount() int {
	n := 0
	for user := range a.Counts {
		if a.Complete(user) {
			n++
		}
	}
	return n
}

// Strategy returns decided=false when it cannot judge with the given membership view.
type Strategy func(m MembershipInfo, a Answers) (reached, decided bool)

// Cascade is tried in order; the first strategy that decides wins.
var Cascade = []Strategy{ByHeadcount, ByMemberIDs, ByVoters}

// ByHeadcount needs at least as many complete users as the group has human members.
func ByHeadcount(m MembershipInfo, a Answers) (bool, bool) {
	if m.Kind != KindCount || m.Count <= 0 {
		return false, false
	}
	return a.CompleteCount() >= m.Count, true
}

// ByMemberIDs needs every listed member to be complete. An empty list is never quorum.
func ByMemberIDs(m MembershipInfo, a Answers) (bool, bool) {
	if m.Kind != KindIDs {
		return false, false
	}
	if len(m.IDs) == 0 {
		return false, true
	}
	for _, id := range m.IDs {
		if !a.Complete(id) {
			return false, true
		}
	}
	return true, true
}

// ByVoters is the last resort: at least two users voted and all of them are complete.
func ByVoters(_ MembershipInfo, a Answers) (bool, bool) {
	if len(a.Counts) < 2 {
		return false, true
	}
	for user := range a.Counts {
		if !a.Complete(user) {
			return false, true
		}
	}
	return true, true
}

// Decide runs strategies in order. Zero options or no decision means not reached.
func Decide(m MembershipInfo, a Answers, strategies ...Strategy) bool {
	if a.Options == 0 {
		return false
	}
	if len(strategies) == 0 {
		strategies = Cascade
	}
	for _, s := range strategies {
		if reached, decided := s(m, a); decided {
			return reached
		}
	}
	return false
}
