package consensus

// Tally counts the current tick's votes for registered identities and keeps
// the leader across ticks.
type Tally struct {
	ids    *IdentitySet
	counts map[uint32]int
	valid  int
	max    int
	leader uint32
}

func NewTally(ids *IdentitySet) *Tally {
	return &Tally{ids: ids, counts: make(map[uint32]int)}
}

// ResetTick zeroes the per-tick counts. The leader is kept.
func (t *Tally) ResetTick() {
	clear(t.counts)
	t.valid = 0
	t.max = 0
}

// Clear also forgets the leader.
func (t *Tally) Clear() {
	t.ResetTick()
	t.leader = NoVote
}

// Vote records one vote and reports whether it was counted. A candidate only
// takes the lead by strictly beating the current maximum, so on ties the
// candidate that got there first keeps it.
func (t *Tally) Vote(candidate uint32) bool {
	if candidate == NoVote || !t.ids.Contains(candidate) {
		return false
	}
	t.counts[candidate]++
	t.valid++
	if n := t.counts[candidate]; n > t.max {
		t.max = n
		t.leader = candidate
	}
	return true
}

func (t *Tally) Count(candidate uint32) int { return t.counts[candidate] }
func (t *Tally) ValidVotes() int            { return t.valid }
func (t *Tally) MaxVotes() int              { return t.max }
func (t *Tally) Leader() uint32             { return t.leader }
