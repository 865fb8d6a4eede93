package consensus

import (
	"errors"
	"fmt"

	"consensusdeme/internal/agent"
	"consensusdeme/internal/deme"
)

const (
	// NoVote is the opinion of an agent that has not voted.
	NoVote uint32 = 0

	DefaultMinID uint32 = 1
	DefaultMaxID uint32 = 1000000000
)

var ErrIdentityRangeExhausted = errors.New("identity range too small for deme")

// CheckRange reports whether [minID, maxID] leaves room for cells distinct ids.
func CheckRange(minID, maxID uint32, cells int) error {
	if minID == NoVote {
		return fmt.Errorf("identity range must exclude %d", NoVote)
	}
	if maxID < minID || uint64(maxID-minID) <= uint64(cells) {
		return fmt.Errorf("%w: [%d,%d] for %d cells", ErrIdentityRangeExhausted, minID, maxID, cells)
	}
	return nil
}

// IdentitySet holds the ids assigned for the current trial.
type IdentitySet struct {
	ids map[uint32]struct{}
	min uint32
	max uint32
}

func NewIdentitySet() *IdentitySet {
	return &IdentitySet{ids: make(map[uint32]struct{})}
}

// Add reports false when id was already present.
func (s *IdentitySet) Add(id uint32) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if len(s.ids) == 0 || id < s.min {
		s.min = id
	}
	if len(s.ids) == 0 || id > s.max {
		s.max = id
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *IdentitySet) Contains(id uint32) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *IdentitySet) Len() int    { return len(s.ids) }
func (s *IdentitySet) Min() uint32 { return s.min }
func (s *IdentitySet) Max() uint32 { return s.max }

func (s *IdentitySet) Clear() {
	clear(s.ids)
	s.min = 0
	s.max = 0
}

// IdentityAssigner draws fresh unique ids for every cell of a deme.
type IdentityAssigner struct {
	MinID uint32
	MaxID uint32

	set   *IdentitySet
	tally *Tally
}

func NewIdentityAssigner(minID, maxID uint32, set *IdentitySet, tally *Tally) *IdentityAssigner {
	return &IdentityAssigner{MinID: minID, MaxID: maxID, set: set, tally: tally}
}

// Randomize clears the previous trial's ids and votes, then assigns each cell
// a uniform id, redrawing on collision.
func (a *IdentityAssigner) Randomize(d *deme.Deme) error {
	cells := d.Cells()
	if err := CheckRange(a.MinID, a.MaxID, len(cells)); err != nil {
		return err
	}
	a.set.Clear()
	if a.tally != nil {
		a.tally.Clear()
	}
	rng := d.Random()
	for _, c := range cells {
		id := rng.UintRange(a.MinID, a.MaxID)
		for !a.set.Add(id) {
			id = rng.UintRange(a.MinID, a.MaxID)
		}
		c.Agent.SetTrait(agent.TraitUID, float64(id))
	}
	return nil
}
