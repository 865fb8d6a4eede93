package consensus

import (
	"context"
	"math"

	"consensusdeme/internal/agent"
	"consensusdeme/internal/deme"
)

// Plugin wires vote accounting onto a deme through its hooks: counts reset at
// tick start, each cell votes its opinion right after its turn, and full
// consensus is checked at tick end.
type Plugin struct {
	d        *deme.Deme
	ids      *IdentitySet
	tally    *Tally
	assigner *IdentityAssigner
	hooks    []deme.HookID

	fullTime int
	streak   int
}

func Attach(d *deme.Deme, minID, maxID uint32) (*Plugin, error) {
	if err := CheckRange(minID, maxID, d.Size()); err != nil {
		return nil, err
	}
	ids := NewIdentitySet()
	tally := NewTally(ids)
	p := &Plugin{
		d:        d,
		ids:      ids,
		tally:    tally,
		assigner: NewIdentityAssigner(minID, maxID, ids, tally),
	}
	p.hooks = append(p.hooks,
		d.OnTickStart(func(int) { p.tally.ResetTick() }),
		d.OnCellAdvance(p.vote),
		d.OnTickEnd(p.trackConsensus),
	)
	return p, nil
}

// Detach removes the plugin's hooks from the deme.
func (p *Plugin) Detach() {
	for _, id := range p.hooks {
		p.d.RemoveHook(id)
	}
	p.hooks = nil
}

func (p *Plugin) vote(c *deme.Cell) {
	p.tally.Vote(OpinionVote(c.Agent.Trait(agent.TraitOpinion)))
}

func (p *Plugin) trackConsensus(int) {
	if p.tally.MaxVotes() == p.d.Size() {
		p.fullTime++
		p.streak++
		return
	}
	p.streak = 0
}

// OpinionVote maps an opinion trait onto a candidate id. Non-positive and
// out-of-range opinions abstain.
func OpinionVote(opinion float64) uint32 {
	if !(opinion >= 1) || opinion > math.MaxUint32 {
		return NoVote
	}
	return uint32(opinion)
}

// RandomizeIdentities draws fresh ids and clears the tally.
func (p *Plugin) RandomizeIdentities() error {
	return p.assigner.Randomize(p.d)
}

// StartTrial resets the deme, assigns identities and clears the consensus
// counters.
func (p *Plugin) StartTrial() error {
	p.d.Reset()
	if err := p.RandomizeIdentities(); err != nil {
		return err
	}
	p.fullTime = 0
	p.streak = 0
	return nil
}

func (p *Plugin) Tally() *Tally              { return p.tally }
func (p *Plugin) Identities() *IdentitySet   { return p.ids }
func (p *Plugin) FullConsensusTime() int     { return p.fullTime }
func (p *Plugin) RecentConsensusStreak() int { return p.streak }

// TickSample is the tally state observed at the end of one tick.
type TickSample struct {
	Tick              int    `json:"tick"`
	ValidVotes        int    `json:"valid_votes"`
	MaxVotes          int    `json:"max_votes"`
	Leader            uint32 `json:"leader"`
	MessagesExchanged uint64 `json:"messages_exchanged"`
}

type TickObserver func(TickSample)

// Summary is the outcome of one trial.
type Summary struct {
	Ticks                 int
	ValidVotes            int
	MaxVotes              int
	Leader                uint32
	FullConsensusTime     int
	RecentConsensusStreak int
	MessagesExchanged     uint64
	MinID                 uint32
	MaxID                 uint32
}

// Score rewards valid votes, the final consensus size and, weighted by deme
// size, every tick spent at full consensus.
func (s Summary) Score(demeSize int) float64 {
	return float64(s.ValidVotes) + float64(s.MaxVotes) + float64(s.FullConsensusTime*demeSize)
}

func (p *Plugin) Summary() Summary {
	return Summary{
		Ticks:                 p.d.Tick(),
		ValidVotes:            p.tally.ValidVotes(),
		MaxVotes:              p.tally.MaxVotes(),
		Leader:                p.tally.Leader(),
		FullConsensusTime:     p.fullTime,
		RecentConsensusStreak: p.streak,
		MessagesExchanged:     p.d.MessagesExchanged(),
		MinID:                 p.ids.Min(),
		MaxID:                 p.ids.Max(),
	}
}

// RunTrial starts a fresh trial and advances it ticks times. ctx is checked
// between ticks.
func (p *Plugin) RunTrial(ctx context.Context, ticks int, observe TickObserver) (Summary, error) {
	if err := p.StartTrial(); err != nil {
		return Summary{}, err
	}
	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return p.Summary(), err
		}
		p.d.SingleTick()
		if observe != nil {
			observe(TickSample{
				Tick:              i,
				ValidVotes:        p.tally.ValidVotes(),
				MaxVotes:          p.tally.MaxVotes(),
				Leader:            p.tally.Leader(),
				MessagesExchanged: p.d.MessagesExchanged(),
			})
		}
	}
	return p.Summary(), nil
}
