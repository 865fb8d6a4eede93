package deme

import (
	"fmt"

	"consensusdeme/internal/agent"
	"consensusdeme/internal/queue"
	"consensusdeme/internal/random"
	"consensusdeme/internal/topology"
)

// Agent is what a deme needs from the machine living in a cell.
type Agent interface {
	agent.Receiver
	Reset()
	SetProgram(p agent.Program)
	Advance()
	Trait(t agent.Trait) float64
	SetTrait(t agent.Trait, v float64)
	// PushEvent queues msg for the agent's next Advance.
	PushEvent(msg agent.Message)
	// HandleEvent processes msg right away.
	HandleEvent(msg agent.Message)
	SetEventHandler(h agent.EventHandler)
}

// Factory builds the agent for one cell. env routes the agent's outbound
// messages and rng is the deme's shared stream.
type Factory func(env agent.Environment, rng random.Source, maxThreads int) Agent

func MachineFactory(env agent.Environment, rng random.Source, maxThreads int) Agent {
	return agent.NewMachine(env, rng, maxThreads)
}

type Cell struct {
	ID    int
	Agent Agent
	// Inbox holds polled messages, or pending deliveries under the delayed
	// policy.
	Inbox *queue.Bounded[agent.Message]
}

type CellHook func(c *Cell)

type TickHook func(tick int)

// Deme is a toroidal grid of agents advanced one shuffled tick at a time.
// It is single threaded; run independent demes for parallel work.
type Deme struct {
	cfg      Config
	grid     *topology.Grid
	cells    []*Cell
	schedule []int
	rng      random.Source
	router   *Router
	tick     int

	onReset   Hooks[CellHook]
	onTick    Hooks[TickHook]
	onAdvance Hooks[CellHook]
	onTickEnd Hooks[TickHook]
}

func New(cfg Config, rng random.Source, factory Factory) (*Deme, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("deme requires a random source")
	}
	if factory == nil {
		factory = MachineFactory
	}
	grid, err := topology.Build(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	d := &Deme{
		cfg:      cfg,
		grid:     grid,
		cells:    make([]*Cell, grid.Size()),
		schedule: make([]int, grid.Size()),
		rng:      rng,
	}
	d.router = newRouter(d)

	handler := agent.NonForkingHandler
	if cfg.Handling == HandlingForking {
		handler = agent.ForkingHandler
	}
	for id := range d.cells {
		a := factory(d.router, rng, cfg.MaxThreads)
		a.SetEventHandler(handler)
		a.SetTrait(agent.TraitLocation, float64(id))
		d.cells[id] = &Cell{
			ID:    id,
			Agent: a,
			Inbox: queue.New[agent.Message](cfg.InboxCapacity),
		}
	}

	d.onReset.Add(resetCell)
	d.onAdvance.Add(d.advanceCell)
	d.Reset()
	return d, nil
}

func resetCell(c *Cell) {
	c.Agent.SetTrait(agent.TraitLocation, float64(c.ID))
	c.Agent.SetTrait(agent.TraitUID, 0)
	c.Agent.SetTrait(agent.TraitOpinion, 0)
	c.Agent.SetTrait(agent.TraitDirection, float64(topology.Up))
	c.Inbox.Clear()
}

func (d *Deme) advanceCell(c *Cell) {
	if d.cfg.Policy == PolicyDelayed {
		d.router.drainDelayed(c, d.tick)
	}
	c.Agent.Advance()
}

// Reset returns every cell to its starting state without rebuilding the
// grid, then fires the cell reset hooks.
func (d *Deme) Reset() {
	for i, c := range d.cells {
		c.Agent.Reset()
		d.schedule[i] = i
	}
	d.tick = 0
	d.router.resetCounters()
	for _, c := range d.cells {
		d.onReset.Each(func(fn CellHook) { fn(c) })
	}
}

func (d *Deme) SetProgram(p agent.Program) {
	for _, c := range d.cells {
		c.Agent.SetProgram(p)
	}
}

// SingleTick shuffles the schedule, fires the tick hooks, then gives every
// cell exactly one turn in the shuffled order.
func (d *Deme) SingleTick() {
	d.rng.Shuffle(len(d.schedule), func(i, j int) {
		d.schedule[i], d.schedule[j] = d.schedule[j], d.schedule[i]
	})
	tick := d.tick
	d.onTick.Each(func(fn TickHook) { fn(tick) })
	for _, id := range d.schedule {
		c := d.cells[id]
		d.onAdvance.Each(func(fn CellHook) { fn(c) })
	}
	d.onTickEnd.Each(func(fn TickHook) { fn(tick) })
	d.tick++
}

func (d *Deme) Advance(ticks int) {
	for i := 0; i < ticks; i++ {
		d.SingleTick()
	}
}

func (d *Deme) Config() Config            { return d.cfg }
func (d *Deme) Grid() *topology.Grid      { return d.grid }
func (d *Deme) Size() int                 { return len(d.cells) }
func (d *Deme) Tick() int                 { return d.tick }
func (d *Deme) Random() random.Source     { return d.rng }
func (d *Deme) MessagesExchanged() uint64 { return d.router.MessagesExchanged() }
func (d *Deme) Router() *Router           { return d.router }

func (d *Deme) Cells() []*Cell { return d.cells }

func (d *Deme) Cell(id int) *Cell {
	if id < 0 || id >= len(d.cells) {
		panic(fmt.Sprintf("deme: cell id %d out of range [0,%d)", id, len(d.cells)))
	}
	return d.cells[id]
}

// Schedule returns a copy of the current turn order.
func (d *Deme) Schedule() []int {
	return append([]int(nil), d.schedule...)
}

func (d *Deme) OnCellReset(fn CellHook) HookID {
	return HookID{kind: hookCellReset, seq: d.onReset.Add(fn)}
}

func (d *Deme) OnTickStart(fn TickHook) HookID {
	return HookID{kind: hookTickStart, seq: d.onTick.Add(fn)}
}

// OnCellAdvance hooks run after the cell's agent has taken its step.
func (d *Deme) OnCellAdvance(fn CellHook) HookID {
	return HookID{kind: hookCellAdvance, seq: d.onAdvance.Add(fn)}
}

func (d *Deme) OnTickEnd(fn TickHook) HookID {
	return HookID{kind: hookTickEnd, seq: d.onTickEnd.Add(fn)}
}

func (d *Deme) RemoveHook(id HookID) bool {
	switch id.kind {
	case hookCellReset:
		return d.onReset.Remove(id.seq)
	case hookTickStart:
		return d.onTick.Remove(id.seq)
	case hookCellAdvance:
		return d.onAdvance.Remove(id.seq)
	case hookTickEnd:
		return d.onTickEnd.Remove(id.seq)
	default:
		return false
	}
}
