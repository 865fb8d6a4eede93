package agent

import (
	"fmt"

	"consensusdeme/internal/random"
	"consensusdeme/internal/topology"
)

const DefaultMaxThreads = 16

// Thread is one execution context inside a Machine.
type Thread struct {
	Input  Memory
	Local  Memory
	Output Memory
	Tag    Tag

	pc   int
	main bool
	done bool
}

func newThread(tag Tag, input Memory, main bool) *Thread {
	if input == nil {
		input = Memory{}
	}
	return &Thread{
		Input:  input,
		Local:  Memory{},
		Output: Memory{},
		Tag:    tag,
		main:   main,
	}
}

func (t *Thread) Main() bool { return t.main }

// Machine is a small cooperative multi-threaded agent. Each Advance handles
// queued events and then runs exactly one step on every thread that was live
// when the step phase began. The main thread loops over the program; forked
// threads run it once and exit.
type Machine struct {
	env        Environment
	rng        random.Source
	maxThreads int

	program Program
	traits  [numTraits]float64
	shared  Memory
	threads []*Thread
	events  []Message
	handler EventHandler
	current *Thread
}

func NewMachine(env Environment, rng random.Source, maxThreads int) *Machine {
	if maxThreads <= 0 {
		maxThreads = DefaultMaxThreads
	}
	m := &Machine{
		env:        env,
		rng:        rng,
		maxThreads: maxThreads,
		handler:    NonForkingHandler,
	}
	m.Reset()
	return m
}

// Reset clears execution state and spawns the main thread. Traits survive;
// the owner decides their defaults.
func (m *Machine) Reset() {
	m.shared = Memory{}
	m.events = nil
	m.current = nil
	m.threads = []*Thread{newThread(0, nil, true)}
}

func (m *Machine) SetProgram(p Program) {
	m.program = p
}

func (m *Machine) Program() Program { return m.program }

func (m *Machine) SetEventHandler(h EventHandler) {
	if h == nil {
		h = NonForkingHandler
	}
	m.handler = h
}

func (m *Machine) Trait(t Trait) float64 {
	if !t.Valid() {
		panic(fmt.Sprintf("agent: invalid trait %d", int(t)))
	}
	return m.traits[t]
}

func (m *Machine) SetTrait(t Trait, v float64) {
	if !t.Valid() {
		panic(fmt.Sprintf("agent: invalid trait %d", int(t)))
	}
	if t == TraitDirection {
		v = float64(NormalizeDirection(v))
	}
	m.traits[t] = v
}

func (m *Machine) Location() int { return int(m.traits[TraitLocation]) }

func (m *Machine) Facing() topology.Direction {
	return NormalizeDirection(m.traits[TraitDirection])
}

func (m *Machine) Shared() Memory { return m.shared }

func (m *Machine) Random() random.Source { return m.rng }

func (m *Machine) Threads() int { return len(m.threads) }

func (m *Machine) PendingEvents() int { return len(m.events) }

// PushEvent queues msg for handling at the start of the next Advance.
func (m *Machine) PushEvent(msg Message) {
	m.events = append(m.events, msg)
}

// HandleEvent runs the configured handler right away.
func (m *Machine) HandleEvent(msg Message) {
	m.handler(m, msg)
}

// Fork is dropped silently once the thread limit is reached.
func (m *Machine) Fork(msg Message) {
	if len(m.threads) >= m.maxThreads {
		return
	}
	m.threads = append(m.threads, newThread(msg.Tag, msg.Payload.Clone(), false))
}

func (m *Machine) LoadInput(mem Memory) {
	t := m.activeThread()
	if t == nil {
		return
	}
	for k, v := range mem {
		t.Input[k] = v
	}
}

func (m *Machine) activeThread() *Thread {
	if m.current != nil {
		return m.current
	}
	for _, t := range m.threads {
		if !t.done {
			return t
		}
	}
	return nil
}

func (m *Machine) Advance() {
	pending := m.events
	m.events = nil
	for _, msg := range pending {
		m.HandleEvent(msg)
	}

	steps := m.program.Steps
	if len(steps) == 0 {
		return
	}
	live := len(m.threads)
	for i := 0; i < live; i++ {
		t := m.threads[i]
		if t.done {
			continue
		}
		m.current = t
		steps[t.pc](m, t)
		t.pc++
		if t.pc >= len(steps) {
			if t.main {
				t.pc = 0
			} else {
				t.done = true
			}
		}
	}
	m.current = nil

	kept := m.threads[:0]
	for _, t := range m.threads {
		if !t.done {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(m.threads); i++ {
		m.threads[i] = nil
	}
	m.threads = kept
}

// SendFacing ships a copy of t's output to the neighbor the machine faces.
func (m *Machine) SendFacing(t *Thread, tag Tag) {
	m.env.SendDirected(m.Location(), Message{Tag: tag, Payload: t.Output.Clone()})
}

func (m *Machine) Broadcast(t *Thread, tag Tag) {
	m.env.Broadcast(m.Location(), Message{Tag: tag, Payload: t.Output.Clone()})
}

func (m *Machine) Retrieve() bool {
	return m.env.Retrieve(m.Location())
}
