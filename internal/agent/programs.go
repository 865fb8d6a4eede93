package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrProgramExists   = errors.New("program already registered")
	ErrProgramNotFound = errors.New("program not found")
)

// Step is one bounded unit of work executed by a thread.
type Step func(m *Machine, t *Thread)

type Program struct {
	Name  string
	Steps []Step
}

func (p Program) Len() int { return len(p.Steps) }

var programRegistry = struct {
	mu sync.RWMutex
	m  map[string]Program
}{
	m: make(map[string]Program),
}

func init() {
	initializeBuiltInPrograms()
}

func initializeBuiltInPrograms() {
	MustRegisterProgram(Program{Name: "idle", Steps: []Step{StepNop}})
	MustRegisterProgram(Program{Name: "self-vote", Steps: []Step{StepVoteSelf}})
	MustRegisterProgram(Program{Name: "max-gossip", Steps: []Step{StepAdoptMax, StepBroadcastBest}})
	MustRegisterProgram(Program{Name: "facing-relay", Steps: []Step{StepAdoptMax, StepSendBest, StepRotate}})
	MustRegisterProgram(Program{Name: "polled-max", Steps: []Step{StepRetrieve, StepAdoptMax, StepBroadcastBest}})
}

func RegisterProgram(p Program) error {
	if p.Name == "" {
		return errors.New("program name is required")
	}
	programRegistry.mu.Lock()
	defer programRegistry.mu.Unlock()
	if _, exists := programRegistry.m[p.Name]; exists {
		return fmt.Errorf("%w: %s", ErrProgramExists, p.Name)
	}
	programRegistry.m[p.Name] = Program{Name: p.Name, Steps: append([]Step(nil), p.Steps...)}
	return nil
}

func MustRegisterProgram(p Program) {
	if err := RegisterProgram(p); err != nil {
		panic(err)
	}
}

func LookupProgram(name string) (Program, error) {
	programRegistry.mu.RLock()
	defer programRegistry.mu.RUnlock()
	p, ok := programRegistry.m[name]
	if !ok {
		return Program{}, fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	return p, nil
}

func ListPrograms() []string {
	programRegistry.mu.RLock()
	defer programRegistry.mu.RUnlock()
	names := make([]string, 0, len(programRegistry.m))
	for name := range programRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register 0 carries the best candidate a machine knows about, both in shared
// memory and in message payloads.
const bestRegister = 0

func StepNop(*Machine, *Thread) {}

func StepVoteSelf(m *Machine, _ *Thread) {
	m.SetTrait(TraitOpinion, m.Trait(TraitUID))
}

func StepAdoptMax(m *Machine, t *Thread) {
	best := m.shared[bestRegister]
	if uid := m.Trait(TraitUID); uid > best {
		best = uid
	}
	if in, ok := t.Input[bestRegister]; ok && in > best {
		best = in
	}
	m.shared[bestRegister] = best
	if best > 0 {
		m.SetTrait(TraitOpinion, best)
	}
}

func StepBroadcastBest(m *Machine, t *Thread) {
	if !t.Main() {
		return
	}
	t.Output[bestRegister] = m.shared[bestRegister]
	m.Broadcast(t, t.Tag)
}

func StepSendBest(m *Machine, t *Thread) {
	if !t.Main() {
		return
	}
	t.Output[bestRegister] = m.shared[bestRegister]
	m.SendFacing(t, t.Tag)
}

func StepRotate(m *Machine, t *Thread) {
	if !t.Main() {
		return
	}
	m.SetTrait(TraitDirection, float64(m.Facing().RotateClockwise()))
}

func StepRetrieve(m *Machine, t *Thread) {
	if !t.Main() {
		return
	}
	m.Retrieve()
}
