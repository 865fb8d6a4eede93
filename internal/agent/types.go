package agent

import "consensusdeme/internal/topology"

// Memory is a register file keyed by register index.
type Memory map[int]float64

func (m Memory) Clone() Memory {
	out := make(Memory, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Tag is the affinity a receiving machine uses to pick a handler.
type Tag uint16

type Trait int

const (
	TraitLocation Trait = iota
	TraitUID
	TraitDirection
	TraitOpinion

	numTraits
)

func (t Trait) Valid() bool {
	return t >= 0 && t < numTraits
}

// Message is one dispatched payload. RemainingDelay and SentTick are only
// consulted by latency-delayed delivery.
type Message struct {
	Tag            Tag
	Payload        Memory
	RemainingDelay int
	SentTick       int
}

func (m Message) Clone() Message {
	out := m
	out.Payload = m.Payload.Clone()
	return out
}

// Receiver is the part of a machine a delivered message acts on.
type Receiver interface {
	Fork(msg Message)
	LoadInput(mem Memory)
}

type EventHandler func(r Receiver, msg Message)

// ForkingHandler starts a new thread seeded with the payload.
func ForkingHandler(r Receiver, msg Message) {
	r.Fork(msg)
}

// NonForkingHandler merges the payload into the active thread's input.
func NonForkingHandler(r Receiver, msg Message) {
	r.LoadInput(msg.Payload)
}

// Environment routes outbound traffic for a machine sitting at origin.
type Environment interface {
	SendDirected(origin int, msg Message)
	Broadcast(origin int, msg Message)
	// Retrieve pops the oldest polled message of origin and handles it.
	Retrieve(origin int) bool
}

// NormalizeDirection folds any trait value onto a valid facing.
func NormalizeDirection(v float64) topology.Direction {
	d := int(v) % topology.NumDirections
	if d < 0 {
		d += topology.NumDirections
	}
	return topology.Direction(d)
}
