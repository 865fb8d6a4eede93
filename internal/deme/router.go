package deme

import (
	"consensusdeme/internal/agent"
	"consensusdeme/internal/topology"
)

// Router resolves send targets on the grid and delivers under the deme's
// policy. It is the agent.Environment handed to every agent.
type Router struct {
	d        *Deme
	sent     uint64
	dropped  uint64
	retrieve uint64
}

func newRouter(d *Deme) *Router {
	return &Router{d: d}
}

func (r *Router) resetCounters() {
	r.sent = 0
	r.dropped = 0
	r.retrieve = 0
}

// MessagesExchanged counts every dispatch to a target; a broadcast counts
// once per neighbor.
func (r *Router) MessagesExchanged() uint64 { return r.sent }

// Dropped counts messages evicted from full inboxes.
func (r *Router) Dropped() uint64 { return r.dropped }

func (r *Router) Retrieved() uint64 { return r.retrieve }

// SendDirected delivers to the neighbor the origin agent is facing.
func (r *Router) SendDirected(origin int, msg agent.Message) {
	src := r.d.Cell(origin)
	facing := agent.NormalizeDirection(src.Agent.Trait(agent.TraitDirection))
	r.deliver(r.d.grid.NeighborID(origin, facing), msg.Clone())
}

// Broadcast delivers one copy to each cardinal neighbor: up, down, left, right.
func (r *Router) Broadcast(origin int, msg agent.Message) {
	for _, dir := range topology.Cardinal() {
		r.deliver(r.d.grid.NeighborID(origin, dir), msg.Clone())
	}
}

// Retrieve pops the oldest polled message for origin and hands it to the
// agent's handler. It reports false when nothing was waiting or the deme is
// not polled.
func (r *Router) Retrieve(origin int) bool {
	if r.d.cfg.Policy != PolicyPolled {
		return false
	}
	c := r.d.Cell(origin)
	msg, ok := c.Inbox.PopFront()
	if !ok {
		return false
	}
	r.retrieve++
	c.Agent.HandleEvent(msg)
	return true
}

func (r *Router) deliver(target int, msg agent.Message) {
	r.sent++
	c := r.d.cells[target]
	switch r.d.cfg.Policy {
	case PolicyImmediate:
		c.Agent.PushEvent(msg)
	case PolicyDelayed:
		msg.RemainingDelay = r.d.cfg.Latency
		msg.SentTick = r.d.tick
		r.enqueue(c, msg)
	case PolicyPolled:
		msg.SentTick = r.d.tick
		r.enqueue(c, msg)
	}
}

func (r *Router) enqueue(c *Cell, msg agent.Message) {
	if _, evicted := c.Inbox.Push(msg); evicted {
		r.dropped++
	}
}

// drainDelayed ages entries sent before tick by one, then pushes every ready
// entry at the head to the agent. The owner gets one turn per tick, so a
// message sent at tick t surfaces at tick t+latency whichever side of the
// owner's turn it was sent on.
func (r *Router) drainDelayed(c *Cell, tick int) {
	c.Inbox.Each(func(m *agent.Message) {
		if m.SentTick < tick && m.RemainingDelay > 0 {
			m.RemainingDelay--
		}
	})
	for {
		head, ok := c.Inbox.Front()
		if !ok || head.RemainingDelay > 0 {
			return
		}
		msg, _ := c.Inbox.PopFront()
		c.Agent.PushEvent(msg)
	}
}
