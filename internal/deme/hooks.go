package deme

type hookKind uint8

const (
	hookCellReset hookKind = iota + 1
	hookTickStart
	hookCellAdvance
	hookTickEnd
)

// HookID is the removal handle returned when a hook is registered.
type HookID struct {
	kind hookKind
	seq  uint64
}

// Hooks is an ordered registry. Callbacks fire in registration order.
type Hooks[F any] struct {
	next    uint64
	entries []hookEntry[F]
}

type hookEntry[F any] struct {
	seq uint64
	fn  F
}

func (h *Hooks[F]) Add(fn F) uint64 {
	h.next++
	h.entries = append(h.entries, hookEntry[F]{seq: h.next, fn: fn})
	return h.next
}

func (h *Hooks[F]) Remove(seq uint64) bool {
	for i, e := range h.entries {
		if e.seq == seq {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (h *Hooks[F]) Len() int { return len(h.entries) }

// Each visits a snapshot so callbacks may add or remove hooks safely.
func (h *Hooks[F]) Each(visit func(F)) {
	if len(h.entries) == 0 {
		return
	}
	snapshot := append([]hookEntry[F](nil), h.entries...)
	for _, e := range snapshot {
		visit(e.fn)
	}
}
