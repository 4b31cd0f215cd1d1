package mediumenv

// handleRef is a generation-checked handle into an identityRegistry arena.
// A destroyed-and-reallocated slot bumps the generation, so a stale handle
// can never alias a newer registration that happens to reuse the index.
type handleRef struct {
	index      uint32
	generation uint32
}

type registrySlot[V any] struct {
	generation uint32
	live       bool
	value      V
}

// identityRegistry maps a live medium identity to its context through an
// arena of generation-checked slots.
//
// It is not safe for concurrent use: every registry is touched exclusively
// from the environment's executor thread, so correctness rests on the
// happens-before relationship established by job submission and in-order
// execution, not on locking.
type identityRegistry[K comparable, V any] struct {
	handles map[K]handleRef
	slots   []registrySlot[V]
	free    []uint32
}

func newIdentityRegistry[K comparable, V any]() *identityRegistry[K, V] {
	return &identityRegistry[K, V]{
		handles: make(map[K]handleRef),
	}
}

// put registers value under key, replacing any existing registration.
// At most one context exists per live key.
func (r *identityRegistry[K, V]) put(key K, value V) handleRef {
	if h, ok := r.handles[key]; ok && r.valid(h) {
		r.slots[h.index].value = value
		return h
	}

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		index = uint32(len(r.slots))
		r.slots = append(r.slots, registrySlot[V]{})
	}

	slot := &r.slots[index]
	slot.generation++
	slot.live = true
	slot.value = value

	h := handleRef{index: index, generation: slot.generation}
	r.handles[key] = h
	return h
}

// get returns the context registered under key, if the handle is still live
// and of the current generation.
func (r *identityRegistry[K, V]) get(key K) (V, bool) {
	var zero V
	h, ok := r.handles[key]
	if !ok || !r.valid(h) {
		return zero, false
	}
	return r.slots[h.index].value, true
}

// remove drops the registration for key. Removing an unknown key is a no-op.
func (r *identityRegistry[K, V]) remove(key K) {
	h, ok := r.handles[key]
	if !ok {
		return
	}
	delete(r.handles, key)
	if !r.valid(h) {
		return
	}

	var zero V
	slot := &r.slots[h.index]
	slot.live = false
	slot.value = zero
	r.free = append(r.free, h.index)
}

// clear drops every registration without firing anything.
func (r *identityRegistry[K, V]) clear() {
	var zero V
	for i := range r.slots {
		if r.slots[i].live {
			r.slots[i].live = false
			r.slots[i].value = zero
			r.free = append(r.free, uint32(i))
		}
	}
	r.handles = make(map[K]handleRef)
}

func (r *identityRegistry[K, V]) size() int {
	return len(r.handles)
}

// forEach visits every live registration. Mutating the registry during the
// walk is not allowed.
func (r *identityRegistry[K, V]) forEach(fn func(key K, value V)) {
	for key, h := range r.handles {
		if r.valid(h) {
			fn(key, r.slots[h.index].value)
		}
	}
}

func (r *identityRegistry[K, V]) valid(h handleRef) bool {
	if int(h.index) >= len(r.slots) {
		return false
	}
	slot := &r.slots[h.index]
	return slot.live && slot.generation == h.generation
}
