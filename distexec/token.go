package distexec

import (
	"sync"
	"sync/atomic"

	"github.com/kp1181/scool/bitset"
)

// tokens tracks one peer's view of the passive-token bitmap: a bit per
// peer, set iff that peer was observed to have nothing to give. The
// bitmap is gossipped via every background message's Header and is
// monotonic within a superstep (spec.md §8 invariant 5) -- bits are only
// ever folded in with OrInto, never cleared, until Reset at the next
// superstep boundary.
//
// Updates use a try-lock: a contender that cannot acquire the lock
// immediately simply skips the update rather than blocking, matching
// spec.md §5's "the token bitmap uses a try-lock" resource policy. A
// skipped update is safe because the bitmap is an approximation gossipped
// repeatedly -- the same information arrives again on the next message.
type tokens struct {
	mu   sync.Mutex
	busy atomic.Bool
	bits *bitset.Set
}

func newTokens(n uint) *tokens {
	return &tokens{bits: bitset.New(n)}
}

// TryFold attempts to OR other into the bitmap, skipping the update
// without blocking if the bitmap is contended.
func (t *tokens) TryFold(other *bitset.Set) (applied bool) {
	if !t.busy.CompareAndSwap(false, true) {
		return false
	}
	defer t.busy.Store(false)
	t.mu.Lock()
	t.bits.OrInto(other)
	t.mu.Unlock()
	return true
}

// Set marks peer i passive, without blocking on contention (same
// try-lock discipline as TryFold).
func (t *tokens) Set(i uint) (applied bool) {
	if !t.busy.CompareAndSwap(false, true) {
		return false
	}
	defer t.busy.Store(false)
	t.mu.Lock()
	t.bits.Add(i)
	t.mu.Unlock()
	return true
}

// TryContains reports whether peer i's bit is already set, without
// blocking on contention (spec.md §4.7.3: "checks its own token bit for
// that victim, with a try-lock -- skip without blocking if contended").
// ok is false if a concurrent updater held the lock and the check was
// skipped; callers should treat "not ok" the same as "bit unset" --
// i.e. proceed with the round trip rather than assume passivity from a
// check that never actually happened.
func (t *tokens) TryContains(i uint) (isSet, ok bool) {
	if !t.busy.CompareAndSwap(false, true) {
		return false, false
	}
	defer t.busy.Store(false)
	t.mu.Lock()
	isSet = t.bits.Contains(i)
	t.mu.Unlock()
	return isSet, true
}

// Snapshot returns a deep copy of the current bitmap, safe to hand to a
// caller that will mutate or serialize it.
func (t *tokens) Snapshot() *bitset.Set {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bits.Clone()
}

// Full reports whether every peer's bit is set (spec.md S4). The steal
// loops do not call it; they stop once their candidate list is empty.
func (t *tokens) Full() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bits.PopCount() == t.bits.Len()
}

// Reset clears the bitmap to empty, at a superstep boundary.
func (t *tokens) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bits.Clear()
}
