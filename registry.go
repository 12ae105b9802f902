// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collectives

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gomlx/collectives/types/xsync"
	"github.com/gomlx/exceptions"
)

// Registry hands the participants of a collective operation their shared Rendezvous
// instance: every participant asks for the key the group agreed on beforehand, and all
// of them get the one instance registered under it.
//
// Instances are single-use. When its operation finishes (or aborts), an instance is
// retired from the registry before the outcome reaches any participant, so asking again
// with the same key -- a retry after a failure, or the next iteration of a loop -- is
// guaranteed a fresh instance.
//
// A Registry executes one kind of collective operation, fixed by the CollectiveFunc
// given to NewRegistry; operation packages typically keep one process-wide Registry.
// It is safe for concurrent use.
type Registry[I Participant, O any] struct {
	instances xsync.SyncMap[string, *Rendezvous[I, O]]
	run       CollectiveFunc[I, O]

	clock        clock.Clock
	stuckWarning time.Duration
}

// NewRegistry creates a Registry whose instances execute run. See Registry.
func NewRegistry[I Participant, O any](run CollectiveFunc[I, O]) *Registry[I, O] {
	if run == nil {
		exceptions.Panicf("cannot create a collectives Registry with a nil CollectiveFunc")
	}
	return &Registry[I, O]{
		run:          run,
		clock:        clock.New(),
		stuckWarning: DefaultStuckWarning,
	}
}

// SetStuckWarning changes how long participants wait before logging that they look
// stuck, instead of DefaultStuckWarning. It only affects instances created after the
// call, and returns the updated registry so calls can be chained.
func (reg *Registry[I, O]) SetStuckWarning(d time.Duration) *Registry[I, O] {
	reg.stuckWarning = d
	return reg
}

// SetClock replaces the clock used by the stuck diagnostics of instances created after
// the call, usually with a mock clock in tests. It returns the updated registry so
// calls can be chained.
func (reg *Registry[I, O]) SetClock(clk clock.Clock) *Registry[I, O] {
	reg.clock = clk
	return reg
}

// GetOrCreate returns the shared instance for key, creating and registering it if this
// participant is the first one to ask.
func (reg *Registry[I, O]) GetOrCreate(key RendezvousKey) *Rendezvous[I, O] {
	packed := key.packed()
	if r, found := reg.instances.Load(packed); found {
		return r
	}
	r := New[I, O](key, reg.run).SetClock(reg.clock).SetStuckWarning(reg.stuckWarning)
	r.onRetired = func() { reg.instances.Delete(packed) }
	actual, _ := reg.instances.LoadOrStore(packed, r)
	return actual
}

// GetterFor returns the Getter that SubmitParticipant uses to resolve the shared
// instance for key at submission time.
func (reg *Registry[I, O]) GetterFor(key RendezvousKey) Getter[I, O] {
	return func() *Rendezvous[I, O] {
		return reg.GetOrCreate(key)
	}
}

// Submit runs the whole participant protocol against this registry: it is shorthand
// for SubmitParticipant(reg.GetterFor(participant.RendezvousKey()), participant).
func (reg *Registry[I, O]) Submit(participant I) (output O, isPrimary bool, err error) {
	return SubmitParticipant(reg.GetterFor(participant.RendezvousKey()), participant)
}

// NumPending returns how many instances are live, still gathering participants or
// executing. Once every operation submitted so far finished, it returns 0.
func (reg *Registry[I, O]) NumPending() int {
	count := 0
	reg.instances.Range(func(_ string, _ *Rendezvous[I, O]) bool {
		count++
		return true
	})
	return count
}
