// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collectives

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gomlx/collectives/types/xsync"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// StuckWarningEnvVar is the environment variable that overrides DefaultStuckWarning.
// It takes any value time.ParseDuration understands, e.g. "30s".
const StuckWarningEnvVar = "GOMLX_COLLECTIVES_STUCK_WARNING"

// DefaultStuckWarning is how long a participant waits for the rest of its group before
// logging that the collective operation looks stuck. The wait itself never times out:
// the log is only a diagnostic, and a release after the warning is logged as a
// false-positive.
//
// It can be overridden with the StuckWarningEnvVar environment variable, or per
// instance with Rendezvous.SetStuckWarning.
var DefaultStuckWarning = 5 * time.Second

func init() {
	value := os.Getenv(StuckWarningEnvVar)
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		klog.Errorf("Invalid duration %q in $%s, keeping the default of %s: %v",
			value, StuckWarningEnvVar, DefaultStuckWarning, err)
		return
	}
	DefaultStuckWarning = d
}

// CollectiveFunc executes one collective operation once the whole group is gathered.
// The Rendezvous calls it exactly once, on the goroutine of the participant elected
// primary, with the participants in submission order. The output (or error) it returns
// is handed to every participant of the group.
//
// It must report failures by returning an error, not by panicking: a panic unwinds the
// primary's goroutine without releasing the other participants.
type CollectiveFunc[I Participant, O any] func(participants []I) (O, error)

// Getter finds, or creates, the shared Rendezvous instance for one collective
// operation, typically with Registry.GetterFor. SubmitParticipant takes a Getter
// instead of an instance so that each participant resolves the instance at submission
// time, after any previous instance with the same key was retired.
type Getter[I Participant, O any] func() *Rendezvous[I, O]

// outcome of a collective operation, broadcast from the primary (or from an aborting
// participant) to the whole group.
type outcome[O any] struct {
	output O
	err    error
}

// Rendezvous is the meeting point of the participants of one collective operation: it
// gathers one input per participant, has the whole group wait for each other, runs the
// collective function exactly once and hands its output back to every participant.
//
// Participants do not normally handle a Rendezvous directly: they call
// SubmitParticipant, which finds the shared instance through a Registry and runs the
// whole protocol.
//
// A Rendezvous executes a single operation. After a failed operation there is no way to
// know how far the group got, so a retry must run on a fresh instance; the Registry
// guarantees that by retiring instances before their outcome is delivered.
type Rendezvous[I Participant, O any] struct {
	key RendezvousKey
	run CollectiveFunc[I, O]

	mu           sync.Mutex
	participants []I

	// initialized flips when the group is complete and one participant takes the
	// primary role. From then on the instance cannot accept submissions.
	initialized atomic.Bool

	// allPresent releases the group when the last participant arrives. If the group is
	// aborted instead, it never fires.
	allPresent *xsync.BlockingCounter

	// allDone releases the group a second time, once every participant has its
	// outcome. It keeps successive operations from overlapping: no participant moves
	// on until the whole group is finished here.
	allDone *xsync.BlockingCounter

	// broadcast publishes the outcome, once, to the whole group.
	broadcast *xsync.LatchWithValue[outcome[O]]

	// onRetired is set by the Registry that owns the instance, and runs exactly once,
	// before the outcome is broadcast.
	retireOnce sync.Once
	onRetired  func()

	clock        clock.Clock
	stuckWarning time.Duration
}

// New creates the Rendezvous for the collective operation identified by key: run will
// be called with the key.NumLocalParticipants participants once all of them submitted.
//
// Most callers should create instances indirectly, through a Registry, which shares one
// instance per key and retires it after its operation.
func New[I Participant, O any](key RendezvousKey, run CollectiveFunc[I, O]) *Rendezvous[I, O] {
	if key.NumLocalParticipants <= 0 {
		exceptions.Panicf("cannot create a Rendezvous for %s -- it needs at least 1 local participant", key)
	}
	if run == nil {
		exceptions.Panicf("cannot create a Rendezvous for %s with a nil CollectiveFunc", key)
	}
	klog.V(2).Infof("collectives: new rendezvous for %s", key)
	return &Rendezvous[I, O]{
		key:          key,
		run:          run,
		participants: make([]I, 0, key.NumLocalParticipants),
		allPresent:   xsync.NewBlockingCounter(key.NumLocalParticipants),
		allDone:      xsync.NewBlockingCounter(key.NumLocalParticipants),
		broadcast:    xsync.NewLatchWithValue[outcome[O]](),
		clock:        clock.New(),
		stuckWarning: DefaultStuckWarning,
	}
}

// Key identifies the collective operation this rendezvous executes.
func (r *Rendezvous[I, O]) Key() RendezvousKey { return r.key }

// SetStuckWarning changes how long this instance waits before logging that it looks
// stuck, instead of DefaultStuckWarning. It returns the updated instance so calls can
// be chained, and must be called before any participant submits.
func (r *Rendezvous[I, O]) SetStuckWarning(d time.Duration) *Rendezvous[I, O] {
	r.stuckWarning = d
	return r
}

// SetClock replaces the clock used for the stuck diagnostics, usually with a mock clock
// in tests. It returns the updated instance so calls can be chained, and must be called
// before any participant submits.
func (r *Rendezvous[I, O]) SetClock(clk clock.Clock) *Rendezvous[I, O] {
	r.clock = clk
	return r
}

// SubmitParticipant runs the whole participant side of one collective operation: it
// resolves the shared Rendezvous with getter, submits participant, waits for the
// operation to run, and only returns once every participant of the group is done with
// the instance, so that successive operations never overlap.
//
// It returns the output broadcast by the collective function and whether this
// participant was the primary, the one that executed the function.
//
// Every participant of a group receives the same error: if the collective function
// fails, or a mismatched participant aborts the group, the failure is delivered to all
// of them. Retrying a failed operation always lands on a fresh instance -- the failed
// one is retired before any participant is released.
//
// Submitting to a group that already gathered all its participants is a fatal error and
// panics.
func SubmitParticipant[I Participant, O any](getter Getter[I, O], participant I) (output O, isPrimary bool, err error) {
	r := getter()
	output, isPrimary, err = r.submit(participant)

	select {
	case <-r.allPresent.WaitChan():
	default:
		// The group aborted before it was complete, so the completion barrier below
		// will never be released. The instance was already retired and cannot be
		// reached again; there is nothing left to coordinate.
		return output, isPrimary, err
	}

	// Second phase of the teardown: waits for the whole group to have its outcome
	// before anyone moves on, typically to the next operation on the same devices.
	r.allDone.Decrement()
	r.waitStuck(r.allDone.WaitChan(), nil, func() string {
		return fmt.Sprintf("%s waiting for all %d participants to be done with %s",
			participant, r.key.NumLocalParticipants, r.key)
	})
	return
}

// submit registers the participant, waits for the group and resolves the outcome. It
// implements all of the protocol except the completion barrier, which is run by
// SubmitParticipant.
func (r *Rendezvous[I, O]) submit(participant I) (output O, isPrimary bool, err error) {
	r.mu.Lock()
	if len(r.participants) >= r.key.NumLocalParticipants {
		r.mu.Unlock()
		exceptions.Panicf(
			"cannot submit %s: %s already gathered all its %d local participants -- "+
				"a Rendezvous executes a single operation, a retry must use a fresh instance",
			participant, r.key, r.key.NumLocalParticipants)
	}
	if r.broadcast.Test() {
		// The group was aborted before it was complete; it stays aborted, late
		// participants get the same failure as everyone else.
		r.mu.Unlock()
		o := r.broadcast.Wait()
		return output, false, o.err
	}
	if key := participant.RendezvousKey(); !key.Equal(r.key) {
		err = errors.Errorf(
			"mismatch among collective participants -- every participant must submit the same "+
				"rendezvous key, but %s was submitted to %s",
			participant, r.key)
		r.abort(err)
		r.mu.Unlock()
		return output, false, err
	}
	r.participants = append(r.participants, participant)
	r.mu.Unlock()

	// Waits for the whole group to arrive, or for an abort.
	r.allPresent.Decrement()
	r.waitStuck(r.allPresent.WaitChan(), r.broadcast.WaitChan(), func() string {
		return fmt.Sprintf("%s waiting for all %d participants to arrive at %s",
			participant, r.key.NumLocalParticipants, r.key)
	})
	select {
	case <-r.allPresent.WaitChan():
	default:
		o := r.broadcast.Wait()
		return output, false, o.err
	}

	if r.initializationBarrier() {
		// This participant is the primary: it runs the collective operation for the
		// whole group. No locking here: the group is complete, r.participants is
		// frozen.
		output, err = r.run(r.participants)
		r.retire()
		r.broadcast.Trigger(outcome[O]{output: output, err: err})
		return output, true, err
	}
	o := r.broadcast.Wait()
	return o.output, false, o.err
}

// initializationBarrier returns true for exactly one caller, which becomes the primary
// participant, responsible for running the collective function.
func (r *Rendezvous[I, O]) initializationBarrier() bool {
	return r.initialized.CompareAndSwap(false, true)
}

// abort fails the whole group: the instance is retired and err becomes the outcome of
// every current and future participant. Only the first abort (or the primary's outcome)
// takes effect.
func (r *Rendezvous[I, O]) abort(err error) {
	klog.Warningf("collectives: aborting %s: %v", r.key, err)
	r.retire()
	r.broadcast.Trigger(outcome[O]{err: err})
}

// retire runs the Registry's onRetired hook exactly once. It is called before the
// outcome is broadcast, so by the time any participant is released a retry with the
// same key is guaranteed a fresh instance.
func (r *Rendezvous[I, O]) retire() {
	r.retireOnce.Do(func() {
		klog.V(2).Infof("collectives: retiring rendezvous for %s", r.key)
		if r.onRetired != nil {
			r.onRetired()
		}
	})
}

func (r *Rendezvous[I, O]) waitStuck(done, abort <-chan struct{}, desc func() string) {
	waitAndLogIfStuck(r.clock, r.stuckWarning, done, abort, desc)
}

// WaitAndLogIfStuck waits on counter like counter.Wait, but logs an error if the wait
// takes longer than DefaultStuckWarning, and logs again, as a false-positive, if the
// counter is released after that. desc describes what is being waited for; it is only
// evaluated when a message is logged.
func WaitAndLogIfStuck(counter *xsync.BlockingCounter, desc func() string) {
	waitAndLogIfStuck(clock.New(), DefaultStuckWarning, counter.WaitChan(), nil, desc)
}

// waitAndLogIfStuck blocks until done, or abort when not nil, is closed. If that takes
// longer than warnAfter it logs an error built with desc, keeps waiting, and marks the
// warning a false-positive when the wait finally ends.
func waitAndLogIfStuck(clk clock.Clock, warnAfter time.Duration, done, abort <-chan struct{}, desc func() string) {
	if klog.V(3).Enabled() {
		klog.Infof("Begin: %s", desc())
	}
	timer := clk.Timer(warnAfter)
	defer timer.Stop()
	select {
	case <-done:
	case <-abort:
	case <-timer.C:
		klog.Errorf("This goroutine has been waiting for %s and may be stuck: %s", warnAfter, desc())
		select {
		case <-done:
		case <-abort:
		}
		klog.Errorf("Goroutine is unstuck! The warning above was a false-positive -- "+
			"perhaps the timeout is too short: %s", desc())
		return
	}
	if klog.V(3).Enabled() {
		klog.Infof("Finished: %s", desc())
	}
}
