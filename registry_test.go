package collectives_test

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/collectives"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SharedInstancePerKey(t *testing.T) {
	reg := collectives.NewRegistry(sumOrdinals(nil))
	keyA := testKey(2, 10)
	keyB := testKey(2, 11)

	rA := reg.GetOrCreate(keyA)
	assert.Same(t, rA, reg.GetOrCreate(keyA), "same key must share one instance")
	assert.NotSame(t, rA, reg.GetOrCreate(keyB), "different keys must not share instances")
	assert.Equal(t, keyA, rA.Key())
	assert.Equal(t, 2, reg.NumPending())
}

func TestRegistry_FreshInstanceAfterCompletion(t *testing.T) {
	reg := collectives.NewRegistry(sumOrdinals(nil))
	key := testKey(2, 12)
	before := reg.GetOrCreate(key)

	var wg sync.WaitGroup
	for ordinal := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := reg.Submit(collectives.ParticipantData{Key: key, DeviceOrdinal: ordinal})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 0, reg.NumPending(), "the instance must be retired after its operation")
	assert.NotSame(t, before, reg.GetOrCreate(key),
		"asking again with the same key must create a fresh instance")
}

func TestRegistry_RetryAfterFailure(t *testing.T) {
	var calls atomic.Int32
	reg := collectives.NewRegistry(func(participants []collectives.ParticipantData) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("transient failure")
		}
		total := 0
		for _, p := range participants {
			total += p.DeviceOrdinal
		}
		return total, nil
	})
	key := testKey(2, 13)

	round := func() (outputs [2]int, errs [2]error) {
		var wg sync.WaitGroup
		for ordinal := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outputs[ordinal], _, errs[ordinal] = reg.Submit(
					collectives.ParticipantData{Key: key, DeviceOrdinal: ordinal})
			}()
		}
		wg.Wait()
		return
	}

	_, errs := round()
	require.ErrorContains(t, errs[0], "transient failure")
	require.ErrorContains(t, errs[1], "transient failure")

	// The retry reuses the key and must land on a fresh instance.
	outputs, errs := round()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, outputs[0])
	assert.Equal(t, 1, outputs[1])
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, reg.NumPending())
}

func TestRegistry_Stress(t *testing.T) {
	const (
		numParticipants = 50
		numRounds       = 20
	)
	var invocations atomic.Int32
	reg := collectives.NewRegistry(sumOrdinals(&invocations))
	key := testKey(numParticipants, 14)
	wantSum := numParticipants * (numParticipants - 1) / 2

	for round := range numRounds {
		var wg sync.WaitGroup
		var numPrimaries atomic.Int32
		outputs := make([]int, numParticipants)
		errs := make([]error, numParticipants)
		for ordinal := range numParticipants {
			wg.Add(1)
			go func() {
				defer wg.Done()
				time.Sleep(rand.N(2 * time.Millisecond))
				var isPrimary bool
				outputs[ordinal], isPrimary, errs[ordinal] = reg.Submit(
					collectives.ParticipantData{Key: key, DeviceOrdinal: ordinal})
				if isPrimary {
					numPrimaries.Add(1)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), numPrimaries.Load(), "round %d: want exactly 1 primary", round)
		for ordinal := range numParticipants {
			require.NoError(t, errs[ordinal], "round %d participant %d", round, ordinal)
			require.Equal(t, wantSum, outputs[ordinal], "round %d participant %d", round, ordinal)
		}
		require.Equal(t, int32(round+1), invocations.Load(),
			"round %d: collective function must run exactly once per round", round)
	}
	assert.Equal(t, 0, reg.NumPending())
}
