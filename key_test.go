package collectives_test

import (
	"slices"
	"testing"

	"github.com/gomlx/collectives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRendezvousKey(t *testing.T) {
	base := collectives.RendezvousKey{
		RunID:                1,
		GlobalDevices:        []collectives.GlobalDeviceID{0, 1, 2, 3},
		NumLocalParticipants: 4,
		OpKind:               collectives.CollectiveOpCrossReplica,
		OpID:                 7,
	}
	same := base
	same.GlobalDevices = slices.Clone(base.GlobalDevices)

	variations := []struct {
		name string
		key  collectives.RendezvousKey
	}{
		{"different run", collectives.RendezvousKey{RunID: 2, GlobalDevices: base.GlobalDevices,
			NumLocalParticipants: 4, OpKind: base.OpKind, OpID: 7}},
		{"different devices", collectives.RendezvousKey{RunID: 1,
			GlobalDevices: []collectives.GlobalDeviceID{0, 1}, NumLocalParticipants: 4,
			OpKind: base.OpKind, OpID: 7}},
		{"different local count", collectives.RendezvousKey{RunID: 1, GlobalDevices: base.GlobalDevices,
			NumLocalParticipants: 2, OpKind: base.OpKind, OpID: 7}},
		{"different op kind", collectives.RendezvousKey{RunID: 1, GlobalDevices: base.GlobalDevices,
			NumLocalParticipants: 4, OpKind: collectives.CollectiveOpCrossModule, OpID: 7}},
		{"different op", collectives.RendezvousKey{RunID: 1, GlobalDevices: base.GlobalDevices,
			NumLocalParticipants: 4, OpKind: base.OpKind, OpID: 8}},
	}

	t.Run("Equal", func(t *testing.T) {
		assert.True(t, base.Equal(base))
		assert.True(t, base.Equal(same), "equality must compare the device lists by value")
		for _, variation := range variations {
			assert.False(t, base.Equal(variation.key), variation.name)
		}
	})

	t.Run("Hash", func(t *testing.T) {
		assert.Equal(t, base.Hash(), base.Hash())
		assert.Equal(t, base.Hash(), same.Hash(), "equal keys must hash the same")
		for _, variation := range variations {
			assert.NotEqual(t, base.Hash(), variation.key.Hash(), variation.name)
		}
	})

	t.Run("String", func(t *testing.T) {
		s := base.String()
		assert.Contains(t, s, "run_id=1")
		assert.Contains(t, s, "global_devices=[0,1,2,3]")
		assert.Contains(t, s, "num_local_participants=4")
		assert.Contains(t, s, "op_kind=CrossReplica")
		assert.Contains(t, s, "op_id=7")
	})
}

func TestGlobalDeviceIDsString(t *testing.T) {
	assert.Equal(t, "", collectives.GlobalDeviceIDsString(nil))
	assert.Equal(t, "7", collectives.GlobalDeviceIDsString([]collectives.GlobalDeviceID{7}))
	assert.Equal(t, "0,1,2", collectives.GlobalDeviceIDsString([]collectives.GlobalDeviceID{0, 1, 2}))
}

func TestNewRunID(t *testing.T) {
	first := collectives.NewRunID()
	second := collectives.NewRunID()
	assert.NotEqual(t, first, second)
	assert.Greater(t, second, first)
}

func TestEnums(t *testing.T) {
	assert.Equal(t, "CrossModule", collectives.CollectiveOpCrossModule.String())
	assert.Equal(t, "CrossReplica", collectives.CollectiveOpCrossReplica.String())
	assert.Len(t, collectives.CollectiveOpKindValues(), 2)

	assert.Equal(t, "Sum", collectives.ReduceOpSum.String())
	assert.Equal(t, "Product", collectives.ReduceOpProduct.String())
	got, err := collectives.ReduceOpTypeString("min")
	require.NoError(t, err)
	assert.Equal(t, collectives.ReduceOpMin, got)
	_, err = collectives.ReduceOpTypeString("bogus")
	assert.Error(t, err)
}
