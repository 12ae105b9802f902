package collectives_test

import (
	"testing"

	"github.com/gomlx/collectives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceAssignment(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		da, err := collectives.NewDeviceAssignment([][]collectives.GlobalDeviceID{
			{0, 1},
			{2, 3},
			{4, 5},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, da.NumReplicas())
		assert.Equal(t, 2, da.NumComputations())
		assert.Equal(t, collectives.GlobalDeviceID(3), da.Device(1, 1))
		assert.Equal(t, collectives.GlobalDeviceID(4), da.Device(2, 0))

		replica, computation, err := da.LogicalIDForDevice(4)
		require.NoError(t, err)
		assert.Equal(t, 2, replica)
		assert.Equal(t, 0, computation)

		_, _, err = da.LogicalIDForDevice(99)
		assert.ErrorContains(t, err, "not part of the DeviceAssignment")

		assert.Contains(t, da.String(), "replicas=3")
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := collectives.NewDeviceAssignment(nil)
		assert.Error(t, err)
		_, err = collectives.NewDeviceAssignment([][]collectives.GlobalDeviceID{{0, 1}, {2}})
		assert.ErrorContains(t, err, "same length")
		_, err = collectives.NewDeviceAssignment([][]collectives.GlobalDeviceID{{0, 1}, {1, 2}})
		assert.ErrorContains(t, err, "assigned twice")
	})
}

func TestParticipatingReplicas(t *testing.T) {
	tests := []struct {
		name          string
		replicaID     int
		totalReplicas int
		groups        [][]int
		want          []int
		wantErr       bool
	}{
		{name: "no groups means all replicas", replicaID: 1, totalReplicas: 4,
			want: []int{0, 1, 2, 3}},
		{name: "first group", replicaID: 2, totalReplicas: 4,
			groups: [][]int{{0, 2}, {1, 3}}, want: []int{0, 2}},
		{name: "second group", replicaID: 3, totalReplicas: 4,
			groups: [][]int{{0, 2}, {1, 3}}, want: []int{1, 3}},
		{name: "replica not in any group", replicaID: 5, totalReplicas: 8,
			groups: [][]int{{0, 2}, {1, 3}}, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := collectives.ParticipatingReplicas(test.replicaID, test.totalReplicas, test.groups)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestParticipatingDevices(t *testing.T) {
	da, err := collectives.NewDeviceAssignment([][]collectives.GlobalDeviceID{
		{0, 1},
		{2, 3},
		{4, 5},
		{6, 7},
	})
	require.NoError(t, err)

	// Device 5 runs computation 1 of replica 2; its group {0, 2} maps to the devices
	// running computation 1 of replicas 0 and 2.
	devices, err := collectives.ParticipatingDevices(5, da, [][]int{{0, 2}, {1, 3}})
	require.NoError(t, err)
	assert.Equal(t, []collectives.GlobalDeviceID{1, 5}, devices)

	// Without groups every replica participates.
	devices, err = collectives.ParticipatingDevices(5, da, nil)
	require.NoError(t, err)
	assert.Equal(t, []collectives.GlobalDeviceID{1, 3, 5, 7}, devices)

	_, err = collectives.ParticipatingDevices(99, da, nil)
	assert.Error(t, err)
}
