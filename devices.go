// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collectives

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// DeviceAssignment maps the logical coordinates (replica, computation) of an execution to
// the global device running them. Every process taking part in a computation shares the
// same assignment, so any of them can work out the full participant set of a collective
// operation locally.
type DeviceAssignment struct {
	numReplicas     int
	numComputations int

	// devices is indexed by replica*numComputations + computation.
	devices []GlobalDeviceID

	// logicalIDs maps a device back to its coordinates.
	logicalIDs map[GlobalDeviceID]logicalID
}

type logicalID struct {
	replica, computation int
}

// NewDeviceAssignment creates a DeviceAssignment from one row of global device IDs per
// replica, with one column per computation. All rows must have the same length and no
// device may appear twice.
func NewDeviceAssignment(replicaRows [][]GlobalDeviceID) (*DeviceAssignment, error) {
	if len(replicaRows) == 0 || len(replicaRows[0]) == 0 {
		return nil, errors.New("DeviceAssignment needs at least one replica running one computation")
	}
	da := &DeviceAssignment{
		numReplicas:     len(replicaRows),
		numComputations: len(replicaRows[0]),
		logicalIDs:      make(map[GlobalDeviceID]logicalID, len(replicaRows)*len(replicaRows[0])),
	}
	da.devices = make([]GlobalDeviceID, 0, da.numReplicas*da.numComputations)
	for replica, row := range replicaRows {
		if len(row) != da.numComputations {
			return nil, errors.Errorf("DeviceAssignment rows must all have the same length, replica 0 has %d computations and replica %d has %d",
				da.numComputations, replica, len(row))
		}
		for computation, device := range row {
			if previous, found := da.logicalIDs[device]; found {
				return nil, errors.Errorf("device %d assigned twice, to (replica=%d, computation=%d) and to (replica=%d, computation=%d)",
					device, previous.replica, previous.computation, replica, computation)
			}
			da.logicalIDs[device] = logicalID{replica: replica, computation: computation}
			da.devices = append(da.devices, device)
		}
	}
	return da, nil
}

// NumReplicas in the assignment.
func (da *DeviceAssignment) NumReplicas() int { return da.numReplicas }

// NumComputations run by each replica.
func (da *DeviceAssignment) NumComputations() int { return da.numComputations }

// Device returns the global device running the given computation of the given replica.
func (da *DeviceAssignment) Device(replica, computation int) GlobalDeviceID {
	return da.devices[replica*da.numComputations+computation]
}

// LogicalIDForDevice returns the (replica, computation) coordinates the device is
// assigned to.
func (da *DeviceAssignment) LogicalIDForDevice(device GlobalDeviceID) (replica, computation int, err error) {
	id, found := da.logicalIDs[device]
	if !found {
		return 0, 0, errors.Errorf("device %d is not part of the DeviceAssignment", device)
	}
	return id.replica, id.computation, nil
}

// String implements fmt.Stringer.
func (da *DeviceAssignment) String() string {
	rows := make([]string, da.numReplicas)
	for replica := range da.numReplicas {
		row := da.devices[replica*da.numComputations : (replica+1)*da.numComputations]
		rows[replica] = fmt.Sprintf("[%s]", GlobalDeviceIDsString(row))
	}
	return fmt.Sprintf("DeviceAssignment{replicas=%d, computations=%d, devices=[%s]}",
		da.numReplicas, da.numComputations, strings.Join(rows, ", "))
}

// ParticipatingReplicas returns the replicas in the same group as replicaID. An empty
// replicaGroups means every one of the totalReplicas replicas participates, as a single
// group.
func ParticipatingReplicas(replicaID int, totalReplicas int, replicaGroups [][]int) ([]int, error) {
	if len(replicaGroups) == 0 {
		all := make([]int, totalReplicas)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	for _, group := range replicaGroups {
		if slices.Contains(group, replicaID) {
			return slices.Clone(group), nil
		}
	}
	return nil, errors.Errorf("replica %d is not in any of the replica groups %v", replicaID, replicaGroups)
}

// ParticipatingDevices returns the global devices participating in the same collective
// operation as device: one per replica of the device's group, all running the same
// computation as the device itself.
//
// The result is what goes in RendezvousKey.GlobalDevices, and is the same for every
// device of the group.
func ParticipatingDevices(device GlobalDeviceID, assignment *DeviceAssignment, replicaGroups [][]int) ([]GlobalDeviceID, error) {
	replica, computation, err := assignment.LogicalIDForDevice(device)
	if err != nil {
		return nil, err
	}
	replicas, err := ParticipatingReplicas(replica, assignment.NumReplicas(), replicaGroups)
	if err != nil {
		return nil, errors.WithMessagef(err, "finding the group of device %d", device)
	}
	devices := make([]GlobalDeviceID, len(replicas))
	for i, r := range replicas {
		devices[i] = assignment.Device(r, computation)
	}
	return devices, nil
}
