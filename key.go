// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collectives

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/spaolacci/murmur3"
)

// CollectiveOpKind tells which class of collective operation a RendezvousKey refers to,
// which in turn defines what its OpID means.
type CollectiveOpKind int

const (
	// CollectiveOpCrossModule operations synchronize instances of different programs, and
	// their OpID is a channel ID assigned when the programs were built.
	CollectiveOpCrossModule CollectiveOpKind = iota

	// CollectiveOpCrossReplica operations synchronize replicas of the same program, and
	// their OpID identifies the instruction issuing the operation within that program.
	CollectiveOpCrossReplica
)

//go:generate go tool enumer -type CollectiveOpKind -trimprefix=CollectiveOp -output=gen_collectiveopkind_enumer.go key.go

// RendezvousKey identifies one collective operation within one execution: participants
// meet at the same Rendezvous if, and only if, they submit equal keys.
//
// Two operations can only communicate if they share the RunID, the set of participating
// global devices, the operation kind and the OpID. Different replica groups of the same
// instruction get different GlobalDevices, hence different keys, and never mix.
type RendezvousKey struct {
	// RunID of the execution issuing the operation.
	RunID RunID

	// GlobalDevices participating in this operation, across all processes.
	GlobalDevices []GlobalDeviceID

	// NumLocalParticipants is how many of the participants are handled by this process:
	// the collective operation fires when this many have submitted.
	NumLocalParticipants int

	// OpKind classifies the operation and defines the meaning of OpID. See CollectiveOpKind.
	OpKind CollectiveOpKind

	// OpID is a channel ID (CollectiveOpCrossModule) or an instruction ID
	// (CollectiveOpCrossReplica).
	OpID int64
}

// Equal reports whether k and other identify the same collective operation.
func (k RendezvousKey) Equal(other RendezvousKey) bool {
	return k.RunID == other.RunID &&
		k.NumLocalParticipants == other.NumLocalParticipants &&
		k.OpKind == other.OpKind &&
		k.OpID == other.OpID &&
		slices.Equal(k.GlobalDevices, other.GlobalDevices)
}

// Hash returns a hash of all the key fields. Equal keys always hash to the same value,
// also across processes and executions.
func (k RendezvousKey) Hash() uint64 {
	return murmur3.Sum64([]byte(k.packed()))
}

// packed returns a binary encoding of the key that is unique per key: it is used as the
// hash input and as the map key in a Registry, since RendezvousKey itself holds a slice
// and is not comparable.
func (k RendezvousKey) packed() string {
	b := make([]byte, 0, 8*(5+len(k.GlobalDevices)))
	b = binary.LittleEndian.AppendUint64(b, uint64(k.RunID))
	b = binary.LittleEndian.AppendUint64(b, uint64(len(k.GlobalDevices)))
	for _, id := range k.GlobalDevices {
		b = binary.LittleEndian.AppendUint64(b, uint64(id))
	}
	b = binary.LittleEndian.AppendUint64(b, uint64(k.NumLocalParticipants))
	b = binary.LittleEndian.AppendUint64(b, uint64(k.OpKind))
	b = binary.LittleEndian.AppendUint64(b, uint64(k.OpID))
	return string(b)
}

// String implements fmt.Stringer.
func (k RendezvousKey) String() string {
	return fmt.Sprintf(
		"RendezvousKey{run_id=%d, global_devices=[%s], num_local_participants=%d, op_kind=%s, op_id=%d}",
		k.RunID, GlobalDeviceIDsString(k.GlobalDevices), k.NumLocalParticipants, k.OpKind, k.OpID)
}
