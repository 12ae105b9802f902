// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collectives

import "fmt"

// Participant is the data one device contributes to one collective operation.
//
// Operation packages define their own participant type with the operation payload
// (buffers, reduction type, etc.) and usually embed ParticipantData, which already
// implements the interface.
type Participant interface {
	// RendezvousKey of the operation this participant is joining.
	RendezvousKey() RendezvousKey

	fmt.Stringer
}

// ParticipantData holds the fields common to the participants of every collective
// operation.
type ParticipantData struct {
	// Key of the collective operation being joined.
	Key RendezvousKey

	// DeviceOrdinal is the local ordinal of the device this participant stands for,
	// as opposed to its GlobalDeviceID.
	DeviceOrdinal int

	// Stream on which the device wants the operation executed. It is opaque to the
	// rendezvous and only interpreted by the collective function.
	Stream any
}

// RendezvousKey implements Participant.
func (p ParticipantData) RendezvousKey() RendezvousKey { return p.Key }

// String implements fmt.Stringer. Participant types embedding ParticipantData usually
// shadow it with a description of their payload.
func (p ParticipantData) String() string {
	return fmt.Sprintf("ParticipantData{device_ordinal=%d, key=%s}", p.DeviceOrdinal, p.Key)
}

var _ Participant = ParticipantData{}
