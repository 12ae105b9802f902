// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package allreduce implements an in-process all-reduce on top of the collectives
// rendezvous: each participating device contributes one or more flat buffers, and every
// participant gets back the elementwise reduction (sum, product, max or min) of the
// group's contributions, written into its destination buffers.
//
// Participants run on their own goroutines and call Run with participant data built
// around the RendezvousKey the group agreed on. Run blocks until the whole local group
// submitted and the reduction finished.
package allreduce

import (
	"fmt"
	"strings"

	"github.com/gomlx/collectives"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Buffer is one tensor contributed to an all-reduce: Source holds this participant's
// values and Destination receives the reduced result. Destination may be the same
// slice as Source, for an in-place reduction.
type Buffer struct {
	// DType of the elements. Source and Destination must be []T of the matching Go
	// type, see NewBuffer.
	DType dtypes.DType

	// NumElements reduced. Source and Destination must hold at least this many.
	NumElements int

	// Source values contributed by this participant.
	Source any

	// Destination receives the reduced values.
	Destination any
}

// NewBuffer builds the Buffer for one tensor from its flat data. destination must be
// as long as source, and may be the same slice for an in-place reduction.
func NewBuffer[T dtypes.Supported](source, destination []T) Buffer {
	if len(destination) != len(source) {
		exceptions.Panicf("all-reduce buffers need matching source and destination lengths, got %d and %d",
			len(source), len(destination))
	}
	return Buffer{
		DType:       dtypes.FromGenericsType[T](),
		NumElements: len(source),
		Source:      source,
		Destination: destination,
	}
}

// Participant is one device's contribution to an all-reduce.
//
// All participants of a group must submit the same reduction and the same buffer
// layout: same number of buffers, with pairwise matching dtypes and element counts.
type Participant struct {
	collectives.ParticipantData

	// Buffers to reduce. Buffer #i of every participant is reduced elementwise with
	// the buffers #i of the rest of the group.
	Buffers []Buffer

	// Reduction applied across the group.
	Reduction collectives.ReduceOpType
}

var _ collectives.Participant = Participant{}

// String implements fmt.Stringer.
func (p Participant) String() string {
	descriptions := make([]string, len(p.Buffers))
	for i, buffer := range p.Buffers {
		descriptions[i] = fmt.Sprintf("{%s[%d]}", buffer.DType, buffer.NumElements)
	}
	return fmt.Sprintf("AllReduceParticipant{reduction=%s, buffers=[%s], device_ordinal=%d, key=%s}",
		p.Reduction, strings.Join(descriptions, ","), p.DeviceOrdinal, p.Key)
}

// Output of one all-reduce, as seen by each participant. The reduced values themselves
// are written into the participants' Destination buffers.
type Output struct {
	// NumParticipants that contributed to the reduction.
	NumParticipants int
}

// registry shares one rendezvous instance per key across the process.
var registry = collectives.NewRegistry(reduceAll)

// Run submits this participant's contribution and blocks until the whole local group
// reduced. When it returns without error, the Destination buffers of every participant
// of the group hold the reduced values.
//
// Every participant of a group gets the same result, or the same error. After an
// error, the whole group must resubmit: the retry runs on a fresh rendezvous.
func Run(participant Participant) (Output, error) {
	output, _, err := registry.Submit(participant)
	return output, err
}
