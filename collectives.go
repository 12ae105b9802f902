// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package collectives implements the in-process rendezvous used to execute collective
// operations (like an all-reduce) across devices that are driven by concurrent goroutines.
//
// Each participating device submits its data to a shared Rendezvous object, found through
// a Registry by a RendezvousKey that uniquely identifies one collective operation within
// one execution (RunID). The last participant to arrive releases all of them, exactly one
// is elected to run the collective function over the gathered inputs, and the result (or
// error) is broadcast back to every participant. A Rendezvous executes a single operation
// and is then retired: a retry of a failed operation always gets a fresh instance.
//
// The allreduce sub-package implements a CPU all-reduce on top of this rendezvous.
package collectives

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// RunID identifies one execution of a program: collective operations issued by the same
// execution share a RunID, and concurrent executions that must not interfere with each
// other must use different ones.
type RunID int64

var runIDCounter atomic.Int64

// NewRunID returns a RunID unique within this process.
func NewRunID() RunID {
	return RunID(runIDCounter.Add(1))
}

// GlobalDeviceID identifies a device uniquely across the whole computation, including
// devices managed by other processes. It is an index into a DeviceAssignment, as opposed
// to a local device ordinal, which only has meaning within one process.
type GlobalDeviceID int64

// GlobalDeviceIDsString formats a list of global device IDs for logs and error messages.
func GlobalDeviceIDsString(ids []GlobalDeviceID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(int64(id), 10)
	}
	return strings.Join(parts, ",")
}

// ReduceOpType select among the basic types of reduction supported, see allreduce.Run.
type ReduceOpType int

const (
	// ReduceOpUndefined is an undefined value.
	ReduceOpUndefined ReduceOpType = iota

	// ReduceOpSum reduces by summing all elements being reduced.
	ReduceOpSum

	// ReduceOpProduct reduces by multiplying all elements being reduced.
	ReduceOpProduct

	// ReduceOpMax reduces by taking the maximum value.
	ReduceOpMax

	// ReduceOpMin reduces by taking the minimum value.
	ReduceOpMin
)

//go:generate go tool enumer -type ReduceOpType -trimprefix=ReduceOp -output=gen_reduceoptype_enumer.go collectives.go
