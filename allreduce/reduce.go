// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package allreduce

import (
	"runtime"

	"github.com/gomlx/collectives"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"
)

// podNumeric are the native Go numeric types reduced directly. Float16 and BFloat16
// are specialized types and are reduced through float32 instead.
type podNumeric interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// reduceChunkSize is how many elements each parallel reduction task handles. Buffers
// with fewer elements are reduced on the calling goroutine.
const reduceChunkSize = 16 * 1024

// reduceAll executes one all-reduce over the gathered group. It runs exactly once per
// group, on the goroutine of the primary participant.
func reduceAll(participants []Participant) (Output, error) {
	if err := validate(participants); err != nil {
		return Output{}, err
	}
	for bufferIdx := range participants[0].Buffers {
		if err := reduceBuffer(participants, bufferIdx); err != nil {
			return Output{}, errors.WithMessagef(err, "all-reduce of buffer #%d", bufferIdx)
		}
	}
	return Output{NumParticipants: len(participants)}, nil
}

// validate spot-checks that the group agrees on the reduction and on the layout of
// every buffer. The rendezvous already guarantees matching keys; the payload is the
// operation's to check.
func validate(participants []Participant) error {
	first := participants[0]
	if first.Reduction == collectives.ReduceOpUndefined || !first.Reduction.IsAReduceOpType() {
		return errors.Errorf("invalid all-reduce reduction %s", first.Reduction)
	}
	if len(first.Buffers) == 0 {
		return errors.Errorf("all-reduce needs at least one buffer, %s has none", first)
	}
	for _, p := range participants[1:] {
		if p.Reduction != first.Reduction {
			return errors.Errorf("participants disagree on the reduction, %s and %s: %s and %s",
				first.Reduction, p.Reduction, first, p)
		}
		if len(p.Buffers) != len(first.Buffers) {
			return errors.Errorf("participants disagree on the number of buffers: %s and %s", first, p)
		}
		for i, buffer := range p.Buffers {
			reference := first.Buffers[i]
			if buffer.DType != reference.DType || buffer.NumElements != reference.NumElements {
				return errors.Errorf(
					"participants disagree on buffer #%d, expected the same element-count and dtype but got %s[%d] and %s[%d]",
					i, reference.DType, reference.NumElements, buffer.DType, buffer.NumElements)
			}
		}
	}
	return nil
}

// reduceBuffer dispatches the reduction of one buffer position on its dtype.
func reduceBuffer(participants []Participant, bufferIdx int) error {
	switch dtype := participants[0].Buffers[bufferIdx].DType; dtype {
	case dtypes.Int8:
		return reducePOD[int8](participants, bufferIdx)
	case dtypes.Int16:
		return reducePOD[int16](participants, bufferIdx)
	case dtypes.Int32:
		return reducePOD[int32](participants, bufferIdx)
	case dtypes.Int64:
		return reducePOD[int64](participants, bufferIdx)
	case dtypes.Uint8:
		return reducePOD[uint8](participants, bufferIdx)
	case dtypes.Uint16:
		return reducePOD[uint16](participants, bufferIdx)
	case dtypes.Uint32:
		return reducePOD[uint32](participants, bufferIdx)
	case dtypes.Uint64:
		return reducePOD[uint64](participants, bufferIdx)
	case dtypes.Float32:
		return reducePOD[float32](participants, bufferIdx)
	case dtypes.Float64:
		return reducePOD[float64](participants, bufferIdx)
	case dtypes.Float16:
		return reduceFloat16(participants, bufferIdx)
	case dtypes.BFloat16:
		return reduceBFloat16(participants, bufferIdx)
	default:
		return errors.Errorf("all-reduce does not support dtype %s", dtype)
	}
}

// slicesOf extracts the typed source and destination of one buffer, checking they match
// the declared dtype and element count.
func slicesOf[T any](buffer Buffer, owner Participant) (source, destination []T, err error) {
	var ok bool
	source, ok = buffer.Source.([]T)
	if !ok {
		return nil, nil, errors.Errorf("%s: buffer source is %T, but dtype %s requires []%s",
			owner, buffer.Source, buffer.DType, buffer.DType.GoType())
	}
	destination, ok = buffer.Destination.([]T)
	if !ok {
		return nil, nil, errors.Errorf("%s: buffer destination is %T, but dtype %s requires []%s",
			owner, buffer.Destination, buffer.DType, buffer.DType.GoType())
	}
	if len(source) < buffer.NumElements || len(destination) < buffer.NumElements {
		return nil, nil, errors.Errorf("%s: buffer declares %d elements, but source has %d and destination has %d",
			owner, buffer.NumElements, len(source), len(destination))
	}
	return source, destination, nil
}

// gatherSlices collects the typed sources and destinations of one buffer position
// across the whole group.
func gatherSlices[T any](participants []Participant, bufferIdx int) (sources, destinations [][]T, numElements int, err error) {
	numElements = participants[0].Buffers[bufferIdx].NumElements
	sources = make([][]T, len(participants))
	destinations = make([][]T, len(participants))
	for i, p := range participants {
		sources[i], destinations[i], err = slicesOf[T](p.Buffers[bufferIdx], p)
		if err != nil {
			return nil, nil, 0, err
		}
	}
	return
}

func reducePOD[T podNumeric](participants []Participant, bufferIdx int) error {
	sources, destinations, numElements, err := gatherSlices[T](participants, bufferIdx)
	if err != nil {
		return err
	}
	reduction := participants[0].Reduction
	forEachChunk(numElements, func(lo, hi int) {
		reduceChunk(reduction, sources, destinations, lo, hi)
	})
	return nil
}

func reduceFloat16(participants []Participant, bufferIdx int) error {
	sources, destinations, numElements, err := gatherSlices[float16.Float16](participants, bufferIdx)
	if err != nil {
		return err
	}
	reduction := participants[0].Reduction
	forEachChunk(numElements, func(lo, hi int) {
		reduceChunkFloat32(reduction, sources, destinations, lo, hi,
			float16.Float16.Float32, float16.Fromfloat32)
	})
	return nil
}

func reduceBFloat16(participants []Participant, bufferIdx int) error {
	sources, destinations, numElements, err := gatherSlices[bfloat16.BFloat16](participants, bufferIdx)
	if err != nil {
		return err
	}
	reduction := participants[0].Reduction
	forEachChunk(numElements, func(lo, hi int) {
		reduceChunkFloat32(reduction, sources, destinations, lo, hi,
			bfloat16.BFloat16.Float32, bfloat16.FromFloat32)
	})
	return nil
}

// forEachChunk runs fn over disjoint chunks of [0, numElements), in parallel for large
// buffers.
func forEachChunk(numElements int, fn func(lo, hi int)) {
	if numElements <= reduceChunkSize {
		fn(0, numElements)
		return
	}
	var group errgroup.Group
	group.SetLimit(runtime.GOMAXPROCS(0))
	for lo := 0; lo < numElements; lo += reduceChunkSize {
		hi := min(lo+reduceChunkSize, numElements)
		group.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = group.Wait()
}

// reduceChunk reduces sources[*][lo:hi] elementwise into destinations[0][lo:hi] and
// copies the result to the remaining destinations. Each element is read before its
// position in destinations[0] is written, and chunks are disjoint, so destinations may
// alias their participant's own source.
func reduceChunk[T podNumeric](reduction collectives.ReduceOpType, sources, destinations [][]T, lo, hi int) {
	out := destinations[0]
	switch reduction {
	case collectives.ReduceOpSum:
		for i := lo; i < hi; i++ {
			acc := sources[0][i]
			for s := 1; s < len(sources); s++ {
				acc += sources[s][i]
			}
			out[i] = acc
		}
	case collectives.ReduceOpProduct:
		for i := lo; i < hi; i++ {
			acc := sources[0][i]
			for s := 1; s < len(sources); s++ {
				acc *= sources[s][i]
			}
			out[i] = acc
		}
	case collectives.ReduceOpMax:
		for i := lo; i < hi; i++ {
			acc := sources[0][i]
			for s := 1; s < len(sources); s++ {
				acc = max(acc, sources[s][i])
			}
			out[i] = acc
		}
	case collectives.ReduceOpMin:
		for i := lo; i < hi; i++ {
			acc := sources[0][i]
			for s := 1; s < len(sources); s++ {
				acc = min(acc, sources[s][i])
			}
			out[i] = acc
		}
	default:
		exceptions.Panicf("unsupported all-reduce reduction %s", reduction)
	}
	for d := 1; d < len(destinations); d++ {
		copy(destinations[d][lo:hi], out[lo:hi])
	}
}

// reduceChunkFloat32 is reduceChunk for the half-precision dtypes, accumulating in
// float32.
func reduceChunkFloat32[T any](reduction collectives.ReduceOpType, sources, destinations [][]T, lo, hi int,
	toFloat32 func(T) float32, fromFloat32 func(float32) T) {
	out := destinations[0]
	switch reduction {
	case collectives.ReduceOpSum:
		for i := lo; i < hi; i++ {
			acc := toFloat32(sources[0][i])
			for s := 1; s < len(sources); s++ {
				acc += toFloat32(sources[s][i])
			}
			out[i] = fromFloat32(acc)
		}
	case collectives.ReduceOpProduct:
		for i := lo; i < hi; i++ {
			acc := toFloat32(sources[0][i])
			for s := 1; s < len(sources); s++ {
				acc *= toFloat32(sources[s][i])
			}
			out[i] = fromFloat32(acc)
		}
	case collectives.ReduceOpMax:
		for i := lo; i < hi; i++ {
			acc := toFloat32(sources[0][i])
			for s := 1; s < len(sources); s++ {
				acc = max(acc, toFloat32(sources[s][i]))
			}
			out[i] = fromFloat32(acc)
		}
	case collectives.ReduceOpMin:
		for i := lo; i < hi; i++ {
			acc := toFloat32(sources[0][i])
			for s := 1; s < len(sources); s++ {
				acc = min(acc, toFloat32(sources[s][i]))
			}
			out[i] = fromFloat32(acc)
		}
	default:
		exceptions.Panicf("unsupported all-reduce reduction %s", reduction)
	}
	for d := 1; d < len(destinations); d++ {
		copy(destinations[d][lo:hi], out[lo:hi])
	}
}
