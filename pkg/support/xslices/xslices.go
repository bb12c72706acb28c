/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package xslices provide missing functionality to the slices package, mostly
// re-indexing of parallel per-row arrays.
package xslices

import (
	"cmp"
	"slices"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// At takes an element at the given `index`, where `index` can be negative, in which case it takes from the end
// of the slice.
func At[T any](slice []T, index int) T {
	if index < 0 {
		index = len(slice) + index
	}
	return slice[index]
}

// Last returns the last element of a slice.
func Last[T any](slice []T) T {
	return At(slice, -1)
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Iota returns a slice of incremental int values, starting with start and of length len.
// Eg: Iota(3, 2) -> []int{3, 4}
func Iota[T constraints.Integer](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Gather returns a new slice with rows[indices[0]], rows[indices[1]], ...
//
// Indices may repeat (one row copied to several new rows) or skip rows. The rows themselves
// are not deep-copied: see GatherFunc for that.
//
// The result has the same slice type as rows. It panics (with exceptions.Panicf) if an index
// is out-of-bounds.
func Gather[S ~[]E, E any](rows S, indices []int) S {
	return GatherFunc(rows, indices, func(row E) E { return row })
}

// GatherFunc is like Gather, but each selected row is passed through cloneFn, so repeated
// indices don't share the underlying storage.
func GatherFunc[S ~[]E, E any](rows S, indices []int, cloneFn func(row E) E) S {
	gathered := make(S, len(indices))
	for ii, idx := range indices {
		if idx < 0 || idx >= len(rows) {
			exceptions.Panicf("xslices.Gather: index %d (position %d) out-of-bounds for %d rows", idx, ii, len(rows))
		}
		gathered[ii] = cloneFn(rows[idx])
	}
	return gathered
}

// ArgsortStable returns the permutation that sorts values in ascending order.
// Equal values keep their original relative order.
func ArgsortStable[T cmp.Ordered](values []T) []int {
	perm := Iota(0, len(values))
	slices.SortStableFunc(perm, func(a, b int) int {
		return cmp.Compare(values[a], values[b])
	})
	return perm
}

// Permute is an alias to Gather, used when indices is a permutation.
// It panics if len(indices) != len(rows).
func Permute[S ~[]E, E any](rows S, perm []int) S {
	if len(perm) != len(rows) {
		exceptions.Panicf("xslices.Permute: permutation of length %d given for %d rows", len(perm), len(rows))
	}
	return Gather(rows, perm)
}

// CloneMatrix returns a deep copy of a 2D slice.
func CloneMatrix[T any](m [][]T) [][]T {
	if m == nil {
		return nil
	}
	clone := make([][]T, len(m))
	for ii, row := range m {
		clone[ii] = slices.Clone(row)
	}
	return clone
}

// Fill returns a slice of length n filled with value.
func Fill[T any](n int, value T) []T {
	slice := make([]T, n)
	for ii := range slice {
		slice[ii] = value
	}
	return slice
}
