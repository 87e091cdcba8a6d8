package breakpad

import "sort"

// AddressIndex is an ordered container keyed by address. Records are
// accumulated with Insert in any order, sorted once with Sort, and then
// served with Predecessor. The build-then-query lifecycle of a symbol file
// makes a sorted slice cheaper than a tree for the 10^4-10^6 entries a large
// module carries, while keeping lookups O(log n).
type AddressIndex[T any] struct {
	entries []indexEntry[T]
	sorted  bool
}

type indexEntry[T any] struct {
	addr   uint64
	record T
}

// Insert appends a record. The index must be re-sorted before queries.
func (ix *AddressIndex[T]) Insert(addr uint64, record T) {
	ix.entries = append(ix.entries, indexEntry[T]{addr: addr, record: record})
	ix.sorted = false
}

// Sort orders entries by ascending address. Duplicate addresses are
// permitted; their relative order is unspecified.
func (ix *AddressIndex[T]) Sort() {
	if ix.sorted {
		return
	}
	sort.Slice(ix.entries, func(i, j int) bool {
		return ix.entries[i].addr < ix.entries[j].addr
	})
	ix.sorted = true
}

// Predecessor returns the record with the greatest address <= addr, or
// false if addr is below every stored address. The index must be sorted.
func (ix *AddressIndex[T]) Predecessor(addr uint64) (T, bool) {
	if !ix.sorted {
		ix.Sort()
	}
	i := sort.Search(len(ix.entries), func(i int) bool {
		return ix.entries[i].addr > addr
	})
	if i == 0 {
		var zero T
		return zero, false
	}
	return ix.entries[i-1].record, true
}

// Len reports the number of stored records.
func (ix *AddressIndex[T]) Len() int {
	return len(ix.entries)
}
