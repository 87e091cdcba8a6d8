package breakpad

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressIndexPredecessor(t *testing.T) {
	var ix AddressIndex[string]
	ix.Insert(0x30, "c")
	ix.Insert(0x10, "a")
	ix.Insert(0x20, "b")
	ix.Sort()

	tests := []struct {
		name  string
		query uint64
		want  string
		found bool
	}{
		{"below all entries", 0x0f, "", false},
		{"exact first", 0x10, "a", true},
		{"between entries", 0x1f, "a", true},
		{"exact middle", 0x20, "b", true},
		{"above all entries", 0x1000, "c", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ix.Predecessor(tt.query)
			require.Equal(t, tt.found, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAddressIndexEmpty(t *testing.T) {
	var ix AddressIndex[int]
	ix.Sort()
	_, ok := ix.Predecessor(42)
	require.False(t, ok)
}

func TestAddressIndexDuplicateAddresses(t *testing.T) {
	var ix AddressIndex[string]
	ix.Insert(0x100, "first")
	ix.Insert(0x100, "second")
	ix.Sort()

	got, ok := ix.Predecessor(0x100)
	require.True(t, ok)
	// Tie order between records at the same address is unspecified; any of
	// the tied records is a correct answer.
	require.Contains(t, []string{"first", "second"}, got)
}

// Compares Predecessor against a linear-scan reference over random input.
func TestAddressIndexAgainstLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	addrs := make([]uint64, 1000)
	var ix AddressIndex[uint64]
	for i := range addrs {
		addrs[i] = uint64(rng.Intn(1 << 20))
		ix.Insert(addrs[i], addrs[i])
	}
	ix.Sort()

	reference := func(q uint64) (uint64, bool) {
		var best uint64
		found := false
		for _, a := range addrs {
			if a <= q && (!found || a > best) {
				best = a
				found = true
			}
		}
		return best, found
	}

	for i := 0; i < 5000; i++ {
		q := uint64(rng.Intn(1 << 21))
		want, wantOK := reference(q)
		got, ok := ix.Predecessor(q)
		require.Equal(t, wantOK, ok, "query 0x%x", q)
		if ok {
			require.Equal(t, want, got, "query 0x%x", q)
		}
	}
}
