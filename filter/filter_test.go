package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyNoFalseNegatives(t *testing.T) {
	p := NewPolicy(10)
	var keys [][]byte
	for i := 0; i < 1000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key-%d", i)))
	}
	f := p.CreateFilter(keys)
	for _, k := range keys {
		require.True(t, KeyMayMatch(k, f))
	}
}

func TestPolicyFalsePositiveRateIsBounded(t *testing.T) {
	p := NewPolicy(10)
	var keys [][]byte
	for i := 0; i < 1000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key-%d", i)))
	}
	f := p.CreateFilter(keys)

	falsePositives := 0
	for i := 0; i < 10000; i++ {
		absent := []byte(fmt.Sprintf("absent-%d", i))
		if KeyMayMatch(absent, f) {
			falsePositives++
		}
	}
	require.Less(t, falsePositives, 500) // well under 5%, generous margin
}

func TestBuilderAndReaderRoundTrip(t *testing.T) {
	b := NewBuilder(NewPolicy(10))

	b.StartBlock(0)
	b.AddKey([]byte("apple"))
	b.AddKey([]byte("banana"))

	b.StartBlock(3000) // crosses the 2KiB boundary, starts filter 1
	b.AddKey([]byte("cherry"))

	block := b.Finish()

	r, err := NewReader(block)
	require.NoError(t, err)

	require.True(t, r.MayContain(0, []byte("apple")))
	require.True(t, r.MayContain(0, []byte("banana")))
	require.True(t, r.MayContain(3000, []byte("cherry")))
	// Out-of-range block offsets fail open rather than panicking.
	require.True(t, r.MayContain(1<<20, []byte("whatever")))
}

func TestEstimateBitsPerKey(t *testing.T) {
	require.Greater(t, EstimateBitsPerKey(0.01), 0)
	require.Greater(t, EstimateBitsPerKey(0.001), EstimateBitsPerKey(0.1))
}
