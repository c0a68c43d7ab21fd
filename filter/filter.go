// Package filter implements the per-block Bloom filter that lets a
// table reader skip a data block without any I/O when a lookup key
// cannot possibly be present in it.
//
// Grounded on LevelDB's table/filter_block.{h,cc}
// (_examples/original_source/table/filter_block.h) for the builder's
// batching-by-block-offset scheme and the reader's offset-array lookup;
// the double-hash bit-setting scheme is adapted from nexusbase's
// sstable/bloomfilter.go (FNV-1a split into two 32-bit hashes) rather
// than LevelDB's bespoke bloom_hash, since the teacher already supplies
// a working, tested double-hash Bloom filter in that idiom.
package filter

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
)

// baseLg controls how many bytes of data each filter covers: 1<<baseLg,
// i.e. 2 KiB, mirroring LevelDB's kFilterBaseLg.
const baseLg = 11

// DefaultBitsPerKey controls the false-positive rate of each generated filter;
// 10 bits/key yields roughly a 1% false positive rate, matching
// LevelDB's NewBloomFilterPolicy(10) default.
const DefaultBitsPerKey = 10

// Policy builds and probes Bloom filters over a fixed set of keys.
type Policy struct {
	bitsPerKey int
	numHashes  int
}

// NewPolicy returns a Bloom filter policy targeting bitsPerKey bits of
// filter data per key added.
func NewPolicy(bitsPerKey int) *Policy {
	if bitsPerKey < 1 {
		bitsPerKey = DefaultBitsPerKey
	}
	k := int(float64(bitsPerKey) * 0.69) // ln(2)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return &Policy{bitsPerKey: bitsPerKey, numHashes: k}
}

func fnvHash(data []byte) (uint32, uint32) {
	h := fnv.New64a()
	h.Write(data)
	sum := h.Sum64()
	return uint32(sum), uint32(sum >> 32)
}

// CreateFilter builds one filter's bitmap covering every key in keys.
// The last byte of the returned slice stores the number of hash
// functions used, so a reader created from a different Policy value
// can still probe it correctly (mirrors LevelDB's BloomFilterPolicy::
// CreateFilter trailer byte).
func (p *Policy) CreateFilter(keys [][]byte) []byte {
	numBits := len(keys) * p.bitsPerKey
	if numBits < 64 {
		numBits = 64
	}
	numBytes := (numBits + 7) / 8
	numBits = numBytes * 8

	buf := make([]byte, numBytes+1)
	for _, key := range keys {
		h1, h2 := fnvHash(key)
		for i := 0; i < p.numHashes; i++ {
			bitPos := (uint64(h1) + uint64(i)*uint64(h2)) % uint64(numBits)
			buf[bitPos/8] |= 1 << (bitPos % 8)
		}
	}
	buf[numBytes] = byte(p.numHashes)
	return buf
}

// KeyMayMatch reports whether key might be a member of the set the
// filter was built from. False negatives never occur; false positives
// are bounded by the policy's bitsPerKey.
func KeyMayMatch(key, filter []byte) bool {
	if len(filter) < 1 {
		return false
	}
	numHashes := int(filter[len(filter)-1])
	if numHashes > 30 {
		// Trailer byte from a format this reader doesn't recognize;
		// LevelDB treats this as "consider it a match" so a
		// misinterpreted filter never causes a false negative.
		return true
	}
	bits := filter[:len(filter)-1]
	numBits := uint64(len(bits) * 8)
	if numBits == 0 {
		return false
	}

	h1, h2 := fnvHash(key)
	for i := 0; i < numHashes; i++ {
		bitPos := (uint64(h1) + uint64(i)*uint64(h2)) % numBits
		if bits[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
	}
	return true
}

// Builder accumulates keys per data block and, at Finish, emits one
// filter per 2 KiB of data-block bytes written so far, exactly as
// FilterBlockBuilder groups keys by block offset in filter_block.cc.
type Builder struct {
	policy *Policy

	keys        [][]byte // keys added for the block currently being built
	filters     [][]byte // one entry per completed filter
	filterIndex []uint32 // filterIndex[i] = byte offset of filters[i]'s worth of accumulated data in the result buffer, tracked incrementally
	result      []byte
}

// NewBuilder returns a Builder using policy (nil selects DefaultBitsPerKey).
func NewBuilder(policy *Policy) *Builder {
	if policy == nil {
		policy = NewPolicy(DefaultBitsPerKey)
	}
	return &Builder{policy: policy}
}

// StartBlock must be called before adding the first key of a new data
// block, with blockOffset the byte offset that block starts at in the
// table file. It generates filters for any 2 KiB boundaries crossed
// since the last call.
func (b *Builder) StartBlock(blockOffset uint64) {
	filterIndex := blockOffset / (1 << baseLg)
	for uint64(len(b.filterIndex)) < filterIndex {
		b.generateFilter()
	}
}

// AddKey registers key as a member of the data block currently being
// built.
func (b *Builder) AddKey(key []byte) {
	b.keys = append(b.keys, append([]byte(nil), key...))
}

func (b *Builder) generateFilter() {
	if len(b.keys) == 0 {
		b.filterIndex = append(b.filterIndex, uint32(len(b.result)))
		return
	}
	filter := b.policy.CreateFilter(b.keys)
	b.filterIndex = append(b.filterIndex, uint32(len(b.result)))
	b.result = append(b.result, filter...)
	b.keys = b.keys[:0]
}

// Finish flushes any pending filter and returns the encoded filter
// block: the concatenated filters, followed by an array of 4-byte
// offsets into that data (one per filter), followed by the offset of
// the offset-array itself (which also marks the end of the last
// filter), followed by the 1-byte baseLg.
func (b *Builder) Finish() []byte {
	if len(b.keys) > 0 {
		b.generateFilter()
	}
	arrayOffset := uint32(len(b.result))
	for _, off := range b.filterIndex {
		b.result = binary.LittleEndian.AppendUint32(b.result, off)
	}
	b.result = binary.LittleEndian.AppendUint32(b.result, arrayOffset)
	b.result = append(b.result, byte(baseLg))
	return b.result
}

// Reader answers KeyMayMatch queries against an encoded filter block
// produced by Builder, given the byte offset of the data block being
// probed.
type Reader struct {
	data        []byte
	offsetsBase int
	numFilters  int
	baseLg      byte
}

// NewReader parses an encoded filter block.
func NewReader(contents []byte) (*Reader, error) {
	if len(contents) < 5 {
		return nil, fmt.Errorf("filter: block too short (%d bytes)", len(contents))
	}
	n := len(contents)
	baseLgByte := contents[n-1]
	arrayOffset := binary.LittleEndian.Uint32(contents[n-5 : n-1])
	if int(arrayOffset) > n-5 {
		return nil, fmt.Errorf("filter: corrupt offset array offset")
	}
	numFilters := (n - 5 - int(arrayOffset)) / 4
	return &Reader{
		data:        contents,
		offsetsBase: int(arrayOffset),
		numFilters:  numFilters,
		baseLg:      baseLgByte,
	}, nil
}

// MayContain reports whether key may be present in the data block that
// starts at blockOffset within the table file.
func (r *Reader) MayContain(blockOffset uint64, key []byte) bool {
	index := int(blockOffset >> r.baseLg)
	if index >= r.numFilters {
		return true // out of range: fail open, exactly as LevelDB does
	}
	start := readOffset(r.data, r.offsetsBase+index*4)
	limit := readOffset(r.data, r.offsetsBase+(index+1)*4)
	if start > limit || int(limit) > r.offsetsBase {
		return true
	}
	return KeyMayMatch(key, r.data[start:limit])
}

func readOffset(data []byte, at int) uint32 {
	return binary.LittleEndian.Uint32(data[at : at+4])
}

// EstimateBitsPerKey derives a Policy's bitsPerKey from a target
// false-positive rate, following the same m/n formula
// sstable.NewBloomFilter used, so callers can keep configuring the
// writer by false-positive rate instead of by raw bits-per-key.
func EstimateBitsPerKey(falsePositiveRate float64) int {
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	bits := math.Abs(math.Log(falsePositiveRate)) / (math.Log(2) * math.Log(2))
	if bits < 1 {
		bits = 1
	}
	return int(math.Ceil(bits))
}
