// Package internalkey implements the codec for internal keys: the
// user_key ‖ pack64(seq<<8|type) trailer every stored entry carries so a
// single ordered index can hold multiple versions of the same user key
// and still sort newest-first for a given key.
//
// Grounded on LevelDB's db/dbformat.{h,cc} (trailer packing) and
// db/memtable.cc's KeyComparator (length-prefixed decode then delegate
// to the user comparator) — see _examples/original_source/db/memtable.cc.
package internalkey

import (
	"encoding/binary"
	"fmt"

	"github.com/nexusdb/lsmkv/comparator"
	"github.com/nexusdb/lsmkv/kvcore"
)

// TrailerSize is the width of the packed sequence/type suffix appended
// to every user key to form an internal key.
const TrailerSize = kvcore.SeqNumSize

// PackTrailer combines a sequence number and value type into the 64-bit
// trailer stored after the user key.
func PackTrailer(seq uint64, vt kvcore.ValueType) uint64 {
	return (seq << 8) | uint64(vt)
}

// UnpackTrailer splits a packed trailer back into sequence number and type.
func UnpackTrailer(trailer uint64) (seq uint64, vt kvcore.ValueType) {
	return trailer >> 8, kvcore.ValueType(trailer & 0xff)
}

// Append encodes an internal key (user_key ‖ trailer) onto dst and
// returns the extended slice.
func Append(dst, userKey []byte, seq uint64, vt kvcore.ValueType) []byte {
	dst = append(dst, userKey...)
	var trailer [TrailerSize]byte
	binary.LittleEndian.PutUint64(trailer[:], PackTrailer(seq, vt))
	return append(dst, trailer[:]...)
}

// Make is a convenience wrapper around Append that allocates a fresh slice.
func Make(userKey []byte, seq uint64, vt kvcore.ValueType) []byte {
	return Append(make([]byte, 0, len(userKey)+TrailerSize), userKey, seq, vt)
}

// Parse splits an internal key into its user-key prefix and trailer
// fields. ok is false if ikey is too short to contain a trailer.
func Parse(ikey []byte) (userKey []byte, seq uint64, vt kvcore.ValueType, ok bool) {
	if len(ikey) < TrailerSize {
		return nil, 0, 0, false
	}
	n := len(ikey) - TrailerSize
	trailer := binary.LittleEndian.Uint64(ikey[n:])
	seq, vt = UnpackTrailer(trailer)
	return ikey[:n], seq, vt, true
}

// UserKey returns just the user-key prefix of an internal key.
func UserKey(ikey []byte) []byte {
	if len(ikey) < TrailerSize {
		return nil
	}
	return ikey[:len(ikey)-TrailerSize]
}

// Compare orders internal keys ascending by user key (via cmp), then
// descending by sequence number, then descending by type — so among
// equal user keys the newest version sorts first. This is the ordering
// the mutable table's skip list and the merge iterator both rely on.
func Compare(cmp comparator.Comparator, a, b []byte) int {
	au, aseq, atype, aok := Parse(a)
	bu, bseq, btype, bok := Parse(b)
	if !aok || !bok {
		// Malformed internal keys fall back to raw byte order; callers
		// should never feed these in, but panicking here would turn a
		// corrupt file into a crash instead of a readable error.
		return cmp.Compare(a, b)
	}
	if r := cmp.Compare(au, bu); r != 0 {
		return r
	}
	if aseq != bseq {
		if aseq > bseq {
			return -1
		}
		return 1
	}
	if atype != btype {
		if atype > btype {
			return -1
		}
		return 1
	}
	return 0
}

// Compare using the bytewise comparator, the only comparator this
// engine wires in (see package comparator).
func CompareBytewise(a, b []byte) int {
	return Compare(comparator.Bytewise, a, b)
}

func (ikeyErr) Error() string { return "internalkey: malformed internal key" }

type ikeyErr struct{}

// ErrMalformed is returned by operations that must parse an internal
// key and find it shorter than TrailerSize.
var ErrMalformed error = ikeyErr{}

// Validate returns ErrMalformed if ikey cannot hold a trailer.
func Validate(ikey []byte) error {
	if len(ikey) < TrailerSize {
		return fmt.Errorf("internalkey: key of length %d shorter than trailer size %d: %w", len(ikey), TrailerSize, ErrMalformed)
	}
	return nil
}

// FindShortestSeparator returns an internal key that is >= last and < next
// (or, if next is empty, just >= last), suitable as an index block's
// separator entry for the data block that ended at last. Only the
// user-key portion is ever shortened. When the shortened user key is
// strictly greater than last's user key, it gets the MaxSeq/TypeForSeek
// trailer; otherwise last is returned verbatim (trailer included).
// Mirrors InternalKeyComparator::
// FindShortestSeparator in db/dbformat.cc.
func FindShortestSeparator(cmp comparator.Comparator, last, next []byte) []byte {
	lastUser, _, _, ok := Parse(last)
	if !ok {
		return append([]byte(nil), last...)
	}
	if len(next) == 0 {
		return append([]byte(nil), last...)
	}
	nextUser := UserKey(next)
	shortened := cmp.FindShortestSeparator(append([]byte(nil), lastUser...), nextUser)
	if len(shortened) < len(lastUser) && cmp.Compare(lastUser, shortened) < 0 {
		// The shortened user key differs from lastUser, so any trailer
		// orders correctly; MaxSeq with TypeForSeek is LevelDB's
		// convention (kMaxSequenceNumber, kValueTypeForSeek).
		return Make(shortened, MaxSeq, kvcore.TypeForSeek)
	}
	return append([]byte(nil), last...)
}

// MaxSeq is the largest value a packed sequence number's 56 bits can
// hold. Used both as a placeholder trailer for separator keys whose
// ordering is already decided by a differing user key, and as the seek
// sequence for lookups that want the newest version of a key regardless
// of snapshot.
const MaxSeq = (uint64(1) << 56) - 1

// FindShortSuccessor returns an internal key that is >= ikey, generally
// shorter, for use as the separator after the very last block (which
// has no "next" key to bound it). Mirrors InternalKeyComparator::
// FindShortSuccessor.
func FindShortSuccessor(cmp comparator.Comparator, ikey []byte) []byte {
	user, _, _, ok := Parse(ikey)
	if !ok {
		return append([]byte(nil), ikey...)
	}
	shortened := cmp.FindShortSuccessor(append([]byte(nil), user...))
	if len(shortened) < len(user) && cmp.Compare(user, shortened) < 0 {
		return Make(shortened, MaxSeq, kvcore.TypeForSeek)
	}
	return append([]byte(nil), ikey...)
}
