// Package compression implements the column/value compression
// primitives grouped under the original engine's compression module:
// dictionary encoding for small repeated values, delta encoding for
// monotonic-ish integer sequences, and run-length encoding for runs of
// identical bytes. The graph operation log uses Dictionary to fold
// repeated node/edge type strings down to a 4-byte code; Delta/RLE are
// standalone primitives for columnar callers (e.g. a future sorted-id
// block codec) and are exercised directly by this package's tests.
package compression

import (
	"encoding/binary"
	"io"
)

// Dictionary maps repeated byte-string values to small integer codes.
type Dictionary struct {
	codes  map[string]uint32
	values [][]byte
}

// NewDictionary returns an empty Dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{codes: make(map[string]uint32)}
}

// Encode returns v's code, assigning the next sequential code the
// first time v is seen.
func (d *Dictionary) Encode(v []byte) uint32 {
	if code, ok := d.codes[string(v)]; ok {
		return code
	}
	code := uint32(len(d.values))
	cp := append([]byte(nil), v...)
	d.values = append(d.values, cp)
	d.codes[string(v)] = code
	return code
}

// Decode returns the value registered under code.
func (d *Dictionary) Decode(code uint32) ([]byte, bool) {
	if int(code) >= len(d.values) {
		return nil, false
	}
	return d.values[code], true
}

// Len returns the number of distinct values registered so far.
func (d *Dictionary) Len() int { return len(d.values) }

// Marshal serialises the dictionary's values in code order, for
// persisting a standalone snapshot alongside data that references it.
func (d *Dictionary) Marshal() []byte {
	buf := make([]byte, 4, 4+len(d.values)*8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(d.values)))
	for _, v := range d.values {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(v)))
		buf = append(buf, l[:]...)
		buf = append(buf, v...)
	}
	return buf
}

// UnmarshalDictionary reconstructs a Dictionary from Marshal's output.
func UnmarshalDictionary(buf []byte) (*Dictionary, error) {
	if len(buf) < 4 {
		return nil, io.ErrUnexpectedEOF
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	d := NewDictionary()
	for i := uint32(0); i < count; i++ {
		if off+4 > len(buf) {
			return nil, io.ErrUnexpectedEOF
		}
		l := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+l > len(buf) {
			return nil, io.ErrUnexpectedEOF
		}
		d.Encode(buf[off : off+l])
		off += l
	}
	return d, nil
}

// DeltaEncode converts a sequence into its successive differences,
// which a following varint pass compresses better than raw values
// when the sequence is roughly monotonic (e.g. sorted ids).
func DeltaEncode(values []int64) []int64 {
	out := make([]int64, len(values))
	var prev int64
	for i, v := range values {
		out[i] = v - prev
		prev = v
	}
	return out
}

// DeltaDecode reverses DeltaEncode.
func DeltaDecode(deltas []int64) []int64 {
	out := make([]int64, len(deltas))
	var acc int64
	for i, d := range deltas {
		acc += d
		out[i] = acc
	}
	return out
}

// RLERun is one run in a run-length-encoded byte sequence.
type RLERun struct {
	Value byte
	Count uint32
}

// RLEEncode compresses consecutive identical bytes into runs.
func RLEEncode(data []byte) []RLERun {
	if len(data) == 0 {
		return nil
	}
	runs := make([]RLERun, 0, 16)
	cur := data[0]
	count := uint32(1)
	for _, b := range data[1:] {
		if b == cur {
			count++
			continue
		}
		runs = append(runs, RLERun{Value: cur, Count: count})
		cur = b
		count = 1
	}
	runs = append(runs, RLERun{Value: cur, Count: count})
	return runs
}

// RLEDecode reverses RLEEncode.
func RLEDecode(runs []RLERun) []byte {
	var n int
	for _, r := range runs {
		n += int(r.Count)
	}
	out := make([]byte, 0, n)
	for _, r := range runs {
		for i := uint32(0); i < r.Count; i++ {
			out = append(out, r.Value)
		}
	}
	return out
}
