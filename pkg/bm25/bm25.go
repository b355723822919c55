// Package bm25 implements an in-memory inverted full-text index scored
// with Okapi BM25. Per-term postings are sorted by document id and
// carry a term frequency; scoring uses the classic k1/b formula over
// the collection's average document length. Deletion tombstones the
// document id rather than rewriting postings; tombstoned hits are
// filtered out at query time.
package bm25

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrCorruptDump is returned by Load when the dump's magic, version, or
// trailing checksum don't match.
var ErrCorruptDump = errors.New("bm25: corrupt dump")

const (
	dumpMagic   uint32 = 0x424d3235 // "BM25"
	dumpVersion uint32 = 1
)

// Params controls the BM25 scoring curve.
type Params struct {
	K1 float64
	B  float64
}

// DefaultParams matches the spec's defaults.
var DefaultParams = Params{K1: 1.2, B: 0.75}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize lowercases and splits on non-alphanumeric runs. It is the
// same tokenizer used for indexing and querying so the two sides agree
// on vocabulary.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

type posting struct {
	docID int64
	tf    uint32
}

// Index is a per-collection inverted index over one or more text
// fields. It is safe for concurrent readers and writers.
type Index struct {
	mu sync.RWMutex

	params Params

	postings map[string][]posting // term -> postings sorted by docID
	docLen   map[int64]int        // docID -> token count
	deleted  map[int64]struct{}
	totalLen int64
	docCount int64
}

// New returns an empty index with the given scoring parameters.
func New(params Params) *Index {
	return &Index{
		params:   params,
		postings: make(map[string][]posting),
		docLen:   make(map[int64]int),
		deleted:  make(map[int64]struct{}),
	}
}

// Index tokenizes text and adds (or replaces, if docID already exists)
// the document's postings.
func (ix *Index) Index(docID int64, text string) {
	terms := Tokenize(text)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if oldLen, ok := ix.docLen[docID]; ok {
		ix.removeLocked(docID)
		_ = oldLen
	}

	counts := make(map[string]uint32, len(terms))
	for _, term := range terms {
		counts[term]++
	}
	for term, tf := range counts {
		list := ix.postings[term]
		i := sort.Search(len(list), func(i int) bool { return list[i].docID >= docID })
		list = append(list, posting{})
		copy(list[i+1:], list[i:])
		list[i] = posting{docID: docID, tf: tf}
		ix.postings[term] = list
	}

	delete(ix.deleted, docID)
	ix.docLen[docID] = len(terms)
	ix.totalLen += int64(len(terms))
	ix.docCount++
}

// Delete tombstones docID. Its postings remain in place until Compact
// runs; query-time scoring skips tombstoned ids.
func (ix *Index) Delete(docID int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.docLen[docID]; !ok {
		return
	}
	ix.deleted[docID] = struct{}{}
}

// removeLocked physically strips docID's postings; callers hold mu.
func (ix *Index) removeLocked(docID int64) {
	for term, list := range ix.postings {
		i := sort.Search(len(list), func(i int) bool { return list[i].docID >= docID })
		if i < len(list) && list[i].docID == docID {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(ix.postings, term)
			} else {
				ix.postings[term] = list
			}
		}
	}
	ix.totalLen -= int64(ix.docLen[docID])
	ix.docCount--
	delete(ix.docLen, docID)
	delete(ix.deleted, docID)
}

// Hit is one scored query result.
type Hit struct {
	DocID int64
	Score float64
}

// Search scores query against the index and returns the top-k hits in
// descending score order, excluding deleted documents.
func (ix *Index) Search(query string, k int) []Hit {
	if k <= 0 {
		return nil
	}
	terms := Tokenize(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.docCount == 0 {
		return nil
	}
	avgDocLen := float64(ix.totalLen) / float64(ix.docCount)

	scores := make(map[int64]float64)
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		list := ix.postings[term]
		if len(list) == 0 {
			continue
		}
		n := 0
		for _, p := range list {
			if _, gone := ix.deleted[p.docID]; !gone {
				n++
			}
		}
		if n == 0 {
			continue
		}
		idf := math.Log(1 + (float64(ix.docCount)-float64(n)+0.5)/(float64(n)+0.5))

		for _, p := range list {
			if _, gone := ix.deleted[p.docID]; gone {
				continue
			}
			dl := float64(ix.docLen[p.docID])
			tf := float64(p.tf)
			denom := tf + ix.params.K1*(1-ix.params.B+ix.params.B*dl/avgDocLen)
			scores[p.docID] += idf * (tf * (ix.params.K1 + 1) / denom)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{DocID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Len reports the number of live (non-deleted) documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return int(ix.docCount) - len(ix.deleted)
}

// Compact physically removes tombstoned documents' postings, shrinking
// memory use. It should run periodically, not on every delete.
func (ix *Index) Compact() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for docID := range ix.deleted {
		ix.removeLocked(docID)
	}
}

// Dump serializes the index to w: magic, version, params, per-document
// lengths, per-term postings, and a trailing CRC32 over the body.
func (ix *Index) Dump(w io.Writer) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w, crc)
	bw := bufio.NewWriter(mw)

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], dumpMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], dumpVersion)
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, ix.params.K1); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, ix.params.B); err != nil {
		return err
	}

	if err := writeUvarint(bw, uint64(len(ix.docLen))); err != nil {
		return err
	}
	for docID, length := range ix.docLen {
		if err := writeVarint(bw, docID); err != nil {
			return err
		}
		if err := writeUvarint(bw, uint64(length)); err != nil {
			return err
		}
		tomb := byte(0)
		if _, gone := ix.deleted[docID]; gone {
			tomb = 1
		}
		if err := bw.WriteByte(tomb); err != nil {
			return err
		}
	}

	if err := writeUvarint(bw, uint64(len(ix.postings))); err != nil {
		return err
	}
	for term, list := range ix.postings {
		if err := writeUvarint(bw, uint64(len(term))); err != nil {
			return err
		}
		if _, err := bw.WriteString(term); err != nil {
			return err
		}
		if err := writeUvarint(bw, uint64(len(list))); err != nil {
			return err
		}
		for _, p := range list {
			if err := writeVarint(bw, p.docID); err != nil {
				return err
			}
			if err := writeUvarint(bw, uint64(p.tf)); err != nil {
				return err
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], crc.Sum32())
	_, err := w.Write(sum[:])
	return err
}

// Load rebuilds an index from a reader previously produced by Dump.
func Load(r io.Reader, params Params) (*Index, error) {
	crc := crc32.NewIEEE()
	br := bufio.NewReader(r)
	tbr := &teeByteReader{br: br, crc: crc}

	var hdr [8]byte
	for i := range hdr {
		c, err := tbr.ReadByte()
		if err != nil {
			return nil, ErrCorruptDump
		}
		hdr[i] = c
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != dumpMagic {
		return nil, ErrCorruptDump
	}
	if binary.LittleEndian.Uint32(hdr[4:8]) != dumpVersion {
		return nil, ErrCorruptDump
	}

	var floatBuf [8]byte
	for i := range floatBuf {
		c, err := tbr.ReadByte()
		if err != nil {
			return nil, ErrCorruptDump
		}
		floatBuf[i] = c
	}
	k1 := math.Float64frombits(binary.LittleEndian.Uint64(floatBuf[:]))
	for i := range floatBuf {
		c, err := tbr.ReadByte()
		if err != nil {
			return nil, ErrCorruptDump
		}
		floatBuf[i] = c
	}
	b := math.Float64frombits(binary.LittleEndian.Uint64(floatBuf[:]))

	ix := New(Params{K1: k1, B: b})

	nDocs, err := binary.ReadUvarint(tbr)
	if err != nil {
		return nil, ErrCorruptDump
	}
	for i := uint64(0); i < nDocs; i++ {
		docID, err := binary.ReadVarint(tbr)
		if err != nil {
			return nil, ErrCorruptDump
		}
		length, err := binary.ReadUvarint(tbr)
		if err != nil {
			return nil, ErrCorruptDump
		}
		tomb, err := tbr.ReadByte()
		if err != nil {
			return nil, ErrCorruptDump
		}
		ix.docLen[docID] = int(length)
		ix.totalLen += int64(length)
		ix.docCount++
		if tomb != 0 {
			ix.deleted[docID] = struct{}{}
		}
	}

	nTerms, err := binary.ReadUvarint(tbr)
	if err != nil {
		return nil, ErrCorruptDump
	}
	for i := uint64(0); i < nTerms; i++ {
		termLen, err := binary.ReadUvarint(tbr)
		if err != nil {
			return nil, ErrCorruptDump
		}
		termBuf := make([]byte, termLen)
		for j := range termBuf {
			c, err := tbr.ReadByte()
			if err != nil {
				return nil, ErrCorruptDump
			}
			termBuf[j] = c
		}
		term := string(termBuf)

		nPostings, err := binary.ReadUvarint(tbr)
		if err != nil {
			return nil, ErrCorruptDump
		}
		list := make([]posting, 0, nPostings)
		for j := uint64(0); j < nPostings; j++ {
			docID, err := binary.ReadVarint(tbr)
			if err != nil {
				return nil, ErrCorruptDump
			}
			tf, err := binary.ReadUvarint(tbr)
			if err != nil {
				return nil, ErrCorruptDump
			}
			list = append(list, posting{docID: docID, tf: uint32(tf)})
		}
		ix.postings[term] = list
	}

	computed := crc.Sum32()
	var wantSum [4]byte
	if _, err := io.ReadFull(br, wantSum[:]); err != nil {
		return nil, ErrCorruptDump
	}
	if binary.LittleEndian.Uint32(wantSum[:]) != computed {
		return nil, ErrCorruptDump
	}
	return ix, nil
}

// teeByteReader adapts a *bufio.Reader into an io.ByteReader while
// mirroring every byte read into a running CRC32, the same pattern
// used by the HNSW dump reader.
type teeByteReader struct {
	br  *bufio.Reader
	crc interface {
		Write([]byte) (int, error)
	}
}

func (t *teeByteReader) ReadByte() (byte, error) {
	b, err := t.br.ReadByte()
	if err == nil {
		t.crc.Write([]byte{b})
	}
	return b, err
}

func writeUvarint(w io.ByteWriter, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	for _, b := range buf[:n] {
		if err := w.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}

func writeVarint(w io.ByteWriter, v int64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	for _, b := range buf[:n] {
		if err := w.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}
