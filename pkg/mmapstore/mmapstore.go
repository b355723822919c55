// Package mmapstore implements the memory-mapped vector page file: a
// fixed-stride slot layout addressed through a sharded id->offset
// index, with tombstoning and compaction, backed by
// github.com/blevesearch/mmap-go for the zero-copy mapping.
package mmapstore

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
	"os"
	"sync"

	mmap "github.com/blevesearch/mmap-go"
)

func float32bits(v float32) uint32      { return math.Float32bits(v) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }

// Sentinel errors for the failure modes named in the component design.
var (
	ErrIo               = errors.New("mmapstore: io error")
	ErrChecksumMismatch = errors.New("mmapstore: checksum mismatch")
	ErrRemapFailed      = errors.New("mmapstore: remap failed")
	ErrIDCollision      = errors.New("mmapstore: id collision")
	ErrNotFound         = errors.New("mmapstore: id not found")
	ErrCancelled        = errors.New("mmapstore: operation cancelled")
)

// cancelled reports whether ctx has already expired, without
// blocking; Compact calls this between batches of slots so a deadline
// takes effect promptly on a large store.
func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

const cacheLine = 64
const headerWord = 4 // tombstone/occupancy header
const idSize = 8     // point id, so a slot can self-describe for crash recovery
const crcSize = 4
const numShards = 16

// slotSize returns the cache-line-padded size of one record: header(4)
// + id(8) + D*4 + crc(4), rounded up to a multiple of 64 bytes. The id
// field is not in the spec's literal byte count but is required for
// rebuildIndexFromFile to recover the id->offset map from vectors.dat
// alone after a crash, without relying on the .idx sidecar having been
// flushed; see DESIGN.md for the rationale.
func slotSize(dim int) int64 {
	raw := headerWord + idSize + dim*4 + crcSize
	return alignUp(int64(raw), cacheLine)
}

func alignUp(n, align int64) int64 {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

const (
	slotLive      uint32 = 0
	slotTombstone uint32 = 1
)

// shard is one independently-locked partition of the id->offset index.
type shard struct {
	mu     sync.RWMutex
	byID   map[int64]int64 // id -> offset
	free   []int64         // tombstoned offsets available for reuse
}

// Store is the memory-mapped vector page file for one collection.
type Store struct {
	dim      int
	slotSz   int64
	path     string
	file     *os.File
	mapping  mmap.MMap
	mapMu    sync.RWMutex // guards remap swaps; data access takes RLock
	shards   [numShards]*shard
	fileSize int64
	sizeMu   sync.Mutex
}

// Open opens or creates the page file at path for vectors of the given
// dimensionality.
func Open(path string, dim int) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, ErrIo
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ErrIo
	}

	s := &Store{
		dim:      dim,
		slotSz:   slotSize(dim),
		path:     path,
		file:     f,
		fileSize: info.Size(),
	}
	for i := range s.shards {
		s.shards[i] = &shard{byID: make(map[int64]int64)}
	}

	if s.fileSize > 0 {
		if err := s.remapLocked(); err != nil {
			f.Close()
			return nil, err
		}
		if err := s.rebuildIndexFromFile(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) shardFor(id int64) *shard {
	idx := uint64(id) % numShards
	return s.shards[idx]
}

// remapLocked must be called with sizeMu held; it (re)establishes the
// mmap mapping to cover the current file size.
func (s *Store) remapLocked() error {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	if s.mapping != nil {
		_ = s.mapping.Unmap()
		s.mapping = nil
	}
	if s.fileSize == 0 {
		return nil
	}
	m, err := mmap.Map(s.file, mmap.RDWR, 0)
	if err != nil {
		return ErrRemapFailed
	}
	s.mapping = m
	return nil
}

// rebuildIndexFromFile scans every slot on open and repopulates the
// sharded id->offset index and free lists from tombstone state. A slot
// whose CRC does not verify is a torn tail write from a crash mid-Store;
// scanning stops there and the file is truncated to the last verified
// slot boundary, matching the log-store's "truncate at first bad CRC"
// recovery contract.
func (s *Store) rebuildIndexFromFile() error {
	s.mapMu.RLock()
	n := int64(len(s.mapping)) / s.slotSz
	validSlots := n
	for i := int64(0); i < n; i++ {
		off := i * s.slotSz
		header := binary.LittleEndian.Uint32(s.mapping[off : off+4])
		if header == slotTombstone {
			tid, _ := s.readID(off)
			tsh := s.shardFor(tid)
			tsh.mu.Lock()
			tsh.free = append(tsh.free, off)
			tsh.mu.Unlock()
			continue
		}
		want := binary.LittleEndian.Uint32(s.mapping[s.crcOffset(off) : s.crcOffset(off)+4])
		got := s.computeCRC(off)
		if want != got {
			validSlots = i
			break
		}
		id, _ := s.readID(off)
		sh := s.shardFor(id)
		sh.mu.Lock()
		sh.byID[id] = off
		sh.mu.Unlock()
	}
	s.mapMu.RUnlock()

	if validSlots < n {
		return s.truncateTo(validSlots * s.slotSz)
	}
	return nil
}

// truncateTo shrinks the backing file to newSize and remaps, dropping
// any torn tail slots found during recovery.
func (s *Store) truncateTo(newSize int64) error {
	s.sizeMu.Lock()
	defer s.sizeMu.Unlock()
	if err := s.file.Truncate(newSize); err != nil {
		return ErrIo
	}
	s.fileSize = newSize
	return s.remapLocked()
}

// readID recovers the point id stored in a slot's id field.
func (s *Store) readID(off int64) (int64, bool) {
	idOff := off + headerWord
	id := int64(binary.LittleEndian.Uint64(s.mapping[idOff : idOff+idSize]))
	return id, true
}

func (s *Store) idOffset(off int64) int64     { return off + headerWord }
func (s *Store) vectorOffset(off int64) int64 { return off + headerWord + idSize }
func (s *Store) crcOffset(off int64) int64    { return off + int64(headerWord+idSize+s.dim*4) }

func (s *Store) computeCRC(off int64) uint32 {
	return crc32.ChecksumIEEE(s.mapping[off : off+int64(headerWord+idSize+s.dim*4)])
}

// Store writes a vector for id, reusing a tombstoned slot from the
// free-list if available, else extending the file. No fsync happens
// per call; durability is a Flush() operation.
func (s *Store) Store(id int64, vec []float32) error {
	if len(vec) != s.dim {
		return ErrIo
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	off, existing := sh.byID[id]
	if !existing {
		if len(sh.free) > 0 {
			off = sh.free[len(sh.free)-1]
			sh.free = sh.free[:len(sh.free)-1]
		} else {
			var err error
			off, err = s.extend()
			if err != nil {
				return err
			}
		}
	}

	s.mapMu.RLock()
	defer s.mapMu.RUnlock()
	binary.LittleEndian.PutUint32(s.mapping[off:off+4], slotLive)
	idOff := s.idOffset(off)
	binary.LittleEndian.PutUint64(s.mapping[idOff:idOff+idSize], uint64(id))
	vOff := s.vectorOffset(off)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(s.mapping[vOff+int64(i*4):vOff+int64(i*4)+4], float32bits(v))
	}
	crc := s.computeCRC(off)
	cOff := s.crcOffset(off)
	binary.LittleEndian.PutUint32(s.mapping[cOff:cOff+4], crc)

	sh.byID[id] = off
	return nil
}

// extend grows the backing file by one slot and remaps. Must be called
// without any shard lock held except the caller's own (distinct
// shards may extend concurrently; sizeMu serialises file growth).
func (s *Store) extend() (int64, error) {
	s.sizeMu.Lock()
	defer s.sizeMu.Unlock()

	off := s.fileSize
	newSize := off + s.slotSz
	if err := s.file.Truncate(newSize); err != nil {
		return 0, ErrIo
	}
	s.fileSize = newSize
	if err := s.remapLocked(); err != nil {
		return 0, err
	}
	return off, nil
}

// guardedSlice holds a copy of a slot's vector, read under the shard
// and mapping read locks; both locks are released before Retrieve
// returns.
type guardedSlice struct {
	data    []float32
	release func()
}

// Vector returns the copied vector data; it does not alias the mmap.
func (g *guardedSlice) Vector() []float32 { return g.data }

// Release is called once when done reading; Retrieve holds no lock
// past its return, so its release function does nothing.
func (g *guardedSlice) Release() { g.release() }

// Retrieve looks up id, verifies its CRC, and returns a guard holding a
// copy of the mapped vector.
func (s *Store) Retrieve(id int64) (*guardedSlice, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	off, ok := sh.byID[id]
	if !ok {
		sh.mu.RUnlock()
		return nil, ErrNotFound
	}

	s.mapMu.RLock()
	want := binary.LittleEndian.Uint32(s.mapping[s.crcOffset(off) : s.crcOffset(off)+4])
	got := s.computeCRC(off)
	if want != got {
		s.mapMu.RUnlock()
		sh.mu.RUnlock()
		return nil, ErrChecksumMismatch
	}

	vOff := s.vectorOffset(off)
	out := make([]float32, s.dim)
	for i := range out {
		out[i] = float32frombits(binary.LittleEndian.Uint32(s.mapping[vOff+int64(i*4) : vOff+int64(i*4)+4]))
	}
	s.mapMu.RUnlock()
	sh.mu.RUnlock()

	return &guardedSlice{data: out, release: func() {}}, nil
}

// Vector is a convenience used by the HNSW layer's VectorSource
// interface: it returns a plain copy, since the graph may hold onto
// the slice across the shard's lock scope.
func (s *Store) Vector(id int64) ([]float32, error) {
	g, err := s.Retrieve(id)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	return g.Vector(), nil
}

// Delete tombstones id's slot and returns its offset to the shard's
// free-list for reuse.
func (s *Store) Delete(id int64) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	off, ok := sh.byID[id]
	if !ok {
		return ErrNotFound
	}

	s.mapMu.RLock()
	binary.LittleEndian.PutUint32(s.mapping[off:off+4], slotTombstone)
	s.mapMu.RUnlock()

	delete(sh.byID, id)
	sh.free = append(sh.free, off)
	return nil
}

// Contains reports whether id currently has a live slot.
func (s *Store) Contains(id int64) bool {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.byID[id]
	return ok
}

// Len returns the number of live slots across all shards.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.byID)
		sh.mu.RUnlock()
	}
	return total
}

// IDs returns every live id across all shards, order unspecified.
func (s *Store) IDs() []int64 {
	out := make([]int64, 0, s.Len())
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id := range sh.byID {
			out = append(out, id)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Flush msyncs the mapping so writes are durable.
func (s *Store) Flush() error {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()
	if s.mapping == nil {
		return nil
	}
	if err := s.mapping.Flush(); err != nil {
		return ErrIo
	}
	return s.file.Sync()
}

// Close unmaps and closes the backing file.
func (s *Store) Close() error {
	s.mapMu.Lock()
	if s.mapping != nil {
		_ = s.mapping.Unmap()
		s.mapping = nil
	}
	s.mapMu.Unlock()
	return s.file.Close()
}

// FragmentationRatio reports tombstoned-bytes / total-bytes, the metric
// compaction mode selection is based on.
func (s *Store) FragmentationRatio() float64 {
	total := 0
	free := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.byID) + len(sh.free)
		free += len(sh.free)
		sh.mu.RUnlock()
	}
	if total == 0 {
		return 0
	}
	return float64(free) / float64(total)
}
