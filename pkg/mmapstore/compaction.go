package mmapstore

import (
	"context"
	"os"
)

// CompactionMode selects how tombstoned slots are reclaimed.
type CompactionMode int

const (
	// CompactAuto chooses hole-punch when fragmentation is below 40%
	// and the OS supports it, else falls back to full-rewrite.
	CompactAuto CompactionMode = iota
	CompactFullRewrite
	CompactHolePunch
)

const fragmentationThreshold = 0.4

// ChooseMode implements the selection policy: hole-punch if
// fragmentation < 40% and the platform supports FALLOC_FL_PUNCH_HOLE
// (or the Windows equivalent), else full-rewrite.
func (s *Store) ChooseMode() CompactionMode {
	if s.FragmentationRatio() < fragmentationThreshold && holePunchSupported() {
		return CompactHolePunch
	}
	return CompactFullRewrite
}

// Compact reclaims tombstoned slots using mode (CompactAuto resolves
// via ChooseMode). Full-rewrite copies every live slot into a new file
// and swaps it in atomically via rename; hole-punch releases the
// physical blocks of tombstoned slots in place, keeping offsets (and
// therefore the id->offset index) unchanged. ctx is checked roughly
// every 64KiB of slots copied/punched, so a deadline set by the caller
// aborts a large compaction promptly with ErrCancelled; a cancelled
// full-rewrite leaves the original file untouched, since the rewrite
// only swaps in the new file at the very end.
func (s *Store) Compact(ctx context.Context, mode CompactionMode) error {
	if mode == CompactAuto {
		mode = s.ChooseMode()
	}
	if mode == CompactHolePunch {
		return s.compactHolePunch(ctx)
	}
	return s.compactFullRewrite(ctx)
}

func (s *Store) compactFullRewrite(ctx context.Context) error {
	tmpPath := s.path + ".compact.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return ErrIo
	}

	checkEvery := int(65536 / s.slotSz)
	if checkEvery < 1 {
		checkEvery = 1
	}

	s.mapMu.RLock()
	ids := s.IDs()
	var writeOff int64
	newOffsets := make(map[int64]int64, len(ids))
	buf := make([]byte, s.slotSz)
	for i, id := range ids {
		if i%checkEvery == 0 && cancelled(ctx) {
			s.mapMu.RUnlock()
			tmp.Close()
			os.Remove(tmpPath)
			return ErrCancelled
		}
		sh := s.shardFor(id)
		sh.mu.RLock()
		off, ok := sh.byID[id]
		sh.mu.RUnlock()
		if !ok {
			continue
		}
		copy(buf, s.mapping[off:off+s.slotSz])
		if _, err := tmp.WriteAt(buf, writeOff); err != nil {
			s.mapMu.RUnlock()
			tmp.Close()
			os.Remove(tmpPath)
			return ErrIo
		}
		newOffsets[id] = writeOff
		writeOff += s.slotSz
	}
	s.mapMu.RUnlock()

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ErrIo
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return ErrIo
	}

	s.sizeMu.Lock()
	s.mapMu.Lock()
	if s.mapping != nil {
		_ = s.mapping.Unmap()
		s.mapping = nil
	}
	if err := s.file.Close(); err != nil {
		s.mapMu.Unlock()
		s.sizeMu.Unlock()
		return ErrIo
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		s.mapMu.Unlock()
		s.sizeMu.Unlock()
		return ErrIo
	}
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		s.mapMu.Unlock()
		s.sizeMu.Unlock()
		return ErrIo
	}
	s.file = f
	s.fileSize = writeOff
	s.mapMu.Unlock()
	if err := s.remapLocked(); err != nil {
		s.sizeMu.Unlock()
		return err
	}
	s.sizeMu.Unlock()

	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.free = nil
		sh.mu.Unlock()
	}
	for id, off := range newOffsets {
		sh := s.shardFor(id)
		sh.mu.Lock()
		sh.byID[id] = off
		sh.mu.Unlock()
	}
	return nil
}
