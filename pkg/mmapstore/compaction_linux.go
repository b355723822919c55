//go:build linux

package mmapstore

import (
	"context"

	"golang.org/x/sys/unix"
)

func holePunchSupported() bool { return true }

// compactHolePunch calls fallocate(FALLOC_FL_PUNCH_HOLE|FALLOC_FL_KEEP_SIZE)
// over each tombstoned slot's byte range, releasing the physical blocks
// without changing file length or any live offset. ctx is checked
// roughly every 64KiB of slots punched.
func (s *Store) compactHolePunch(ctx context.Context) error {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()

	checkEvery := int(65536 / s.slotSz)
	if checkEvery < 1 {
		checkEvery = 1
	}

	fd := int(s.file.Fd())
	var n int
	for _, sh := range s.shards {
		sh.mu.RLock()
		offsets := make([]int64, len(sh.free))
		copy(offsets, sh.free)
		sh.mu.RUnlock()

		for _, off := range offsets {
			if n%checkEvery == 0 && cancelled(ctx) {
				return ErrCancelled
			}
			n++
			mode := unix.FALLOC_FL_PUNCH_HOLE | unix.FALLOC_FL_KEEP_SIZE
			if err := unix.Fallocate(fd, uint32(mode), off, s.slotSz); err != nil {
				return ErrIo
			}
		}
	}
	return nil
}
