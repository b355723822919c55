//go:build !linux

package mmapstore

import "context"

func holePunchSupported() bool { return false }

// compactHolePunch has no portable equivalent outside Linux
// (FALLOC_FL_PUNCH_HOLE) and Windows (FSCTL_SET_ZERO_DATA, not wired
// here since the retrieved pack carries no Windows-specific sparse-file
// dependency); ChooseMode never selects this path off Linux, so callers
// that request it explicitly fall back to a full rewrite.
func (s *Store) compactHolePunch(ctx context.Context) error {
	return s.compactFullRewrite(ctx)
}
