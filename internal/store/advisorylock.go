package store

import (
	"context"
	"fmt"
	"hash/fnv"
)

// StableHash64 derives a stable 64-bit key for pg_try_advisory_lock from an
// arbitrary string (spec §5: "a stable 64-bit hash of the runId").
func StableHash64(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64()) // wraps into the signed range Postgres expects; fine, we only need stability
}

// Unlock releases a previously acquired advisory lock and returns the
// pinned connection to the lock pool.
type Unlock func(ctx context.Context) error

// TryAdvisoryLock attempts a non-blocking session-level advisory lock keyed
// by key, pinning a single connection from the dedicated lock pool for the
// duration of the hold (spec §5: "acquire and release MUST execute on the
// same connection"). ok is false if the lock is already held elsewhere; in
// that case the connection is returned to the pool before returning.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (unlock Unlock, ok bool, err error) {
	conn, err := s.lockDB.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}

	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		_, unlockErr := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", key)
		closeErr := conn.Close()
		if unlockErr != nil {
			return unlockErr
		}
		return closeErr
	}
	return release, true, nil
}
