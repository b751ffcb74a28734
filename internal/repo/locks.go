package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
)

// AcquireRunLock attempts to take the named lock. It succeeds when no row
// exists for the key or the existing row has expired. The attempt is a single
// transaction so two concurrent runs cannot both win. A false return is not an
// error: another run holds the lock.
func (r Repo) AcquireRunLock(ctx context.Context, key, owner string, ttl time.Duration, now time.Time) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var expiresAt string
	err = tx.QueryRowContext(ctx, `SELECT expires_at FROM run_locks WHERE key=?`, key).Scan(&expiresAt)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	if err == nil {
		exp, perr := time.Parse(time.RFC3339, expiresAt)
		if perr == nil && now.Before(exp) {
			return false, nil
		}
	}
	lock := domain.RunLock{
		Key:        key,
		Owner:      owner,
		AcquiredAt: now.UTC().Format(time.RFC3339),
		ExpiresAt:  now.Add(ttl).UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO run_locks(key,owner,acquired_at,expires_at) VALUES (?,?,?,?)
ON CONFLICT(key) DO UPDATE SET owner=excluded.owner, acquired_at=excluded.acquired_at, expires_at=excluded.expires_at`,
		lock.Key, lock.Owner, lock.AcquiredAt, lock.ExpiresAt); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseRunLock drops the lock if the caller still owns it.
func (r Repo) ReleaseRunLock(ctx context.Context, key, owner string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM run_locks WHERE key=? AND owner=?`, key, owner)
	return err
}

// GetRunLock returns the current lock row for inspection.
func (r Repo) GetRunLock(ctx context.Context, key string) (domain.RunLock, error) {
	var l domain.RunLock
	err := r.DB.QueryRowContext(ctx, `SELECT key,owner,acquired_at,expires_at FROM run_locks WHERE key=?`, key).
		Scan(&l.Key, &l.Owner, &l.AcquiredAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}
