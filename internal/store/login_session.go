package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) CreateLoginSession(ctx context.Context, ls LoginSession) error {
	const q = `INSERT INTO login_session (session_id, user_email, vault_unlock_handle, created_at, expires_at, last_activity)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.write.ExecContext(ctx, q, ls.SessionID, ls.UserEmail, ls.VaultUnlockHandle, ls.CreatedAt, ls.ExpiresAt, ls.LastActivity)
	return err
}

func (s *Store) GetLoginSession(ctx context.Context, id string) (*LoginSession, error) {
	const q = `SELECT session_id, user_email, vault_unlock_handle, created_at, expires_at, last_activity FROM login_session WHERE session_id = $1`
	var ls LoginSession
	if err := s.read.GetContext(ctx, &ls, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ls, nil
}

// TouchLoginSession slides last_activity forward, per spec.md 4.2
// ("Validation slides last_activity forward to now").
func (s *Store) TouchLoginSession(ctx context.Context, id string, lastActivity any) error {
	const q = `UPDATE login_session SET last_activity = $2 WHERE session_id = $1`
	_, err := s.write.ExecContext(ctx, q, id, lastActivity)
	return err
}

func (s *Store) DeleteLoginSession(ctx context.Context, id string) (bool, error) {
	const q = `DELETE FROM login_session WHERE session_id = $1`
	res, err := s.write.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ExpiredLoginSessionIDs(ctx context.Context, now any) ([]string, error) {
	const q = `SELECT session_id FROM login_session WHERE expires_at < $1`
	var ids []string
	if err := s.read.SelectContext(ctx, &ids, q, now); err != nil {
		return nil, err
	}
	return ids, nil
}
