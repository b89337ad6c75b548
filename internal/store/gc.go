package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// IsEndpointAllowed delegates to the outbound endpoint allowlist supplied
// at construction time via WithEndpointAllowlist.
func (s *Store) IsEndpointAllowed(rawURL string) bool {
	return s.allowed.Allowed(rawURL)
}

// GCExpired runs the five expiry-driven deletions from spec.md section 4.1
// atomically in a single transaction, returning the per-entity counts.
// Credentials and jobs are kept for s.credentialRetention/s.jobRetention
// past expires_at/completion rather than purged the instant they expire;
// exec sessions, auth sessions and oauth_states have no retention window.
func (s *Store) GCExpired(ctx context.Context, now time.Time) (_ GCCounts, err error) {
	tx, err := s.write.BeginTxx(ctx, nil)
	if err != nil {
		return GCCounts{}, err
	}
	defer txClose(tx, &err)

	var counts GCCounts

	credentialCutoff := now.Add(-s.credentialRetention)
	jobCutoff := now.Add(-s.jobRetention)

	if counts.Credentials, err = execRowsAffected(ctx, tx, `DELETE FROM credential WHERE expires_at < $1`, credentialCutoff); err != nil {
		return GCCounts{}, err
	}
	if counts.ExecSessions, err = execRowsAffected(ctx, tx, `DELETE FROM exec_session WHERE idle_deadline < $1`, now); err != nil {
		return GCCounts{}, err
	}
	if counts.Jobs, err = execRowsAffected(ctx, tx, `DELETE FROM job WHERE COALESCE(finished_at, queued_at) < $1`, jobCutoff); err != nil {
		return GCCounts{}, err
	}
	if counts.AuthSessions, err = execRowsAffected(ctx, tx, `DELETE FROM login_session WHERE expires_at < $1`, now); err != nil {
		return GCCounts{}, err
	}
	if counts.OAuthStates, err = execRowsAffected(ctx, tx, `DELETE FROM oauth_state WHERE expires_at < $1`, now); err != nil {
		return GCCounts{}, err
	}

	if err = tx.Commit(); err != nil {
		return GCCounts{}, err
	}
	return counts, nil
}

func execRowsAffected(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (int, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
