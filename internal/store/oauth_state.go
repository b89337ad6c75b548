package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) CreateOAuthState(ctx context.Context, r OAuthStateRecord) error {
	const q = `INSERT INTO oauth_state
(state, server_id, code_challenge, code_challenge_method, scopes, authorize_url, token_url, client_id, redirect_uri, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.write.ExecContext(ctx, q, r.State, r.ServerID, r.CodeChallenge, r.CodeChallengeMethod, r.Scopes,
		r.AuthorizeURL, r.TokenURL, r.ClientID, r.RedirectURI, r.ExpiresAt, r.CreatedAt)
	return err
}

// ConsumeOAuthState atomically fetches and deletes a state record inside
// one transaction, enforcing the "single-use" invariant in spec.md
// section 3 without a separate read-then-delete race window.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string) (_ *OAuthStateRecord, err error) {
	tx, err := s.write.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer txClose(tx, &err)

	const sel = `SELECT state, server_id, code_challenge, code_challenge_method, scopes, authorize_url, token_url, client_id, redirect_uri, expires_at, created_at
FROM oauth_state WHERE state = $1`
	var r OAuthStateRecord
	if err = tx.GetContext(ctx, &r, sel, state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	const del = `DELETE FROM oauth_state WHERE state = $1`
	if _, err = tx.ExecContext(ctx, del, state); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) DeleteOAuthStatesOlderThan(ctx context.Context, now any) (int, error) {
	const q = `DELETE FROM oauth_state WHERE expires_at < $1`
	res, err := s.write.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
