package store

import (
	"context"
	"database/sql"
	"errors"
)

// GitHub token is a singleton row (id = 1) storing a reference to the
// vault-backed GitHub PAT managed by internal/githubtoken.

func (s *Store) GetGitHubToken(ctx context.Context) (*GitHubToken, error) {
	const q = `SELECT id, token_ref_json, source, updated_by, updated_at FROM github_token WHERE id = 1`
	var t GitHubToken
	if err := s.read.GetContext(ctx, &t, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) UpsertGitHubToken(ctx context.Context, t GitHubToken) error {
	const q = `INSERT INTO github_token (id, token_ref_json, source, updated_by, updated_at)
VALUES (1, $1, $2, $3, $4)
ON CONFLICT(id) DO UPDATE SET token_ref_json = excluded.token_ref_json, source = excluded.source,
	updated_by = excluded.updated_by, updated_at = excluded.updated_at`
	_, err := s.write.ExecContext(ctx, q, t.TokenRefJSON, t.Source, t.UpdatedBy, t.UpdatedAt)
	return err
}

func (s *Store) DeleteGitHubToken(ctx context.Context) error {
	const q = `DELETE FROM github_token WHERE id = 1`
	_, err := s.write.ExecContext(ctx, q)
	return err
}
