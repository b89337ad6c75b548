package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) CreateCredential(ctx context.Context, c Credential) error {
	const q = `INSERT INTO credential (credential_key, token_ref_json, scopes, expires_at, server_id, oauth_token_url, oauth_client_id, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.write.ExecContext(ctx, q, c.CredentialKey, c.TokenRefJSON, c.Scopes, c.ExpiresAt, c.ServerID,
		c.OAuthTokenURL, c.OAuthClientID, c.CreatedBy, c.CreatedAt)
	return err
}

func (s *Store) GetCredential(ctx context.Context, key string) (*Credential, error) {
	const q = `SELECT credential_key, token_ref_json, scopes, expires_at, server_id, oauth_token_url, oauth_client_id, created_by, created_at
FROM credential WHERE credential_key = $1`
	var c Credential
	if err := s.read.GetContext(ctx, &c, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) DeleteCredential(ctx context.Context, key string) error {
	const q = `DELETE FROM credential WHERE credential_key = $1`
	_, err := s.write.ExecContext(ctx, q, key)
	return err
}

func (s *Store) ListCredentials(ctx context.Context) ([]Credential, error) {
	const q = `SELECT credential_key, token_ref_json, scopes, expires_at, server_id, oauth_token_url, oauth_client_id, created_by, created_at FROM credential`
	var out []Credential
	if err := s.read.SelectContext(ctx, &out, q); err != nil {
		return nil, err
	}
	return out, nil
}
