package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) GetSignaturePolicy(ctx context.Context, serverID string) (*SignaturePolicyRecord, error) {
	const q = `SELECT server_id, payload_json, updated_at FROM signature_policy WHERE server_id = $1`
	var r SignaturePolicyRecord
	if err := s.read.GetContext(ctx, &r, q, serverID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) UpsertSignaturePolicy(ctx context.Context, r SignaturePolicyRecord) error {
	const q = `INSERT INTO signature_policy (server_id, payload_json, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT(server_id) DO UPDATE SET payload_json = excluded.payload_json, updated_at = excluded.updated_at`
	_, err := s.write.ExecContext(ctx, q, r.ServerID, r.PayloadJSON, r.UpdatedAt)
	return err
}

func (s *Store) DeleteSignaturePolicy(ctx context.Context, serverID string) error {
	const q = `DELETE FROM signature_policy WHERE server_id = $1`
	_, err := s.write.ExecContext(ctx, q, serverID)
	return err
}
