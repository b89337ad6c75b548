package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) CreateRemoteServer(ctx context.Context, r RemoteServer) error {
	const q = `INSERT INTO remote_server (server_id, catalog_item_id, name, endpoint, status, credential_key, last_connected_at, error_message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.write.ExecContext(ctx, q, r.ServerID, r.CatalogItemID, r.Name, r.Endpoint, r.Status, r.CredentialKey,
		r.LastConnectedAt, r.ErrorMessage, r.CreatedAt)
	return err
}

func (s *Store) GetRemoteServer(ctx context.Context, id string) (*RemoteServer, error) {
	const q = `SELECT server_id, catalog_item_id, name, endpoint, status, credential_key, last_connected_at, error_message, created_at
FROM remote_server WHERE server_id = $1`
	var r RemoteServer
	if err := s.read.GetContext(ctx, &r, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) FindRemoteServerByCatalogItemID(ctx context.Context, catalogItemID string) (*RemoteServer, error) {
	const q = `SELECT server_id, catalog_item_id, name, endpoint, status, credential_key, last_connected_at, error_message, created_at
FROM remote_server WHERE catalog_item_id = $1`
	var r RemoteServer
	if err := s.read.GetContext(ctx, &r, q, catalogItemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) FindRemoteServerByEndpoint(ctx context.Context, endpoint string) (*RemoteServer, error) {
	const q = `SELECT server_id, catalog_item_id, name, endpoint, status, credential_key, last_connected_at, error_message, created_at
FROM remote_server WHERE endpoint = $1`
	var r RemoteServer
	if err := s.read.GetContext(ctx, &r, q, endpoint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRemoteServers(ctx context.Context) ([]RemoteServer, error) {
	const q = `SELECT server_id, catalog_item_id, name, endpoint, status, credential_key, last_connected_at, error_message, created_at FROM remote_server`
	var out []RemoteServer
	if err := s.read.SelectContext(ctx, &out, q); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateRemoteServerStatus(ctx context.Context, id, status string, credentialKey *string) error {
	const q = `UPDATE remote_server SET status = $2, credential_key = $3 WHERE server_id = $1`
	_, err := s.write.ExecContext(ctx, q, id, status, credentialKey)
	return err
}

func (s *Store) UpdateRemoteServerConnected(ctx context.Context, id string, at any) error {
	const q = `UPDATE remote_server SET last_connected_at = $2, error_message = NULL WHERE server_id = $1`
	_, err := s.write.ExecContext(ctx, q, id, at)
	return err
}

func (s *Store) UpdateRemoteServerError(ctx context.Context, id, message string) error {
	const q = `UPDATE remote_server SET status = $2, error_message = $3 WHERE server_id = $1`
	_, err := s.write.ExecContext(ctx, q, id, RemoteServerError, message)
	return err
}

func (s *Store) DeleteRemoteServer(ctx context.Context, id string) error {
	const q = `DELETE FROM remote_server WHERE server_id = $1`
	_, err := s.write.ExecContext(ctx, q, id)
	return err
}
