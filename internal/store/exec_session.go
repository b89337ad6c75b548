package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) CreateExecSession(ctx context.Context, e ExecSession) error {
	const q = `INSERT INTO exec_session
(session_id, server_id, config_json, state, idle_deadline, gateway_endpoint, metrics_endpoint, mtls_cert_ref_json, feature_flags_json, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.write.ExecContext(ctx, q, e.SessionID, e.ServerID, e.ConfigJSON, e.State, e.IdleDeadline,
		e.GatewayEndpoint, e.MetricsEndpoint, e.MTLSCertRefJSON, e.FeatureFlagsJSON, e.CreatedAt)
	return err
}

func (s *Store) GetExecSession(ctx context.Context, id string) (*ExecSession, error) {
	const q = `SELECT session_id, server_id, config_json, state, idle_deadline, gateway_endpoint, metrics_endpoint,
mtls_cert_ref_json, feature_flags_json, created_at FROM exec_session WHERE session_id = $1`
	var e ExecSession
	if err := s.read.GetContext(ctx, &e, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (s *Store) UpdateExecSessionConfig(ctx context.Context, id, configJSON string) error {
	const q = `UPDATE exec_session SET config_json = $2 WHERE session_id = $1`
	_, err := s.write.ExecContext(ctx, q, id, configJSON)
	return err
}

func (s *Store) UpdateExecSessionState(ctx context.Context, id, state string) error {
	const q = `UPDATE exec_session SET state = $2 WHERE session_id = $1`
	_, err := s.write.ExecContext(ctx, q, id, state)
	return err
}

func (s *Store) TouchExecSessionIdleDeadline(ctx context.Context, id string, idleDeadline any) error {
	const q = `UPDATE exec_session SET idle_deadline = $2 WHERE session_id = $1`
	_, err := s.write.ExecContext(ctx, q, id, idleDeadline)
	return err
}

func (s *Store) DeleteExecSession(ctx context.Context, id string) error {
	const q = `DELETE FROM exec_session WHERE session_id = $1`
	_, err := s.write.ExecContext(ctx, q, id)
	return err
}

func (s *Store) ExpiredExecSessionIDs(ctx context.Context, now any) ([]string, error) {
	const q = `SELECT session_id FROM exec_session WHERE idle_deadline < $1`
	var ids []string
	if err := s.read.SelectContext(ctx, &ids, q, now); err != nil {
		return nil, err
	}
	return ids, nil
}
