package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) CreateGateway(ctx context.Context, g Gateway) error {
	const q = `INSERT INTO gateway
(gateway_id, url, token_ref_json, probe_interval_seconds, periodic_enabled, last_status, last_p50_ms, last_p95_ms, last_p99_ms, last_probed_at, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.write.ExecContext(ctx, q, g.GatewayID, g.URL, g.TokenRefJSON, g.ProbeIntervalSeconds, g.PeriodicEnabled,
		g.LastStatus, g.LastP50Ms, g.LastP95Ms, g.LastP99Ms, g.LastProbedAt, g.CreatedBy, g.CreatedAt)
	return err
}

func (s *Store) GetGateway(ctx context.Context, id string) (*Gateway, error) {
	const q = `SELECT gateway_id, url, token_ref_json, probe_interval_seconds, periodic_enabled, last_status, last_p50_ms, last_p95_ms, last_p99_ms, last_probed_at, created_by, created_at
FROM gateway WHERE gateway_id = $1`
	var g Gateway
	if err := s.read.GetContext(ctx, &g, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

func (s *Store) FindGatewayByURL(ctx context.Context, url string) (*Gateway, error) {
	const q = `SELECT gateway_id, url, token_ref_json, probe_interval_seconds, periodic_enabled, last_status, last_p50_ms, last_p95_ms, last_p99_ms, last_probed_at, created_by, created_at
FROM gateway WHERE url = $1`
	var g Gateway
	if err := s.read.GetContext(ctx, &g, q, url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

func (s *Store) ListGateways(ctx context.Context) ([]Gateway, error) {
	const q = `SELECT gateway_id, url, token_ref_json, probe_interval_seconds, periodic_enabled, last_status, last_p50_ms, last_p95_ms, last_p99_ms, last_probed_at, created_by, created_at FROM gateway`
	var out []Gateway
	if err := s.read.SelectContext(ctx, &out, q); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RecordGatewayProbeResult(ctx context.Context, id, status string, p50, p95, p99 float64, at any) error {
	const q = `UPDATE gateway SET last_status = $2, last_p50_ms = $3, last_p95_ms = $4, last_p99_ms = $5, last_probed_at = $6 WHERE gateway_id = $1`
	_, err := s.write.ExecContext(ctx, q, id, status, p50, p95, p99, at)
	return err
}

func (s *Store) DeleteGateway(ctx context.Context, id string) error {
	const q = `DELETE FROM gateway WHERE gateway_id = $1`
	_, err := s.write.ExecContext(ctx, q, id)
	return err
}
