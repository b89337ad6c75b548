package store

import (
	"context"
	"time"
)

func (s *Store) CreateGatewayAllowEntry(ctx context.Context, e GatewayAllowEntry) (int64, error) {
	const q = `INSERT INTO gateway_allow_entry (type, value, created_by, created_at, enabled, version)
VALUES ($1, $2, $3, $4, $5, $6)`
	res, err := s.write.ExecContext(ctx, q, e.Type, e.Value, e.CreatedBy, e.CreatedAt, e.Enabled, e.Version)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListEnabledGatewayAllowEntries(ctx context.Context) ([]GatewayAllowEntry, error) {
	const q = `SELECT id, type, value, created_by, created_at, enabled, version FROM gateway_allow_entry WHERE enabled = 1`
	var out []GatewayAllowEntry
	if err := s.read.SelectContext(ctx, &out, q); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListGatewayAllowEntries(ctx context.Context) ([]GatewayAllowEntry, error) {
	const q = `SELECT id, type, value, created_by, created_at, enabled, version FROM gateway_allow_entry`
	var out []GatewayAllowEntry
	if err := s.read.SelectContext(ctx, &out, q); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SetGatewayAllowEntryEnabled(ctx context.Context, id int64, enabled bool) error {
	const q = `UPDATE gateway_allow_entry SET enabled = $2 WHERE id = $1`
	_, err := s.write.ExecContext(ctx, q, id, enabled)
	return err
}

// MergeGatewayAllowEntriesByVersion reconciles a remote gateway's advertised
// allowlist with the locally stored one, keeping only entries whose version
// is strictly newer than what is on record. Entries absent from incoming
// are left untouched: a gateway's advertised set is additive, never a
// wholesale replacement.
func (s *Store) MergeGatewayAllowEntriesByVersion(ctx context.Context, createdBy string, now func() time.Time, incoming []GatewayAllowEntry) (int, error) {
	existing, err := s.ListGatewayAllowEntries(ctx)
	if err != nil {
		return 0, err
	}
	byValue := make(map[string]GatewayAllowEntry, len(existing))
	for _, e := range existing {
		byValue[e.Type+"|"+e.Value] = e
	}

	merged := 0
	for _, in := range incoming {
		key := in.Type + "|" + in.Value
		cur, ok := byValue[key]
		if ok && cur.Version >= in.Version {
			continue
		}
		if ok {
			const upd = `UPDATE gateway_allow_entry SET enabled = $2, version = $3 WHERE id = $1`
			if _, err := s.write.ExecContext(ctx, upd, cur.ID, in.Enabled, in.Version); err != nil {
				return merged, err
			}
		} else {
			entry := GatewayAllowEntry{
				Type:      in.Type,
				Value:     in.Value,
				CreatedBy: createdBy,
				CreatedAt: now(),
				Enabled:   in.Enabled,
				Version:   in.Version,
			}
			if _, err := s.CreateGatewayAllowEntry(ctx, entry); err != nil {
				return merged, err
			}
		}
		merged++
	}
	return merged, nil
}
