package store

import (
	"context"
	"encoding/json"
	"regexp"
)

var redactedMetadataKey = regexp.MustCompile(`(?i)token|secret|credential`)

// sanitizeMetadata redacts any key whose name matches the sensitive-key
// pattern before the metadata is ever written to disk. This runs
// unconditionally: callers cannot opt an audit entry out of it.
func sanitizeMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if redactedMetadataKey.MatchString(k) {
			out[k] = "***redacted***"
			continue
		}
		out[k] = v
	}
	return out
}

// RecordAuditLog writes an audit entry, applying the metadata sanitization
// invariant before marshaling.
func (s *Store) RecordAuditLog(ctx context.Context, category, action, actor, target string, metadata map[string]any, correlationID *string) error {
	sanitized := sanitizeMetadata(metadata)
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	const q = `INSERT INTO audit_log (category, action, actor, target, metadata_json, created_at, correlation_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.write.ExecContext(ctx, q, category, action, actor, target, string(raw), s.now(), correlationID)
	return err
}

func (s *Store) ListAuditLog(ctx context.Context, limit int) ([]AuditLog, error) {
	const q = `SELECT id, category, action, actor, target, metadata_json, created_at, correlation_id
FROM audit_log ORDER BY id DESC LIMIT $1`
	var out []AuditLog
	if err := s.read.SelectContext(ctx, &out, q, limit); err != nil {
		return nil, err
	}
	return out, nil
}
