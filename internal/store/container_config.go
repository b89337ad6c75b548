package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) CreateContainerConfigRecord(ctx context.Context, r ContainerConfigRecord) error {
	const q = `INSERT INTO container_config_record (container_id, name, image, config_json, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := s.write.ExecContext(ctx, q, r.ContainerID, r.Name, r.Image, r.ConfigJSON, r.CreatedAt)
	return err
}

func (s *Store) GetContainerConfigRecord(ctx context.Context, containerID string) (*ContainerConfigRecord, error) {
	const q = `SELECT container_id, name, image, config_json, created_at FROM container_config_record WHERE container_id = $1`
	var r ContainerConfigRecord
	if err := s.read.GetContext(ctx, &r, q, containerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) DeleteContainerConfigRecord(ctx context.Context, containerID string) error {
	const q = `DELETE FROM container_config_record WHERE container_id = $1`
	_, err := s.write.ExecContext(ctx, q, containerID)
	return err
}
