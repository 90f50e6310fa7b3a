package repository

import (
	"context"

	"chat_sync_service/internal/chat/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

type profileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository create a ProfileRepository on postgreSQL
func NewProfileRepository(db *pgxpool.Pool) ProfileRepository {
	return &profileRepository{db: db}
}

// FindProfilesByIDs 一次查詢所有 id，不存在的 id 直接略過
func (r *profileRepository) FindProfilesByIDs(ctx context.Context, ids []string) ([]domain.Profile, error) {
	if len(ids) == 0 {
		return []domain.Profile{}, nil
	}
	rows, err := r.db.Query(ctx,
		"SELECT id, display_name, COALESCE(avatar_url, '') FROM profiles WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	return scanProfiles(rows)
}

func (r *profileRepository) ListProfiles(ctx context.Context, limit int) ([]domain.Profile, error) {
	rows, err := r.db.Query(ctx,
		"SELECT id, display_name, COALESCE(avatar_url, '') FROM profiles ORDER BY created_at DESC, id LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	return scanProfiles(rows)
}

func scanProfiles(rows pgx.Rows) ([]domain.Profile, error) {
	defer rows.Close()
	profiles := []domain.Profile{}
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Avatar); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
