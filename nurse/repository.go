package nurse

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested nurse does not exist.
var ErrNotFound = errors.New("nurse: not found")

// Repository provides read access to nurse profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectProfile = `
		SELECT id, user_id, full_name, status, is_available, agent_id,
		       referrer_id, referrer_approved, referral_percent, created_at
		FROM nurses`

// CreateForUser inserts a pending profile for a freshly registered nurse
// account. The profile stays pending until an operator approves it.
func (r *Repository) CreateForUser(ctx context.Context, userID, fullName string) (Profile, error) {
	const q = `
		INSERT INTO nurses (user_id, full_name)
		VALUES ($1, $2)
		RETURNING id, user_id, full_name, status, is_available, agent_id,
		          referrer_id, referrer_approved, referral_percent, created_at`
	profile, err := scanProfile(r.pool.QueryRow(ctx, q, userID, fullName))
	if err != nil {
		return Profile{}, fmt.Errorf("nurse: create profile: %w", err)
	}
	return profile, nil
}

// GetByID fetches a nurse profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	row := r.pool.QueryRow(ctx, selectProfile+` WHERE id = $1`, id)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("nurse: query by id: %w", err)
	}
	return profile, nil
}

// List fetches up to limit nurse profiles ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, selectProfile+` ORDER BY full_name ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("nurse: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("nurse: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("nurse: iterate profiles: %w", err)
	}

	return profiles, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var profile Profile
	return profile, row.Scan(
		&profile.ID,
		&profile.UserID,
		&profile.FullName,
		&profile.Status,
		&profile.IsAvailable,
		&profile.AgentID,
		&profile.ReferrerID,
		&profile.ReferrerApproved,
		&profile.ReferralPercent,
		&profile.CreatedAt,
	)
}
