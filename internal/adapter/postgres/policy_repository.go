package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/roomcast/internal/domain"
)

// PolicyRepo stores room policies in PostgreSQL. Implements
// domain.PolicyRepository.
type PolicyRepo struct {
	pool *pgxpool.Pool
}

func NewPolicyRepo(pool *pgxpool.Pool) *PolicyRepo {
	return &PolicyRepo{pool: pool}
}

func (r *PolicyRepo) GetByRoomID(ctx context.Context, roomID string) (*domain.RoomPolicy, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT room_id, max_members, created_at, updated_at
		FROM room_policies
		WHERE room_id = $1`, roomID)

	policy, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy by room ID: %w", err)
	}
	return policy, nil
}

func (r *PolicyRepo) Upsert(ctx context.Context, roomID string, maxMembers int) (*domain.RoomPolicy, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO room_policies (room_id, max_members)
		VALUES ($1, $2)
		ON CONFLICT (room_id) DO UPDATE
		SET max_members = EXCLUDED.max_members, updated_at = now()
		RETURNING room_id, max_members, created_at, updated_at`, roomID, maxMembers)

	policy, err := scanPolicy(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert policy: %w", err)
	}
	return policy, nil
}

func (r *PolicyRepo) Delete(ctx context.Context, roomID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM room_policies WHERE room_id = $1", roomID); err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	return nil
}

func (r *PolicyRepo) List(ctx context.Context) ([]domain.RoomPolicy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT room_id, max_members, created_at, updated_at
		FROM room_policies
		ORDER BY room_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []domain.RoomPolicy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, *policy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	return policies, nil
}

func scanPolicy(row pgx.Row) (*domain.RoomPolicy, error) {
	var policy domain.RoomPolicy
	if err := row.Scan(&policy.RoomID, &policy.MaxMembers, &policy.CreatedAt, &policy.UpdatedAt); err != nil {
		return nil, err
	}
	return &policy, nil
}
