package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/coworking-spaces/services/availability/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SpaceRepository interface {
	// GetAvailability returns the space's recurring schedule. A space without
	// a document yields nil, which the calendar treats as every day disabled.
	GetAvailability(ctx context.Context, spaceID string) (*domain.SpaceAvailability, error)
	GetSpace(ctx context.Context, spaceID string) (*domain.Space, error)
}

type spaceRepository struct {
	pool *pgxpool.Pool
}

func NewSpaceRepository(pool *pgxpool.Pool) SpaceRepository {
	return &spaceRepository{pool: pool}
}

func (r *spaceRepository) GetAvailability(ctx context.Context, spaceID string) (*domain.SpaceAvailability, error) {
	const q = `SELECT availability FROM spaces WHERE id::text = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var raw []byte
	err := r.pool.QueryRow(ctx, q, spaceID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSpaceNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeAvailability(raw)
}

func (r *spaceRepository) GetSpace(ctx context.Context, spaceID string) (*domain.Space, error) {
	const q = `SELECT id::text, coalesce(host_id::text, ''), coalesce(confirmation_type, '')
		FROM spaces WHERE id::text = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var sp domain.Space
	err := r.pool.QueryRow(ctx, q, spaceID).Scan(&sp.ID, &sp.HostID, &sp.ConfirmationType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSpaceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

// DecodeAvailability parses a space availability document.
func DecodeAvailability(raw []byte) (*domain.SpaceAvailability, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var a domain.SpaceAvailability
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("invalid availability document: %w", err)
	}
	return &a, nil
}
