package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
)

type SessionRepository struct {
	db database.DBTX
}

func NewSessionRepository(db database.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) WithTx(tx database.DBTX) *SessionRepository {
	return &SessionRepository{db: tx}
}

func (r *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (id, shop_domain, data, expires_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET shop_domain = EXCLUDED.shop_domain, data = EXCLUDED.data, expires_at = EXCLUDED.expires_at
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		session.ID,
		session.ShopDomain,
		session.Data,
		session.ExpiresAt,
	).Scan(&session.CreatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT id, shop_domain, data, expires_at, created_at
		FROM sessions
		WHERE id = $1
	`

	var s domain.Session
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.ShopDomain, &s.Data, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	return &s, nil
}

// DeleteByTenant removes every session for the shop and returns how many went.
func (r *SessionRepository) DeleteByTenant(ctx context.Context, shopDomain string) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE shop_domain = $1`, shopDomain)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return result.RowsAffected(), nil
}
