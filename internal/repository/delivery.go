package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
)

// DeliveryRepository is the ledger of inbound events. Rows are never deleted here.
type DeliveryRepository struct {
	db database.DBTX
}

func NewDeliveryRepository(db database.DBTX) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) WithTx(tx database.DBTX) *DeliveryRepository {
	return &DeliveryRepository{db: tx}
}

const deliveryColumns = `id, shop_domain, topic, event_id, headers, body, query, hmac_valid, status, attempts, last_attempt_at, processed_at, error_message, job_id, created_at, updated_at`

func (r *DeliveryRepository) Create(ctx context.Context, rec *domain.DeliveryRecord) error {
	query := `
		INSERT INTO delivery_records (id, shop_domain, topic, event_id, headers, body, query, hmac_valid, status, error_message, processed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = domain.DeliveryPending
	}

	headers, err := encodeJSON(rec.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	params, err := encodeJSON(rec.Query)
	if err != nil {
		return fmt.Errorf("encode query: %w", err)
	}

	err = r.db.QueryRow(ctx, query,
		rec.ID,
		rec.ShopDomain,
		rec.Topic,
		rec.EventID,
		headers,
		rec.Body,
		params,
		rec.HMACValid,
		string(rec.Status),
		rec.ErrorMessage,
		rec.ProcessedAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create delivery record: %w", err)
	}

	return nil
}

func (r *DeliveryRepository) AttachJob(ctx context.Context, id, jobID uuid.UUID) error {
	query := `
		UPDATE delivery_records
		SET job_id = $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "attach job", query, id, jobID)
}

func (r *DeliveryRepository) Get(ctx context.Context, id uuid.UUID) (*domain.DeliveryRecord, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM delivery_records
		WHERE id = $1
	`

	rec, err := scanDelivery(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	return rec, nil
}

// MarkProcessing records the start of an attempt. Verified records only.
func (r *DeliveryRepository) MarkProcessing(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE delivery_records
		SET status = 'processing', attempts = attempts + 1, last_attempt_at = $2, updated_at = NOW()
		WHERE id = $1 AND hmac_valid = true AND status <> 'success'
	`
	return r.execOne(ctx, "mark delivery processing", query, id, at)
}

// MarkSuccess refuses records whose signature did not verify.
func (r *DeliveryRepository) MarkSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE delivery_records
		SET status = 'success', processed_at = $2, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND hmac_valid = true
	`
	return r.execOne(ctx, "mark delivery success", query, id, at)
}

func (r *DeliveryRepository) MarkRetry(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE delivery_records
		SET status = 'retry', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'success'
	`
	return r.execOne(ctx, "mark delivery retry", query, id, message)
}

func (r *DeliveryRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	query := `
		UPDATE delivery_records
		SET status = 'failed', error_message = $2, processed_at = $3, updated_at = NOW()
		WHERE id = $1 AND status <> 'success'
	`
	return r.execOne(ctx, "mark delivery failed", query, id, message, at)
}

// ListByTenant returns the newest records for a shop, optionally filtered by topic.
func (r *DeliveryRepository) ListByTenant(ctx context.Context, shopDomain, topic string, limit int) ([]domain.DeliveryRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT ` + deliveryColumns + `
		FROM delivery_records
		WHERE shop_domain = $1 AND ($2 = '' OR topic = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, shopDomain, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	var records []domain.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery records: %w", err)
	}

	return records, nil
}

func (r *DeliveryRepository) CountByStatus(ctx context.Context) (map[domain.DeliveryStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM delivery_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count delivery records: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.DeliveryStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan delivery count: %w", err)
		}
		counts[domain.DeliveryStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery counts: %w", err)
	}

	return counts, nil
}

func (r *DeliveryRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrDeliveryNotFound
	}
	return nil
}

func scanDelivery(row pgx.Row) (*domain.DeliveryRecord, error) {
	var (
		rec     domain.DeliveryRecord
		headers []byte
		params  []byte
		status  string
	)
	err := row.Scan(
		&rec.ID,
		&rec.ShopDomain,
		&rec.Topic,
		&rec.EventID,
		&headers,
		&rec.Body,
		&params,
		&rec.HMACValid,
		&status,
		&rec.Attempts,
		&rec.LastAttemptAt,
		&rec.ProcessedAt,
		&rec.ErrorMessage,
		&rec.JobID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.DeliveryStatus(status)
	if err := decodeJSON(headers, &rec.Headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	if err := decodeJSON(params, &rec.Query); err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}
	return &rec, nil
}
