package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/GGauravKKumar/vishi-ignou-outreach/internal/errors"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

type RecipientLogRepositoryInterface interface {
	Submit(ctx context.Context, campaignID string, recipients []model.Recipient, retry bool) (*model.Campaign, error)
	RecordDelivery(ctx context.Context, campaignID string, d model.Delivery) (bool, error)
	ListPending(ctx context.Context, campaignID string) ([]model.RecipientLog, error)
	ListByStatus(ctx context.Context, campaignID, status string, offset, limit int) ([]model.RecipientLog, error)
	Stats(ctx context.Context, campaignID string) (map[string]int, error)
	LastActivity(ctx context.Context, campaignID string) (*time.Time, error)
}

type RecipientLogRepository struct {
	DB *sql.DB
}

const logColumns = `id, campaign_id, recipient_id, name, email, course, status,
        COALESCE(error_message, ''), attempts, sent_at, created_at, updated_at`

// A fresh submission starts a new cycle: logs of recipients left out of it
// are dropped so the counters only describe the submitted list.
const dropOutOfCycleSQL = `
        DELETE FROM recipient_logs
        WHERE campaign_id = $1 AND NOT (recipient_id = ANY($2::text[]))
`

// A fresh submission puts every submitted recipient back to pending.
const upsertFreshSQL = `
        INSERT INTO recipient_logs (campaign_id, recipient_id, name, email, course, status)
        SELECT $1, r.id, r.name, r.email, r.course, 'pending'
        FROM unnest($2::text[], $3::text[], $4::text[], $5::text[]) AS r(id, name, email, course)
        ON CONFLICT (campaign_id, recipient_id) DO UPDATE
        SET name = EXCLUDED.name, email = EXCLUDED.email, course = EXCLUDED.course,
            status = 'pending', error_message = NULL, sent_at = NULL, attempts = 0, updated_at = NOW()
`

// A retry submission never touches delivered recipients: failed ones go
// back to pending, pending ones only get their identity refreshed.
const upsertRetrySQL = `
        INSERT INTO recipient_logs (campaign_id, recipient_id, name, email, course, status)
        SELECT $1, r.id, r.name, r.email, r.course, 'pending'
        FROM unnest($2::text[], $3::text[], $4::text[], $5::text[]) AS r(id, name, email, course)
        ON CONFLICT (campaign_id, recipient_id) DO UPDATE
        SET name = EXCLUDED.name, email = EXCLUDED.email, course = EXCLUDED.course,
            status = 'pending', error_message = NULL, updated_at = NOW()
        WHERE recipient_logs.status <> 'sent'
`

// Submit upserts the recipient logs and rebuilds the campaign counters from
// them in one transaction, leaving the campaign in the sending state.
func (r *RecipientLogRepository) Submit(ctx context.Context, campaignID string, recipients []model.Recipient, retry bool) (*model.Campaign, error) {
	ids := make([]string, len(recipients))
	names := make([]string, len(recipients))
	emails := make([]string, len(recipients))
	courses := make([]string, len(recipients))
	for i, rc := range recipients {
		ids[i], names[i], emails[i], courses[i] = rc.ID, rc.Name, rc.Email, rc.Course
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	upsert := upsertFreshSQL
	if retry {
		upsert = upsertRetrySQL
	} else if _, err := tx.ExecContext(ctx, dropOutOfCycleSQL, campaignID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("drop previous cycle logs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, campaignID, pq.Array(ids), pq.Array(names), pq.Array(emails), pq.Array(courses)); err != nil {
		return nil, fmt.Errorf("insert recipient logs: %w", err)
	}

	c, err := scanCampaign(tx.QueryRowContext(ctx, recomputeCountersSQL, campaignID, model.CampaignSending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewCampaignNotFound(campaignID)
	}
	if err != nil {
		return nil, fmt.Errorf("reset counters: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE campaigns SET completed_at = NULL WHERE id = $1`, campaignID); err != nil {
		return nil, err
	}
	c.CompletedAt = nil

	return c, tx.Commit()
}

// RecordDelivery moves one pending log to its terminal status and adjusts the
// campaign counters in the same transaction. It returns false and changes
// nothing when the log was not pending.
func (r *RecipientLogRepository) RecordDelivery(ctx context.Context, campaignID string, d model.Delivery) (bool, error) {
	var sent, failed int
	switch d.Status {
	case model.LogSent:
		sent = 1
	case model.LogFailed:
		failed = 1
	default:
		return false, fmt.Errorf("delivery status %q is not terminal", d.Status)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE recipient_logs
        SET status=$3, error_message=NULLIF($4, ''), attempts=attempts+$5, sent_at=$6, updated_at=NOW()
        WHERE campaign_id=$1 AND recipient_id=$2 AND status='pending'`,
		campaignID, d.RecipientID, d.Status, d.Error, d.Attempts, d.SentAt)
	if err != nil {
		return false, fmt.Errorf("update log %s: %w", d.RecipientID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE campaigns
        SET sent_count = sent_count + $2,
            failed_count = failed_count + $3,
            pending_count = pending_count - 1,
            updated_at = NOW()
        WHERE id = $1`,
		campaignID, sent, failed); err != nil {
		return false, fmt.Errorf("update counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *RecipientLogRepository) ListPending(ctx context.Context, campaignID string) ([]model.RecipientLog, error) {
	return r.query(ctx, `SELECT `+logColumns+` FROM recipient_logs WHERE campaign_id=$1 AND status='pending' ORDER BY id`, campaignID)
}

// ListByStatus pages through a campaign's logs. An empty status lists all of them.
func (r *RecipientLogRepository) ListByStatus(ctx context.Context, campaignID, status string, offset, limit int) ([]model.RecipientLog, error) {
	if status == "" {
		return r.query(ctx, `SELECT `+logColumns+` FROM recipient_logs WHERE campaign_id=$1 ORDER BY id LIMIT $2 OFFSET $3`,
			campaignID, limit, offset)
	}
	return r.query(ctx, `SELECT `+logColumns+` FROM recipient_logs WHERE campaign_id=$1 AND status=$2 ORDER BY id LIMIT $3 OFFSET $4`,
		campaignID, status, limit, offset)
}

func (r *RecipientLogRepository) query(ctx context.Context, query string, args ...any) ([]model.RecipientLog, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []model.RecipientLog{}
	for rows.Next() {
		var l model.RecipientLog
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.RecipientID, &l.Name, &l.Email, &l.Course, &l.Status,
			&l.ErrorMessage, &l.Attempts, &l.SentAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Stats counts logs per status; every status is present in the result.
func (r *RecipientLogRepository) Stats(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM recipient_logs WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{model.LogPending: 0, model.LogSent: 0, model.LogFailed: 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// LastActivity is the time of the latest terminal transition, or nil when
// no recipient has reached one yet.
func (r *RecipientLogRepository) LastActivity(ctx context.Context, campaignID string) (*time.Time, error) {
	var last sql.NullTime
	err := r.DB.QueryRowContext(ctx,
		`SELECT MAX(updated_at) FROM recipient_logs WHERE campaign_id=$1 AND status IN ('sent', 'failed')`,
		campaignID).Scan(&last)
	if err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

var _ RecipientLogRepositoryInterface = (*RecipientLogRepository)(nil)
