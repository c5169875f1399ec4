package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/GGauravKKumar/vishi-ignou-outreach/internal/errors"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

type CampaignRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	Create(ctx context.Context, c *model.Campaign) error
	UpdateStatus(ctx context.Context, id, status string) error
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	ListSending(ctx context.Context) ([]*model.Campaign, error)
	RecomputeCounters(ctx context.Context, id string) (*model.Campaign, error)
	Finalize(ctx context.Context, id string) (*model.Campaign, bool, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, COALESCE(template_id, ''), status, total_recipients, sent_count,
        failed_count, pending_count, created_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.TemplateID, &c.Status, &c.TotalRecipients, &c.SentCount,
		&c.FailedCount, &c.PendingCount, &c.CreatedAt, &c.CompletedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// recomputeCountersSQL re-derives every counter of campaign $1 from its logs.
// The caller supplies the status to leave the campaign in as $2.
const recomputeCountersSQL = `
    UPDATE campaigns c
    SET total_recipients = s.total,
        sent_count       = s.sent,
        failed_count     = s.failed,
        pending_count    = s.pending,
        status           = COALESCE($2, c.status),
        updated_at       = NOW()
    FROM (
        SELECT COUNT(*)                                  AS total,
               COUNT(*) FILTER (WHERE status = 'sent')   AS sent,
               COUNT(*) FILTER (WHERE status = 'failed') AS failed,
               COUNT(*) FILTER (WHERE status = 'pending') AS pending
        FROM recipient_logs
        WHERE campaign_id = $1
    ) s
    WHERE c.id = $1
    RETURNING ` + `c.id, c.name, COALESCE(c.template_id, ''), c.status, c.total_recipients, c.sent_count,
        c.failed_count, c.pending_count, c.created_at, c.completed_at, c.updated_at`

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (id, name, template_id, status, created_at)
        VALUES ($1, $2, NULLIF($3, ''), $4, $5)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, template_id = EXCLUDED.template_id, updated_at = NOW()
    `
	_, err := r.DB.ExecContext(ctx, query, c.ID, c.Name, c.TemplateID, c.Status, c.CreatedAt)
	return err
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	res, err := r.DB.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	args := []any{}
	argPos := 1

	if status != "" {
		filter := fmt.Sprintf(" AND status=$%d", argPos)
		query += filter
		countQuery += filter
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// ListSending returns every campaign still in the sending state, oldest first.
func (r *CampaignRepository) ListSending(ctx context.Context) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status=$1 ORDER BY created_at`
	rows, err := r.DB.QueryContext(ctx, query, model.CampaignSending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) RecomputeCounters(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, recomputeCountersSQL, id, nil))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, err
}

// Finalize moves a sending campaign with nothing pending to its terminal
// status. The second return is false when the campaign was not eligible,
// for example because another worker finalized it first.
func (r *CampaignRepository) Finalize(ctx context.Context, id string) (*model.Campaign, bool, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if c.Status != model.CampaignSending || c.PendingCount != 0 {
		return c, false, nil
	}

	status := model.ResolveStatus(c.TotalRecipients, c.SentCount, c.FailedCount)
	query := `
        UPDATE campaigns
        SET status=$2, completed_at=COALESCE(completed_at, NOW()), updated_at=NOW()
        WHERE id=$1 AND status='sending' AND pending_count=0 AND sent_count=$3 AND failed_count=$4
        RETURNING completed_at
    `
	var completed time.Time
	err = r.DB.QueryRowContext(ctx, query, id, status, c.SentCount, c.FailedCount).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return c, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	c.Status = status
	c.CompletedAt = &completed
	return c, true, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
