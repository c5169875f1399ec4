package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

// RecipientRepositoryInterface is the recipient directory the engine resolves ids against
type RecipientRepositoryInterface interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.Recipient, error)
}

// RecipientRepository is the concrete implementation
type RecipientRepository struct {
	DB *sql.DB
}

// GetByIDs fetches the recipients whose ids are listed. Unknown ids are skipped.
func (r *RecipientRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Recipient, error) {
	if len(ids) == 0 {
		return []model.Recipient{}, nil
	}
	query := `
        SELECT id, name, email, course
        FROM recipients
        WHERE id = ANY($1)
    `
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var rc model.Recipient
		if err := rows.Scan(&rc.ID, &rc.Name, &rc.Email, &rc.Course); err != nil {
			return nil, err
		}
		recipients = append(recipients, rc)
	}
	return recipients, rows.Err()
}

// Upsert inserts or refreshes one directory entry (used by the seeder)
func (r *RecipientRepository) Upsert(ctx context.Context, rc model.Recipient) error {
	query := `
        INSERT INTO recipients (id, name, email, course)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, course = EXCLUDED.course
    `
	_, err := r.DB.ExecContext(ctx, query, rc.ID, rc.Name, rc.Email, rc.Course)
	return err
}
