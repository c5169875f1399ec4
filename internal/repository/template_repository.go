package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/GGauravKKumar/vishi-ignou-outreach/internal/errors"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

type TemplateRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Template, error)
}

type TemplateRepository struct {
	DB *sql.DB
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*model.Template, error) {
	var t model.Template
	err := r.DB.QueryRowContext(ctx, `SELECT id, name, subject, body FROM templates WHERE id=$1`, id).
		Scan(&t.ID, &t.Name, &t.Subject, &t.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", appErrors.ErrTemplateNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepository) Upsert(ctx context.Context, t model.Template) error {
	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO templates (id, name, subject, body)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, subject = EXCLUDED.subject, body = EXCLUDED.body`,
		t.ID, t.Name, t.Subject, t.Body)
	return err
}
