package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

// SettingsRepository reads the single relay configuration row.
type SettingsRepository struct {
	DB *sql.DB
}

// Get returns nil without error when the relay was never configured.
func (r *SettingsRepository) Get(ctx context.Context) (*model.SMTPSettings, error) {
	var s model.SMTPSettings
	err := r.DB.QueryRowContext(ctx, `
        SELECT host, port, security, COALESCE(username, ''), COALESCE(from_name, ''), from_email
        FROM smtp_settings WHERE id = 1`).
		Scan(&s.Host, &s.Port, &s.Security, &s.Username, &s.FromName, &s.FromEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SettingsRepository) Save(ctx context.Context, s model.SMTPSettings) error {
	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO smtp_settings (id, host, port, security, username, from_name, from_email, updated_at)
        VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
        ON CONFLICT (id) DO UPDATE SET host = EXCLUDED.host, port = EXCLUDED.port, security = EXCLUDED.security,
            username = EXCLUDED.username, from_name = EXCLUDED.from_name, from_email = EXCLUDED.from_email,
            updated_at = NOW()`,
		s.Host, s.Port, s.Security, s.Username, s.FromName, s.FromEmail)
	return err
}
