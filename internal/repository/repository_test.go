package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/GGauravKKumar/vishi-ignou-outreach/internal/errors"
	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

var campaignCols = []string{
	"id", "name", "template_id", "status", "total_recipients", "sent_count",
	"failed_count", "pending_count", "created_at", "completed_at", "updated_at",
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func campaignRow(status string, total, sent, failed, pending int) *sqlmock.Rows {
	return sqlmock.NewRows(campaignCols).
		AddRow("c1", "Spring intake", "t1", status, total, sent, failed, pending, time.Now(), nil, nil)
}

func TestRecordDeliveryAppliesOnce(t *testing.T) {
	db, mock := newMock(t)
	repo := &RecipientLogRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE recipient_logs\s+SET status=\$3`).
		WithArgs("c1", "r1", model.LogSent, "", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE campaigns\s+SET sent_count = sent_count \+ \$2`).
		WithArgs("c1", 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	now := time.Now()
	applied, err := repo.RecordDelivery(context.Background(), "c1", model.Delivery{
		RecipientID: "r1", Status: model.LogSent, Attempts: 1, SentAt: &now,
	})
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestRecordDeliverySkipsNonPending(t *testing.T) {
	db, mock := newMock(t)
	repo := &RecipientLogRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE recipient_logs`).
		WithArgs("c1", "r1", model.LogFailed, "Invalid email format", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	applied, err := repo.RecordDelivery(context.Background(), "c1", model.Delivery{
		RecipientID: "r1", Status: model.LogFailed, Error: "Invalid email format",
	})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestRecordDeliveryRejectsPending(t *testing.T) {
	db, _ := newMock(t)
	repo := &RecipientLogRepository{DB: db}

	_, err := repo.RecordDelivery(context.Background(), "c1", model.Delivery{RecipientID: "r1", Status: model.LogPending})
	assert.Error(t, err)
}

func TestSubmitFreshRebuildsCounters(t *testing.T) {
	db, mock := newMock(t)
	repo := &RecipientLogRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM recipient_logs\s+WHERE campaign_id = \$1 AND NOT \(recipient_id = ANY`).
		WithArgs("c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`INSERT INTO recipient_logs.*sent_at = NULL, attempts = 0`).
		WithArgs("c1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery(`UPDATE campaigns c\s+SET total_recipients = s.total`).
		WithArgs("c1", model.CampaignSending).
		WillReturnRows(campaignRow(model.CampaignSending, 3, 0, 0, 3))
	mock.ExpectExec(`UPDATE campaigns SET completed_at = NULL`).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, err := repo.Submit(context.Background(), "c1", []model.Recipient{
		{ID: "r1", Email: "a@x.org"}, {ID: "r2", Email: "b@x.org"}, {ID: "r3", Email: "c@x.org"},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 3, c.PendingCount)
	assert.Equal(t, model.CampaignSending, c.Status)
	assert.True(t, c.Consistent())
}

func TestSubmitRetryLeavesDeliveredLogs(t *testing.T) {
	db, mock := newMock(t)
	repo := &RecipientLogRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO recipient_logs.*WHERE recipient_logs.status <> 'sent'`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`UPDATE campaigns c`).
		WillReturnRows(campaignRow(model.CampaignSending, 10, 8, 0, 2))
	mock.ExpectExec(`UPDATE campaigns SET completed_at = NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, err := repo.Submit(context.Background(), "c1", []model.Recipient{{ID: "r9"}, {ID: "r10"}}, true)
	require.NoError(t, err)
	assert.Equal(t, 8, c.SentCount)
	assert.Equal(t, 2, c.PendingCount)
}

func TestSubmitUnknownCampaign(t *testing.T) {
	db, mock := newMock(t)
	repo := &RecipientLogRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM recipient_logs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO recipient_logs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE campaigns c`).WillReturnRows(sqlmock.NewRows(campaignCols))
	mock.ExpectRollback()

	_, err := repo.Submit(context.Background(), "missing", []model.Recipient{{ID: "r1"}}, false)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestListPending(t *testing.T) {
	db, mock := newMock(t)
	repo := &RecipientLogRepository{DB: db}

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "campaign_id", "recipient_id", "name", "email", "course", "status",
		"error_message", "attempts", "sent_at", "created_at", "updated_at",
	}).
		AddRow(int64(1), "c1", "r1", "Asha", "asha@x.org", "MCA", "pending", "", 0, nil, now, now).
		AddRow(int64(2), "c1", "r2", "Ravi", "ravi@x.org", "BCA", "pending", "", 1, nil, now, now)
	mock.ExpectQuery(`FROM recipient_logs WHERE campaign_id=\$1 AND status='pending' ORDER BY id`).
		WithArgs("c1").
		WillReturnRows(rows)

	logs, err := repo.ListPending(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.Recipient{ID: "r2", Name: "Ravi", Email: "ravi@x.org", Course: "BCA"}, logs[1].Recipient())
}

func TestStatsFillsMissingStatuses(t *testing.T) {
	db, mock := newMock(t)
	repo := &RecipientLogRepository{DB: db}

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM recipient_logs`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("sent", 4))

	stats, err := repo.Stats(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"pending": 0, "sent": 4, "failed": 0}, stats)
}

func TestLastActivity(t *testing.T) {
	db, mock := newMock(t)
	repo := &RecipientLogRepository{DB: db}

	mock.ExpectQuery(`SELECT MAX\(updated_at\)`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	last, err := repo.LastActivity(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, last)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`SELECT MAX\(updated_at\)`).
		WithArgs("c2").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(ts))
	last, err = repo.LastActivity(context.Background(), "c2")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, ts.Equal(*last))
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := &CampaignRepository{DB: db}

	mock.ExpectQuery(`FROM campaigns WHERE id=\$1`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "nope")
	assert.True(t, appErrors.IsNotFound(err))
}

func TestFinalizeResolvesStatus(t *testing.T) {
	cases := []struct {
		name                string
		total, sent, failed int
		want                string
	}{
		{"all sent", 45, 45, 0, model.CampaignSent},
		{"all failed", 3, 0, 3, model.CampaignFailed},
		{"mixed", 5, 3, 2, model.CampaignPartial},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := &CampaignRepository{DB: db}

			mock.ExpectQuery(`FROM campaigns WHERE id=\$1`).
				WithArgs("c1").
				WillReturnRows(campaignRow(model.CampaignSending, tc.total, tc.sent, tc.failed, 0))
			mock.ExpectQuery(`UPDATE campaigns\s+SET status=\$2, completed_at=COALESCE`).
				WithArgs("c1", tc.want, tc.sent, tc.failed).
				WillReturnRows(sqlmock.NewRows([]string{"completed_at"}).AddRow(time.Now()))

			c, ok, err := repo.Finalize(context.Background(), "c1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tc.want, c.Status)
			assert.NotNil(t, c.CompletedAt)
		})
	}
}

func TestFinalizeSkipsPendingCampaign(t *testing.T) {
	db, mock := newMock(t)
	repo := &CampaignRepository{DB: db}

	mock.ExpectQuery(`FROM campaigns WHERE id=\$1`).
		WithArgs("c1").
		WillReturnRows(campaignRow(model.CampaignSending, 10, 5, 0, 5))

	c, ok, err := repo.Finalize(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.CampaignSending, c.Status)
}

func TestListCampaignsPaginates(t *testing.T) {
	db, mock := newMock(t)
	repo := &CampaignRepository{DB: db}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM campaigns WHERE 1=1 AND status=\$1`).
		WithArgs("sending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("sending", 5, 5).
		WillReturnRows(campaignRow(model.CampaignSending, 1, 0, 0, 1))

	list, total, err := repo.ListCampaigns(context.Background(), 5, 5, "sending")
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Len(t, list, 1)
}

func TestRecipientsGetByIDsEmpty(t *testing.T) {
	db, _ := newMock(t)
	repo := &RecipientRepository{DB: db}

	got, err := repo.GetByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSettingsGetMissingRow(t *testing.T) {
	db, mock := newMock(t)
	repo := &SettingsRepository{DB: db}

	mock.ExpectQuery(`FROM smtp_settings WHERE id = 1`).WillReturnError(sql.ErrNoRows)

	s, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestTemplateNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := &TemplateRepository{DB: db}

	mock.ExpectQuery(`FROM templates WHERE id=\$1`).WithArgs("t9").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "t9")
	assert.ErrorIs(t, err, appErrors.ErrTemplateNotFound)
}
