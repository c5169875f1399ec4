// internal/model/recipient_log.go
package model

import "time"

// Delivery statuses of a single recipient within a campaign.
const (
	LogPending = "pending"
	LogSent    = "sent"
	LogFailed  = "failed"
)

type RecipientLog struct {
	ID           int64      `db:"id" json:"id"`
	CampaignID   string     `db:"campaign_id" json:"campaign_id"`
	RecipientID  string     `db:"recipient_id" json:"recipient_id"`
	Name         string     `db:"name" json:"name"`
	Email        string     `db:"email" json:"email"`
	Course       string     `db:"course" json:"course"`
	Status       string     `db:"status" json:"status"` // pending, sent, failed
	ErrorMessage string     `db:"error_message,omitempty" json:"error_message,omitempty"`
	Attempts     int        `db:"attempts" json:"attempts"`
	SentAt       *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Recipient returns the identity snapshot stored on the log entry.
func (l *RecipientLog) Recipient() Recipient {
	return Recipient{ID: l.RecipientID, Name: l.Name, Email: l.Email, Course: l.Course}
}

// Delivery is the terminal result recorded for one recipient.
type Delivery struct {
	RecipientID string
	Status      string
	Error       string
	Attempts    int
	SentAt      *time.Time
}
