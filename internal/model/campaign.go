// internal/model/campaign.go
package model

import "time"

// Campaign lifecycle statuses.
const (
	CampaignDraft   = "draft"
	CampaignSending = "sending"
	CampaignSent    = "sent"
	CampaignFailed  = "failed"
	CampaignPartial = "partial"
)

type Campaign struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	TemplateID      string     `db:"template_id" json:"template_id"`
	Status          string     `db:"status" json:"status"`
	TotalRecipients int        `db:"total_recipients" json:"total_recipients"`
	SentCount       int        `db:"sent_count" json:"sent_count"`
	FailedCount     int        `db:"failed_count" json:"failed_count"`
	PendingCount    int        `db:"pending_count" json:"pending_count"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt       *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Consistent reports whether the counters add up to the recipient total.
func (c *Campaign) Consistent() bool {
	return c.SentCount+c.FailedCount+c.PendingCount == c.TotalRecipients
}

// IsTerminal reports whether the campaign has left the sending state for good.
func (c *Campaign) IsTerminal() bool {
	switch c.Status {
	case CampaignSent, CampaignFailed, CampaignPartial:
		return true
	}
	return false
}

// ResolveStatus applies the finalization rule to a campaign whose pending count reached zero.
func ResolveStatus(total, sent, failed int) string {
	switch {
	case failed == total:
		return CampaignFailed
	case sent == total:
		return CampaignSent
	default:
		return CampaignPartial
	}
}
