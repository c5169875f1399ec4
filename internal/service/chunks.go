package service

import (
	"strings"

	"github.com/GGauravKKumar/vishi-ignou-outreach/internal/model"
)

// PlanChunks cuts recipients into contiguous chunks of at most size entries.
// Every recipient lands in exactly one chunk, in input order.
func PlanChunks(campaignID string, recipients []model.Recipient, size int) []model.Chunk {
	if size < 1 {
		size = 1
	}
	total := (len(recipients) + size - 1) / size
	chunks := make([]model.Chunk, 0, total)
	for i := 0; i < total; i++ {
		end := min((i+1)*size, len(recipients))
		chunks = append(chunks, model.Chunk{
			CampaignID: campaignID,
			Index:      i,
			Total:      total,
			Recipients: recipients[i*size : end],
		})
	}
	return chunks
}

// normalizeRecipients trims addresses, falls back to the address as id and
// drops repeated ids, keeping the first occurrence.
func normalizeRecipients(in []model.Recipient) []model.Recipient {
	seen := make(map[string]struct{}, len(in))
	out := make([]model.Recipient, 0, len(in))
	for _, r := range in {
		r.Email = strings.TrimSpace(r.Email)
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			r.ID = strings.ToLower(r.Email)
		}
		if r.ID == "" {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func logRecipients(logs []model.RecipientLog) []model.Recipient {
	out := make([]model.Recipient, len(logs))
	for i := range logs {
		out[i] = logs[i].Recipient()
	}
	return out
}
