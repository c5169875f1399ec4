// internal/model/chunk.go
package model

// Chunk is a contiguous slice of a campaign's recipients processed as one unit of work.
type Chunk struct {
	CampaignID string      `json:"campaign_id"`
	Index      int         `json:"index"`
	Total      int         `json:"total"`
	Recipients []Recipient `json:"recipients"`
}

// ChunkTask is the queue payload that carries one chunk to a worker.
type ChunkTask struct {
	Chunk
	Template Template `json:"template"`
	Resume   bool     `json:"resume,omitempty"`
}
