package messaging

import "time"

// JobCreatedEvent announces a freshly synthesized pool job
type JobCreatedEvent struct {
	JobID         string    `json:"job_id"`
	Size          int       `json:"size"`
	Difficulty    int       `json:"difficulty"`
	RewardPerUnit float64   `json:"reward_per_unit"`
	BonusPool     float64   `json:"bonus_pool"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// JobRetiredEvent announces a job leaving the active pool
type JobRetiredEvent struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"` // "completed", "expired"
	Size         int       `json:"size"`
	Contributors int       `json:"contributors"`
	RetiredAt    time.Time `json:"retired_at"`
}

// ClaimEvent records one accepted work claim
type ClaimEvent struct {
	JobID     string    `json:"job_id"`
	Account   string    `json:"account"`
	Reward    float64   `json:"reward"`
	Remaining int       `json:"remaining"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// BonusEvent records one contributor's completion-bonus share
type BonusEvent struct {
	JobID   string    `json:"job_id"`
	Account string    `json:"account"`
	Units   int       `json:"units"`
	Share   float64   `json:"share"`
	PaidAt  time.Time `json:"paid_at"`
}

// TransferEvent records a wallet-to-wallet transfer
type TransferEvent struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Amount     float64   `json:"amount"`
	ExecutedAt time.Time `json:"executed_at"`
}

// SyncEvent records an offline reconciliation batch
type SyncEvent struct {
	Account     string    `json:"account"`
	TotalProofs int       `json:"total_proofs"`
	ValidProofs int       `json:"valid_proofs"`
	Credited    float64   `json:"credited"`
	SyncedAt    time.Time `json:"synced_at"`
}
