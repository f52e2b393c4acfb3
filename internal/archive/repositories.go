package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RetiredJob is an archived job record
type RetiredJob struct {
	ID            int64     `json:"id"`
	JobID         string    `json:"job_id"`
	Size          int       `json:"size"`
	Difficulty    int       `json:"difficulty"`
	RewardPerUnit float64   `json:"reward_per_unit"`
	BonusPool     float64   `json:"bonus_pool"`
	Status        string    `json:"status"`
	Contributors  int       `json:"contributors"`
	CreatedAt     time.Time `json:"created_at"`
	RetiredAt     time.Time `json:"retired_at"`
}

// Payout is an archived bonus payout record
type Payout struct {
	ID      int64     `json:"id"`
	JobID   string    `json:"job_id"`
	Account string    `json:"account"`
	Units   int       `json:"units"`
	Share   float64   `json:"share"`
	PaidAt  time.Time `json:"paid_at"`
}

// Transfer is an archived wallet transfer record
type Transfer struct {
	ID         int64     `json:"id"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	Amount     float64   `json:"amount"`
	ExecutedAt time.Time `json:"executed_at"`
}

// JobRepository handles retired-job archive operations
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// ArchiveJob records a retired job
func (r *JobRepository) ArchiveJob(ctx context.Context, job *RetiredJob) error {
	query := `
		INSERT INTO retired_jobs (job_id, size, difficulty, reward_per_unit, bonus_pool, status, contributors, created_at, retired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO NOTHING
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		job.JobID, job.Size, job.Difficulty, job.RewardPerUnit,
		job.BonusPool, job.Status, job.Contributors, job.CreatedAt, job.RetiredAt,
	).Scan(&job.ID)

	if err == sql.ErrNoRows {
		// Already archived; the reconcile pass can retire the same job twice
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to archive job: %w", err)
	}
	return nil
}

// PayoutRepository handles bonus payout archive operations
type PayoutRepository struct {
	db *sql.DB
}

// NewPayoutRepository creates a new payout repository
func NewPayoutRepository(db *sql.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// ArchivePayout records one bonus payout
func (r *PayoutRepository) ArchivePayout(ctx context.Context, payout *Payout) error {
	query := `
		INSERT INTO payouts (job_id, account, units, share, paid_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		payout.JobID, payout.Account, payout.Units, payout.Share, payout.PaidAt,
	).Scan(&payout.ID)

	if err != nil {
		return fmt.Errorf("failed to archive payout: %w", err)
	}
	return nil
}

// TransferRepository handles transfer archive operations
type TransferRepository struct {
	db *sql.DB
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// ArchiveTransfer records one executed transfer
func (r *TransferRepository) ArchiveTransfer(ctx context.Context, transfer *Transfer) error {
	query := `
		INSERT INTO transfers (sender, recipient, amount, executed_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		transfer.Sender, transfer.Recipient, transfer.Amount, transfer.ExecutedAt,
	).Scan(&transfer.ID)

	if err != nil {
		return fmt.Errorf("failed to archive transfer: %w", err)
	}
	return nil
}
