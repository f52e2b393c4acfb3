package api

import (
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/internal/syncer"
)

// Request payloads

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type transferRequest struct {
	RecipientWalletAddress string  `json:"recipient_wallet_address"`
	Amount                 float64 `json:"amount"`
}

type syncRequest struct {
	Proofs []syncer.Proof `json:"proofs"`
}

type claimRequest struct {
	Challenge string `json:"challenge"`
	Nonce     int64  `json:"nonce"`
	Digest    string `json:"digest"`
}

// Response payloads

type userResponse struct {
	Username      string  `json:"username"`
	WalletAddress string  `json:"wallet_address"`
	Balance       float64 `json:"balance"`
	TotalMined    float64 `json:"total_mined"`
}

type loginResponse struct {
	Token         string `json:"token"`
	Username      string `json:"username"`
	WalletAddress string `json:"wallet_address"`
}

type miningResult struct {
	Success     bool    `json:"success"`
	CoinsEarned float64 `json:"coins_earned"`
	HashFound   string  `json:"hash_found"`
	Difficulty  int     `json:"difficulty"`
	NewBalance  float64 `json:"new_balance,omitempty"`
}

type transferResponse struct {
	Message          string  `json:"message"`
	SenderNewBalance float64 `json:"sender_new_balance"`
	RecipientUsername string `json:"recipient_username"`
}

type syncResponse struct {
	Message          string  `json:"message"`
	TotalCoinsSynced float64 `json:"total_coins_synced"`
	ValidProofs      int     `json:"valid_proofs"`
	TotalProofs      int     `json:"total_proofs"`
	NewBalance       float64 `json:"new_balance"`
}

type jobResponse struct {
	JobID         string    `json:"job_id"`
	Size          int       `json:"size"`
	Difficulty    int       `json:"difficulty"`
	RewardPerUnit float64   `json:"reward_per_unit"`
	BonusPool     float64   `json:"bonus_pool"`
	Status        string    `json:"status"`
	Unclaimed     []string  `json:"unclaimed_challenges,omitempty"`
	Remaining     int       `json:"remaining"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

type jobListResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

type jobDetailResponse struct {
	jobResponse
	Contributions map[string]int `json:"contributions"`
}

type statsResponse struct {
	TotalUsers     int64   `json:"total_users"`
	TotalJefeMined float64 `json:"total_jefe_mined"`
	ActiveJobs     int     `json:"active_jobs"`
}

type activityResponse struct {
	Activity []store.Activity `json:"activity"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Type   string `json:"type,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toJobResponse(listing *store.JobListing, includeChallenges bool) jobResponse {
	resp := jobResponse{
		JobID:         listing.Job.ID,
		Size:          listing.Job.Size,
		Difficulty:    listing.Job.Difficulty,
		RewardPerUnit: listing.Job.RewardPerUnit,
		BonusPool:     listing.Job.BonusPool,
		Status:        string(listing.Job.Status),
		Remaining:     len(listing.Unclaimed),
		ExpiresAt:     listing.Job.ExpiresAt,
		CreatedAt:     listing.Job.CreatedAt,
	}
	if includeChallenges {
		resp.Unclaimed = listing.Unclaimed
	}
	return resp
}
