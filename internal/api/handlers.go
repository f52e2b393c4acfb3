package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/archive"
	"github.com/jefeCoincmd/jefe-coin/internal/auth"
	"github.com/jefeCoincmd/jefe-coin/internal/jobpool"
	"github.com/jefeCoincmd/jefe-coin/internal/ledger"
	"github.com/jefeCoincmd/jefe-coin/internal/pow"
	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/pkg/errors"
)

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "JEFE COIN API is running!",
		"status":  "online",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "disconnected",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": "connected",
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	acct, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, userResponse{
		Username:      acct.Name,
		WalletAddress: acct.Address,
		Balance:       acct.Balance,
		TotalMined:    acct.TotalMined,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, acct, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, loginResponse{
		Token:         token,
		Username:      acct.Name,
		WalletAddress: acct.Address,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), bearerToken(r)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Account(r.Context(), accountFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, userResponse{
		Username:      acct.Name,
		WalletAddress: acct.Address,
		Balance:       acct.Balance,
		TotalMined:    acct.TotalMined,
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Activity(r.Context(), accountFrom(r), s.cfg.ActivityLogSize)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []store.Activity{}
	}
	s.writeJSON(w, http.StatusOK, activityResponse{Activity: entries})
}

// handleMine runs a server-side solo puzzle within the configured budget and
// credits the reward plus a speed bonus on success. A miss is a valid outcome,
// not an error.
func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)
	difficulty := s.cfg.SoloDifficulty

	challenge, err := pow.NewChallenge()
	if err != nil {
		s.writeError(w, errors.Wrap(err, errors.ErrorTypeInternal, "solo_mine", "failed to generate challenge"))
		return
	}

	solution, found := pow.Search(r.Context(), challenge, difficulty, s.cfg.SoloBudget)
	if !found {
		s.writeJSON(w, http.StatusOK, miningResult{
			Success:    false,
			Difficulty: difficulty,
		})
		return
	}

	reward := pow.SoloReward(difficulty) + pow.TimeBonus(solution.Elapsed)
	acct, err := s.ledger.Credit(r.Context(), account, reward, ledger.KindMining, "solo puzzle solved")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.WriteRewardMetric(account, ledger.KindMining, reward)
	}

	s.writeJSON(w, http.StatusOK, miningResult{
		Success:     true,
		CoinsEarned: reward,
		HashFound:   solution.Digest,
		Difficulty:  difficulty,
		NewBalance:  acct.Balance,
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !auth.ValidAddress(req.RecipientWalletAddress) {
		s.writeError(w, errors.New(errors.ErrorTypeValidation, "api_transfer", "invalid recipient wallet address"))
		return
	}

	result, err := s.ledger.Transfer(r.Context(), accountFrom(r), req.RecipientWalletAddress, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if s.events != nil {
		s.events.TransferExecuted(result.From, result.To, result.Amount)
	}
	if s.metrics != nil {
		s.metrics.WriteTransferMetric(result.From, result.To, result.Amount)
	}
	if s.transfers != nil {
		// Fire-and-forget, same as the job archive: an unreachable archive
		// never stalls or fails the transfer itself.
		record := archive.Transfer{
			Sender:     result.From,
			Recipient:  result.To,
			Amount:     result.Amount,
			ExecutedAt: time.Now().UTC(),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.transfers.ArchiveTransfer(ctx, &record); err != nil {
				s.logger.WithError(err).Warn("failed to archive transfer", "sender", record.Sender)
			}
		}()
	}

	s.writeJSON(w, http.StatusOK, transferResponse{
		Message:           "Transfer successful",
		SenderNewBalance:  result.NewBalance,
		RecipientUsername: result.To,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !s.decode(w, r, &req) {
		return
	}

	account := accountFrom(r)
	result, err := s.syncer.Sync(r.Context(), account, req.Proofs)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if s.events != nil {
		s.events.SyncCompleted(account, result.Total, result.Valid, result.Credited)
	}
	if s.metrics != nil {
		s.metrics.WriteSyncMetric(account, result.Total, result.Valid, result.Credited)
	}

	s.writeJSON(w, http.StatusOK, syncResponse{
		Message:          fmt.Sprintf("Sync successful. Validated %d of %d proofs.", result.Valid, result.Total),
		TotalCoinsSynced: result.Credited,
		ValidProofs:      result.Valid,
		TotalProofs:      result.Total,
		NewBalance:       result.NewBalance,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	listings, err := s.pool.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	jobs := make([]jobResponse, 0, len(listings))
	for _, listing := range listings {
		jobs = append(jobs, toJobResponse(listing, true))
	}
	s.writeJSON(w, http.StatusOK, jobListResponse{Jobs: jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, contrib, err := s.pool.Job(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	claimed := 0
	for _, units := range contrib {
		claimed += units
	}

	resp := jobDetailResponse{
		jobResponse: jobResponse{
			JobID:         job.ID,
			Size:          job.Size,
			Difficulty:    job.Difficulty,
			RewardPerUnit: job.RewardPerUnit,
			BonusPool:     job.BonusPool,
			Status:        string(job.Status),
			Remaining:     job.Size - claimed,
			ExpiresAt:     job.ExpiresAt,
			CreatedAt:     job.CreatedAt,
		},
		Contributions: contrib,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}

	account := accountFrom(r)
	jobID := r.PathValue("id")

	result, err := s.pool.Claim(r.Context(), account, jobID, req.Challenge, req.Nonce, req.Digest)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if s.metrics != nil && result.Outcome != jobpool.OutcomeAccepted {
		s.metrics.WriteClaimMetric(account, jobID, string(result.Outcome), 0, 0)
	}

	status := http.StatusOK
	switch result.Outcome {
	case jobpool.OutcomeInvalidProof:
		status = http.StatusBadRequest
	case jobpool.OutcomeAlreadyClaimed, jobpool.OutcomeJobNotActive:
		status = http.StatusConflict
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Top(r.Context(), leaderboardLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []store.RankEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.TotalStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	listings, err := s.store.ListActive(r.Context())
	if err != nil {
		s.writeError(w, errors.Wrap(err, errors.ErrorTypeDatabase, "stats", "failed to count active jobs"))
		return
	}

	if s.metrics != nil {
		s.metrics.WriteEconomySnapshot(len(listings), stats.Accounts, stats.Circulating)
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		TotalUsers:     stats.Accounts,
		TotalJefeMined: stats.Circulating,
		ActiveJobs:     len(listings),
	})
}
