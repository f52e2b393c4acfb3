// Package jobpool implements the cooperative mining job pool: the claim path
// that settles races over shared challenges, the reconcile pass that retires
// finished or stale jobs and replenishes the pool, and the bonus distribution
// that runs exactly once when a job completes.
package jobpool

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"sort"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/config"
	"github.com/jefeCoincmd/jefe-coin/internal/ledger"
	"github.com/jefeCoincmd/jefe-coin/internal/pow"
	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/pkg/errors"
	"github.com/jefeCoincmd/jefe-coin/pkg/log"
)

// maxIDAttempts bounds job identifier regeneration on collision.
const maxIDAttempts = 5

// Outcome classifies a claim attempt.
type Outcome string

const (
	OutcomeAccepted       Outcome = "accepted"
	OutcomeInvalidProof   Outcome = "invalid_proof"
	OutcomeAlreadyClaimed Outcome = "already_claimed"
	OutcomeJobNotActive   Outcome = "job_not_active"
)

// ClaimResult reports the outcome of one claim attempt. Reward, NewBalance,
// and Remaining are meaningful only when the outcome is accepted.
type ClaimResult struct {
	Outcome      Outcome `json:"outcome"`
	Reward       float64 `json:"reward,omitempty"`
	NewBalance   float64 `json:"new_balance,omitempty"`
	Remaining    int     `json:"remaining,omitempty"`
	JobCompleted bool    `json:"job_completed,omitempty"`
}

// Sink receives pool lifecycle events. Implementations must not block the
// claim path; fire-and-forget delivery is expected.
type Sink interface {
	JobCreated(job *store.Job)
	JobRetired(job *store.Job, contributors int)
	ClaimRecorded(account string, job *store.Job, remaining int, reward float64)
	BonusPaid(jobID, account string, units int, share float64)
}

type nopSink struct{}

func (nopSink) JobCreated(*store.Job)                          {}
func (nopSink) JobRetired(*store.Job, int)                     {}
func (nopSink) ClaimRecorded(string, *store.Job, int, float64) {}
func (nopSink) BonusPaid(string, string, int, float64)         {}

// Manager owns the active job pool.
type Manager struct {
	jobs   store.JobStore
	ledger *ledger.Ledger
	cfg    *config.Config
	logger *log.Logger
	sink   Sink
}

// New creates a job pool manager. A nil sink disables event publication.
func New(jobs store.JobStore, led *ledger.Ledger, cfg *config.Config, logger *log.Logger, sink Sink) *Manager {
	if sink == nil {
		sink = nopSink{}
	}
	return &Manager{
		jobs:   jobs,
		ledger: led,
		cfg:    cfg,
		logger: logger.WithComponent("jobpool"),
		sink:   sink,
	}
}

// Claim settles one proof submission against a job's unclaimed-work set.
// The proof is verified before the exclusive claim is attempted, so invalid
// submissions never consume the atomic step. Exactly one of two racing valid
// proofs for the same challenge wins; the loser sees already_claimed.
func (m *Manager) Claim(ctx context.Context, account, jobID, challenge string, nonce int64, digest string) (*ClaimResult, error) {
	if account == "" || jobID == "" || challenge == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "pool_claim", "account, job id, and challenge are required")
	}

	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errors.New(errors.ErrorTypeNotFound, "pool_claim", "job not found").
				WithContext("job_id", jobID)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "pool_claim", "failed to load job")
	}
	if job.Status != store.JobActive || time.Now().After(job.ExpiresAt) {
		m.logger.LogClaim(account, jobID, challenge, string(OutcomeJobNotActive))
		return &ClaimResult{Outcome: OutcomeJobNotActive}, nil
	}

	if !pow.Verify(challenge, nonce, digest, job.Difficulty) {
		m.logger.LogClaim(account, jobID, challenge, string(OutcomeInvalidProof))
		return &ClaimResult{Outcome: OutcomeInvalidProof}, nil
	}

	// The store commits the challenge removal, contribution increment, and
	// reward credit as one unit, so a failure cannot strand a consumed
	// challenge without its payout.
	credit := store.Activity{
		Kind:   ledger.KindMining,
		Amount: job.RewardPerUnit,
		Note:   fmt.Sprintf("claimed unit on job %s", jobID),
		At:     time.Now(),
	}
	remaining, newBalance, err := m.jobs.Claim(ctx, jobID, challenge, account, credit)
	if err != nil {
		switch err {
		case store.ErrAlreadyClaimed:
			m.logger.LogClaim(account, jobID, challenge, string(OutcomeAlreadyClaimed))
			return &ClaimResult{Outcome: OutcomeAlreadyClaimed}, nil
		case store.ErrNotActive:
			m.logger.LogClaim(account, jobID, challenge, string(OutcomeJobNotActive))
			return &ClaimResult{Outcome: OutcomeJobNotActive}, nil
		case store.ErrNotFound:
			return nil, errors.New(errors.ErrorTypeNotFound, "pool_claim", "job or account not found").
				WithContext("job_id", jobID)
		default:
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "pool_claim", "claim failed")
		}
	}

	m.logger.LogClaim(account, jobID, challenge, string(OutcomeAccepted))
	m.sink.ClaimRecorded(account, job, remaining, job.RewardPerUnit)

	result := &ClaimResult{
		Outcome:    OutcomeAccepted,
		Reward:     job.RewardPerUnit,
		NewBalance: newBalance,
		Remaining:  remaining,
	}

	if remaining == 0 {
		result.JobCompleted = m.complete(ctx, job)
	}
	return result, nil
}

// complete transitions a drained job to completed and distributes its bonus.
// The CAS transition guarantees the payout runs at most once even when the
// final claim and a concurrent reconcile pass race.
func (m *Manager) complete(ctx context.Context, job *store.Job) bool {
	won, err := m.jobs.CompleteJob(ctx, job.ID)
	if err != nil {
		m.logger.WithError(err).WithJob(job.ID, job.Difficulty).Error("failed to complete job")
		return false
	}
	if !won {
		return false
	}

	contrib, err := m.jobs.Contributions(ctx, job.ID)
	if err != nil {
		m.logger.WithError(err).WithJob(job.ID, job.Difficulty).Error("failed to read contributions")
		return true
	}

	m.distribute(ctx, job, contrib)
	m.logger.LogJobRetired(job.ID, string(store.JobCompleted), len(contrib))
	retired := *job
	retired.Status = store.JobCompleted
	m.sink.JobRetired(&retired, len(contrib))
	return true
}

// distribute pays each contributor its proportional share of the job's bonus
// pool. Shares are fractional; the residual against the pool is logged, never
// redistributed.
func (m *Manager) distribute(ctx context.Context, job *store.Job, contrib map[string]int) {
	total := 0
	for _, units := range contrib {
		total += units
	}
	if total == 0 || job.BonusPool <= 0 {
		return
	}

	names := make([]string, 0, len(contrib))
	for name := range contrib {
		names = append(names, name)
	}
	sort.Strings(names)

	paid := 0.0
	for _, name := range names {
		units := contrib[name]
		share := job.BonusPool * float64(units) / float64(total)
		if share <= 0 {
			continue
		}
		if _, err := m.ledger.Credit(ctx, name, share, ledger.KindBonus,
			fmt.Sprintf("completion bonus for job %s", job.ID)); err != nil {
			m.logger.WithError(err).WithAccount(name).WithJob(job.ID, job.Difficulty).
				Error("failed to pay bonus share")
			continue
		}
		paid += share
		m.logger.LogBonusPayout(job.ID, name, units, share)
		m.sink.BonusPaid(job.ID, name, units, share)
	}

	m.logger.WithJob(job.ID, job.Difficulty).WithFields(
		"bonus_pool", job.BonusPool,
		"paid", paid,
		"residual", job.BonusPool-paid,
	).Debug("bonus distributed")
}

// Reconcile retires drained and expired jobs, then replenishes the pool up to
// the configured target. It runs before every listing and is safe to run
// concurrently: all transitions go through the CAS primitives.
func (m *Manager) Reconcile(ctx context.Context) error {
	listings, err := m.jobs.ListActive(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "pool_reconcile", "failed to list active jobs")
	}

	now := time.Now()
	active := 0
	for _, listing := range listings {
		job := listing.Job
		switch {
		case len(listing.Unclaimed) == 0:
			// Covers a crash between the final claim and the status write
			m.complete(ctx, &job)
		case now.After(job.ExpiresAt):
			won, err := m.jobs.ExpireJob(ctx, job.ID)
			if err != nil {
				m.logger.WithError(err).WithJob(job.ID, job.Difficulty).Error("failed to expire job")
				continue
			}
			if won {
				contrib, _ := m.jobs.Contributions(ctx, job.ID)
				m.logger.LogJobRetired(job.ID, string(store.JobExpired), len(contrib))
				retired := job
				retired.Status = store.JobExpired
				m.sink.JobRetired(&retired, len(contrib))
				// Nothing will claim against or pay out an expired job, so
				// its record and work set can go immediately.
				if err := m.jobs.RemoveJob(ctx, job.ID); err != nil {
					m.logger.WithError(err).WithJob(job.ID, job.Difficulty).Warn("failed to remove expired job")
				}
			}
		default:
			active++
		}
	}

	for active < m.cfg.TargetActiveJobs {
		if err := m.synthesize(ctx); err != nil {
			return err
		}
		active++
	}
	return nil
}

// List runs a reconcile pass and returns the active jobs with their remaining
// unclaimed challenges.
func (m *Manager) List(ctx context.Context) ([]*store.JobListing, error) {
	if err := m.Reconcile(ctx); err != nil {
		return nil, err
	}

	listings, err := m.jobs.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "pool_list", "failed to list active jobs")
	}
	sort.Slice(listings, func(i, j int) bool {
		return listings[i].Job.ID < listings[j].Job.ID
	})
	return listings, nil
}

// Job fetches one job with its contribution map, for status queries.
func (m *Manager) Job(ctx context.Context, jobID string) (*store.Job, map[string]int, error) {
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil, errors.New(errors.ErrorTypeNotFound, "pool_job", "job not found").
				WithContext("job_id", jobID)
		}
		return nil, nil, errors.Wrap(err, errors.ErrorTypeDatabase, "pool_job", "failed to load job")
	}
	contrib, err := m.jobs.Contributions(ctx, jobID)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeDatabase, "pool_job", "failed to read contributions")
	}
	return job, contrib, nil
}

// synthesize creates one new job: size and difficulty drawn from the
// configured tiers, N distinct challenges, expiry at now + TTL. Creation is a
// single commit; identifier collisions trigger regeneration.
func (m *Manager) synthesize(ctx context.Context) error {
	size := m.cfg.JobSizeTiers[mrand.Intn(len(m.cfg.JobSizeTiers))]
	difficulty := m.cfg.JobDifficulties[mrand.Intn(len(m.cfg.JobDifficulties))]

	challenges := make([]string, 0, size)
	seen := make(map[string]struct{}, size)
	for len(challenges) < size {
		c, err := pow.NewChallenge()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "pool_synthesize", "failed to generate challenge")
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		challenges = append(challenges, c)
	}

	now := time.Now().UTC()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := newJobID()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "pool_synthesize", "failed to generate job id")
		}

		job := &store.Job{
			ID:            id,
			Size:          size,
			Difficulty:    difficulty,
			RewardPerUnit: m.cfg.RewardPerUnit(size),
			BonusPool:     m.cfg.BonusFor(size),
			Status:        store.JobActive,
			CreatedAt:     now,
			ExpiresAt:     now.Add(m.cfg.JobTTL),
		}

		err = m.jobs.InsertJob(ctx, job, challenges)
		if err == store.ErrAlreadyExists {
			continue
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "pool_synthesize", "failed to insert job")
		}

		m.logger.LogJobCreated(job.ID, size, difficulty, job.RewardPerUnit)
		m.sink.JobCreated(job)
		return nil
	}
	return errors.New(errors.ErrorTypeInternal, "pool_synthesize", "job id collisions exhausted retries")
}

func newJobID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "job-" + hex.EncodeToString(buf), nil
}
