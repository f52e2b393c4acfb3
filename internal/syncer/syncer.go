// Package syncer credits proofs mined while a client was offline. Each proof
// is validated independently at its own claimed difficulty, malformed entries
// are skipped, replayed proofs are filtered against the per-account guard set,
// and the surviving rewards are credited in a single ledger transaction.
package syncer

import (
	"context"
	"fmt"

	"github.com/jefeCoincmd/jefe-coin/internal/ledger"
	"github.com/jefeCoincmd/jefe-coin/internal/pow"
	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/pkg/errors"
	"github.com/jefeCoincmd/jefe-coin/pkg/log"
)

// Proof is one offline-mined solution submitted for crediting.
type Proof struct {
	Challenge  string `json:"challenge"`
	Nonce      int64  `json:"nonce"`
	Digest     string `json:"digest"`
	Difficulty int    `json:"difficulty"`
}

// Result reports the outcome of one sync batch.
type Result struct {
	Total      int     `json:"total_proofs"`
	Valid      int     `json:"valid_proofs"`
	Credited   float64 `json:"credited"`
	NewBalance float64 `json:"new_balance"`
}

// Syncer reconciles offline mining batches against the ledger.
type Syncer struct {
	accounts store.AccountStore
	ledger   *ledger.Ledger
	logger   *log.Logger
}

// New creates a syncer.
func New(accounts store.AccountStore, led *ledger.Ledger, logger *log.Logger) *Syncer {
	return &Syncer{
		accounts: accounts,
		ledger:   led,
		logger:   logger.WithComponent("syncer"),
	}
}

// Sync validates a batch of offline proofs and credits the account once with
// the accumulated reward. Offline proofs are always solo puzzles, never claims
// against a shared job, so rewards use the solo formula at each proof's own
// difficulty. Partial success is the policy: malformed or invalid entries are
// skipped, the rest are credited.
func (s *Syncer) Sync(ctx context.Context, account string, proofs []Proof) (*Result, error) {
	if account == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "sync", "account name is required")
	}

	result := &Result{Total: len(proofs)}

	// key -> reward for every proof that passes validation
	rewards := make(map[string]float64)
	keys := make([]string, 0, len(proofs))
	for _, proof := range proofs {
		if proof.Challenge == "" || proof.Digest == "" || proof.Difficulty <= 0 {
			continue
		}
		if !pow.Verify(proof.Challenge, proof.Nonce, proof.Digest, proof.Difficulty) {
			continue
		}
		result.Valid++

		key := fmt.Sprintf("%s:%d", proof.Challenge, proof.Nonce)
		if _, dup := rewards[key]; dup {
			// Same proof repeated within one batch counts once
			continue
		}
		rewards[key] = pow.SoloReward(proof.Difficulty)
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		acct, err := s.ledger.Account(ctx, account)
		if err != nil {
			return nil, err
		}
		result.NewBalance = acct.Balance
		return result, nil
	}

	// Replay guard: proofs credited by an earlier sync are dropped here, so a
	// client that crashed before clearing its local proof file cannot be
	// credited twice.
	fresh, err := s.accounts.FilterNewProofs(ctx, account, keys)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errors.New(errors.ErrorTypeNotFound, "sync", "account not found").
				WithContext("account", account)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "sync", "replay filter failed")
	}

	var total float64
	for _, key := range fresh {
		total += rewards[key]
	}

	if total == 0 {
		acct, err := s.ledger.Account(ctx, account)
		if err != nil {
			return nil, err
		}
		result.NewBalance = acct.Balance
		s.logger.LogSync(account, result.Valid, result.Total, 0)
		return result, nil
	}

	acct, err := s.ledger.Credit(ctx, account, total, ledger.KindSync,
		fmt.Sprintf("offline sync of %d proofs", len(fresh)))
	if err != nil {
		// Roll the guard marks back so the client can resubmit the batch;
		// leaving them would swallow the credit on retry.
		if ferr := s.accounts.ForgetProofs(ctx, account, fresh); ferr != nil {
			s.logger.WithError(ferr).Warn("failed to unmark proofs after credit failure", "account", account)
		}
		return nil, err
	}

	result.Credited = total
	result.NewBalance = acct.Balance
	s.logger.LogSync(account, result.Valid, result.Total, total)
	return result, nil
}
