package syncer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/ledger"
	"github.com/jefeCoincmd/jefe-coin/internal/pow"
	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/internal/store/memory"
	"github.com/jefeCoincmd/jefe-coin/pkg/errors"
	"github.com/jefeCoincmd/jefe-coin/pkg/log"
)

func newTestSyncer(t *testing.T) (*Syncer, *memory.Store) {
	t.Helper()
	st := memory.New(25, time.Hour)
	logger := log.New("syncer-test", "test", "error", "json")
	return New(st, ledger.New(st, logger), logger), st
}

func seedAccount(t *testing.T, st *memory.Store, name string) {
	t.Helper()
	err := st.CreateAccount(context.Background(), &store.Account{
		Name:      name,
		Address:   "jefe1" + name,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s) error = %v", name, err)
	}
}

func mineProof(t *testing.T, challenge string, difficulty int) Proof {
	t.Helper()
	sol, ok := pow.Search(context.Background(), challenge, difficulty, 30*time.Second)
	if !ok {
		t.Fatalf("failed to mine difficulty-%d solution for %s", difficulty, challenge)
	}
	return Proof{Challenge: challenge, Nonce: sol.Nonce, Digest: sol.Digest, Difficulty: difficulty}
}

func TestSyncCreditsValidProofsOnce(t *testing.T) {
	s, st := newTestSyncer(t)
	ctx := context.Background()
	seedAccount(t, st, "alice")

	proofs := []Proof{
		mineProof(t, "offline-a", 1),
		mineProof(t, "offline-b", 2),
	}

	result, err := s.Sync(ctx, "alice", proofs)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.Total != 2 || result.Valid != 2 {
		t.Errorf("counts = %d/%d, want valid 2 of total 2", result.Valid, result.Total)
	}

	want := pow.SoloReward(1) + pow.SoloReward(2)
	if math.Abs(result.Credited-want) > 1e-12 {
		t.Errorf("Credited = %v, want %v", result.Credited, want)
	}
	if math.Abs(result.NewBalance-want) > 1e-12 {
		t.Errorf("NewBalance = %v, want %v", result.NewBalance, want)
	}

	// One ledger transaction, not one per proof
	entries, _ := st.Activity(ctx, "alice", 10)
	if len(entries) != 1 || entries[0].Kind != ledger.KindSync {
		t.Errorf("activity = %+v, want a single sync entry", entries)
	}

	acct, _ := st.GetAccount(ctx, "alice")
	if math.Abs(acct.TotalMined-want) > 1e-12 {
		t.Errorf("TotalMined = %v, want %v", acct.TotalMined, want)
	}
}

func TestSyncSkipsMalformedAndInvalid(t *testing.T) {
	s, st := newTestSyncer(t)
	ctx := context.Background()
	seedAccount(t, st, "alice")

	good := mineProof(t, "offline-c", 1)
	proofs := []Proof{
		{Challenge: "", Nonce: 1, Digest: "00aa", Difficulty: 1},        // missing challenge
		{Challenge: "x", Nonce: 1, Digest: "", Difficulty: 1},           // missing digest
		{Challenge: "x", Nonce: 1, Digest: "00aa", Difficulty: 0},       // missing difficulty
		{Challenge: "x", Nonce: 1, Digest: "deadbeef", Difficulty: 1},   // wrong digest
		good,
	}

	result, err := s.Sync(ctx, "alice", proofs)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.Total != 5 || result.Valid != 1 {
		t.Errorf("counts = %d/%d, want valid 1 of total 5", result.Valid, result.Total)
	}
	if math.Abs(result.Credited-pow.SoloReward(1)) > 1e-12 {
		t.Errorf("Credited = %v, want %v", result.Credited, pow.SoloReward(1))
	}
}

func TestSyncRejectsReplayedProofs(t *testing.T) {
	s, st := newTestSyncer(t)
	ctx := context.Background()
	seedAccount(t, st, "alice")

	proof := mineProof(t, "offline-d", 1)

	first, err := s.Sync(ctx, "alice", []Proof{proof})
	if err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}
	if first.Credited == 0 {
		t.Fatal("first sync credited nothing")
	}

	second, err := s.Sync(ctx, "alice", []Proof{proof})
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}
	if second.Credited != 0 {
		t.Errorf("replayed sync credited %v, want 0", second.Credited)
	}
	if second.NewBalance != first.NewBalance {
		t.Errorf("balance changed on replay: %v -> %v", first.NewBalance, second.NewBalance)
	}
}

func TestSyncDuplicateWithinBatchCountsOnce(t *testing.T) {
	s, st := newTestSyncer(t)
	seedAccount(t, st, "alice")

	proof := mineProof(t, "offline-e", 1)
	result, err := s.Sync(context.Background(), "alice", []Proof{proof, proof, proof})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if math.Abs(result.Credited-pow.SoloReward(1)) > 1e-12 {
		t.Errorf("Credited = %v, want single reward %v", result.Credited, pow.SoloReward(1))
	}
}

func TestSyncEmptyBatch(t *testing.T) {
	s, st := newTestSyncer(t)
	seedAccount(t, st, "alice")

	result, err := s.Sync(context.Background(), "alice", nil)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.Total != 0 || result.Valid != 0 || result.Credited != 0 {
		t.Errorf("result = %+v, want all-zero", result)
	}
}

// conflictingAccounts fails a bounded number of account updates, simulating
// a store that loses its optimistic transaction under contention.
type conflictingAccounts struct {
	*memory.Store
	failuresLeft int
}

func (c *conflictingAccounts) UpdateAccount(ctx context.Context, name string, fn func(tx *store.AccountTx) error) (*store.Account, error) {
	if c.failuresLeft > 0 {
		c.failuresLeft--
		return nil, store.ErrConflict
	}
	return c.Store.UpdateAccount(ctx, name, fn)
}

func TestSyncFailedCreditAllowsResubmission(t *testing.T) {
	st := memory.New(25, time.Hour)
	accounts := &conflictingAccounts{Store: st, failuresLeft: 1}
	logger := log.New("syncer-test", "test", "error", "json")
	s := New(accounts, ledger.New(accounts, logger), logger)
	ctx := context.Background()
	seedAccount(t, st, "alice")

	proof := mineProof(t, "offline-g", 1)

	if _, err := s.Sync(ctx, "alice", []Proof{proof}); err == nil {
		t.Fatal("Sync() succeeded despite the credit failing")
	}

	// The failed batch must not be treated as already credited on retry
	result, err := s.Sync(ctx, "alice", []Proof{proof})
	if err != nil {
		t.Fatalf("resubmitted Sync() error = %v", err)
	}
	if math.Abs(result.Credited-pow.SoloReward(1)) > 1e-12 {
		t.Errorf("resubmitted Credited = %v, want %v", result.Credited, pow.SoloReward(1))
	}

	acct, _ := st.GetAccount(ctx, "alice")
	if math.Abs(acct.Balance-pow.SoloReward(1)) > 1e-12 {
		t.Errorf("balance = %v, want %v", acct.Balance, pow.SoloReward(1))
	}
}

func TestSyncUnknownAccount(t *testing.T) {
	s, _ := newTestSyncer(t)
	proof := mineProof(t, "offline-f", 1)

	_, err := s.Sync(context.Background(), "ghost", []Proof{proof})
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		t.Errorf("Sync() error = %v, want not_found", err)
	}
}
