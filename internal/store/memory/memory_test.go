package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/store"
)

func newTestStore() *Store {
	return New(5, time.Hour)
}

func seedAccount(t *testing.T, s *Store, name string, balance float64) {
	t.Helper()
	err := s.CreateAccount(context.Background(), &store.Account{
		Name:      name,
		Address:   "addr-" + name,
		Balance:   balance,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", name, err)
	}
}

func seedJob(t *testing.T, s *Store, id string, challenges []string) {
	t.Helper()
	err := s.InsertJob(context.Background(), &store.Job{
		ID:        id,
		Size:      len(challenges),
		Status:    store.JobActive,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}, challenges)
	if err != nil {
		t.Fatalf("InsertJob(%s): %v", id, err)
	}
}

func TestCreateAccount_Duplicates(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedAccount(t, s, "alice", 0)

	err := s.CreateAccount(ctx, &store.Account{Name: "alice", Address: "other"})
	if err != store.ErrAlreadyExists {
		t.Errorf("duplicate name: err = %v, want ErrAlreadyExists", err)
	}

	err = s.CreateAccount(ctx, &store.Account{Name: "bob", Address: "addr-alice"})
	if err != store.ErrAlreadyExists {
		t.Errorf("duplicate address: err = %v, want ErrAlreadyExists", err)
	}
}

func TestUpdateAccount_CommitsBalanceAndActivity(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedAccount(t, s, "alice", 1)

	updated, err := s.UpdateAccount(ctx, "alice", func(tx *store.AccountTx) error {
		tx.Account.Balance += 2
		tx.Account.TotalMined += 2
		tx.Log("mine", 2, "claim reward")
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	if updated.Balance != 3 {
		t.Errorf("balance = %v, want 3", updated.Balance)
	}

	activity, err := s.Activity(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	if len(activity) != 1 || activity[0].Kind != "mine" || activity[0].Amount != 2 {
		t.Errorf("unexpected activity: %+v", activity)
	}
}

func TestUpdateAccount_ErrorAborts(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedAccount(t, s, "alice", 5)

	_, err := s.UpdateAccount(ctx, "alice", func(tx *store.AccountTx) error {
		tx.Account.Balance = 99
		tx.Log("mine", 94, "should not persist")
		return fmt.Errorf("abort")
	})
	if err == nil {
		t.Fatal("expected error from fn to surface")
	}

	acct, _ := s.GetAccount(ctx, "alice")
	if acct.Balance != 5 {
		t.Errorf("aborted update leaked: balance = %v, want 5", acct.Balance)
	}
	activity, _ := s.Activity(ctx, "alice", 10)
	if len(activity) != 0 {
		t.Errorf("aborted update leaked activity: %+v", activity)
	}
}

func TestUpdateAccount_ConcurrentIncrements(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedAccount(t, s, "alice", 0)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpdateAccount(ctx, "alice", func(tx *store.AccountTx) error {
				tx.Account.Balance += 1
				return nil
			})
		}()
	}
	wg.Wait()

	acct, _ := s.GetAccount(ctx, "alice")
	if acct.Balance != n {
		t.Errorf("lost updates: balance = %v, want %d", acct.Balance, n)
	}
}

func TestUpdateAccounts_PairCommit(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedAccount(t, s, "alice", 10)
	seedAccount(t, s, "bob", 0)

	err := s.UpdateAccounts(ctx, "alice", "bob", func(a, b *store.AccountTx) error {
		a.Account.Balance -= 4
		b.Account.Balance += 4
		a.Log("transfer_out", -4, "to bob")
		b.Log("transfer_in", 4, "from alice")
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateAccounts: %v", err)
	}

	alice, _ := s.GetAccount(ctx, "alice")
	bob, _ := s.GetAccount(ctx, "bob")
	if alice.Balance != 6 || bob.Balance != 4 {
		t.Errorf("balances = %v/%v, want 6/4", alice.Balance, bob.Balance)
	}
}

func TestUpdateAccounts_NoDeadlockOnOpposingPairs(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedAccount(t, s, "alice", 1000)
	seedAccount(t, s, "bob", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.UpdateAccounts(ctx, "alice", "bob", func(a, b *store.AccountTx) error {
				a.Account.Balance -= 1
				b.Account.Balance += 1
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = s.UpdateAccounts(ctx, "bob", "alice", func(b, a *store.AccountTx) error {
				b.Account.Balance -= 1
				a.Account.Balance += 1
				return nil
			})
		}()
	}
	wg.Wait()

	alice, _ := s.GetAccount(ctx, "alice")
	bob, _ := s.GetAccount(ctx, "bob")
	if alice.Balance+bob.Balance != 2000 {
		t.Errorf("conservation violated: %v + %v != 2000", alice.Balance, bob.Balance)
	}
}

func TestActivity_BoundedEviction(t *testing.T) {
	s := New(3, time.Hour)
	ctx := context.Background()
	seedAccount(t, s, "alice", 0)

	for i := 1; i <= 5; i++ {
		amount := float64(i)
		_, err := s.UpdateAccount(ctx, "alice", func(tx *store.AccountTx) error {
			tx.Log("mine", amount, "entry")
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	activity, _ := s.Activity(ctx, "alice", 10)
	if len(activity) != 3 {
		t.Fatalf("log length = %d, want 3", len(activity))
	}
	// Newest first; oldest entries evicted
	if activity[0].Amount != 5 || activity[2].Amount != 3 {
		t.Errorf("unexpected ring order: %+v", activity)
	}
}

func TestClaim_ExactlyOnce(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedJob(t, s, "job1", []string{"c1", "c2"})

	const n = 32
	for i := 0; i < n; i++ {
		seedAccount(t, s, fmt.Sprintf("acct-%d", i), 0)
	}

	credit := store.Activity{Kind: "mining", Amount: 0.5, Note: "claimed unit", At: time.Now()}
	var wg sync.WaitGroup
	accepted := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			remaining, _, err := s.Claim(ctx, "job1", "c1", fmt.Sprintf("acct-%d", i), credit)
			if err == nil {
				accepted <- remaining
			} else if err != store.ErrAlreadyClaimed {
				t.Errorf("unexpected claim error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(accepted)

	wins := 0
	for remaining := range accepted {
		wins++
		if remaining != 1 {
			t.Errorf("remaining = %d, want 1", remaining)
		}
	}
	if wins != 1 {
		t.Errorf("claims accepted = %d, want exactly 1", wins)
	}

	contrib, _ := s.Contributions(ctx, "job1")
	total := 0
	for _, c := range contrib {
		total += c
	}
	if total != 1 {
		t.Errorf("contribution total = %d, want 1", total)
	}

	// Exactly one account carries the reward
	var credited float64
	for i := 0; i < n; i++ {
		acct, err := s.GetAccount(ctx, fmt.Sprintf("acct-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		credited += acct.Balance
	}
	if credited != credit.Amount {
		t.Errorf("total credited = %v, want %v", credited, credit.Amount)
	}
}

func TestClaim_CreditCommitsWithClaim(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedJob(t, s, "job1", []string{"c1"})
	seedAccount(t, s, "alice", 1)

	credit := store.Activity{Kind: "mining", Amount: 0.25, Note: "claimed unit on job job1", At: time.Now()}
	remaining, balance, err := s.Claim(ctx, "job1", "c1", "alice", credit)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if balance != 1.25 {
		t.Errorf("balance = %v, want 1.25", balance)
	}

	acct, err := s.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 1.25 || acct.TotalMined != 0.25 {
		t.Errorf("account = %+v, want balance 1.25 and total mined 0.25", acct)
	}

	activity, err := s.Activity(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(activity) != 1 || activity[0].Kind != "mining" || activity[0].Amount != 0.25 {
		t.Errorf("activity = %+v, want the claim credit entry", activity)
	}
}

func TestClaim_UnknownAccountLeavesChallenge(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedJob(t, s, "job1", []string{"c1"})
	seedAccount(t, s, "alice", 0)

	credit := store.Activity{Kind: "mining", Amount: 0.5, Note: "claimed unit", At: time.Now()}
	if _, _, err := s.Claim(ctx, "job1", "c1", "ghost", credit); err != store.ErrNotFound {
		t.Fatalf("claim by unknown account: err = %v, want ErrNotFound", err)
	}

	// The failed attempt must not consume the challenge or record work
	contrib, _ := s.Contributions(ctx, "job1")
	if len(contrib) != 0 {
		t.Errorf("contributions after failed claim = %v, want none", contrib)
	}
	remaining, _, err := s.Claim(ctx, "job1", "c1", "alice", credit)
	if err != nil {
		t.Fatalf("claim after failed attempt: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}

func TestClaim_InactiveAndExpiredJobs(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedAccount(t, s, "alice", 0)
	credit := store.Activity{Kind: "mining", Amount: 0.5, Note: "claimed unit", At: time.Now()}

	seedJob(t, s, "done", []string{"c1"})
	if _, err := s.CompleteJob(ctx, "done"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Claim(ctx, "done", "c1", "alice", credit); err != store.ErrNotActive {
		t.Errorf("claim on completed job: err = %v, want ErrNotActive", err)
	}

	err := s.InsertJob(ctx, &store.Job{
		ID:        "stale",
		Status:    store.JobActive,
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}, []string{"c1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Claim(ctx, "stale", "c1", "alice", credit); err != store.ErrNotActive {
		t.Errorf("claim on stale job: err = %v, want ErrNotActive", err)
	}

	if _, _, err := s.Claim(ctx, "missing", "c1", "alice", credit); err != store.ErrNotFound {
		t.Errorf("claim on missing job: err = %v, want ErrNotFound", err)
	}
}

func TestCompleteJob_ExactlyOnceTransition(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedJob(t, s, "job1", []string{"c1"})

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.CompleteJob(ctx, "job1")
			if err != nil {
				t.Errorf("CompleteJob: %v", err)
				return
			}
			if won {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("transition winners = %d, want 1", winners)
	}

	// Terminal states are monotonic
	if won, _ := s.ExpireJob(ctx, "job1"); won {
		t.Error("completed job must not transition to expired")
	}
}

func TestInsertJob_CollisionPreserved(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedJob(t, s, "job1", []string{"c1", "c2"})

	err := s.InsertJob(ctx, &store.Job{ID: "job1", Status: store.JobActive, ExpiresAt: time.Now().Add(time.Hour)}, []string{"x"})
	if err != store.ErrAlreadyExists {
		t.Fatalf("collision err = %v, want ErrAlreadyExists", err)
	}

	listings, _ := s.ListActive(ctx)
	if len(listings) != 1 || len(listings[0].Unclaimed) != 2 {
		t.Error("collision must not overwrite the existing job")
	}
}

func TestSessions(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if err := s.PutSession(ctx, "tok1", "alice", time.Hour); err != nil {
		t.Fatal(err)
	}
	if name, err := s.GetSession(ctx, "tok1"); err != nil || name != "alice" {
		t.Errorf("GetSession = (%q, %v), want (alice, nil)", name, err)
	}

	// New login invalidates the previous token
	if err := s.PutSession(ctx, "tok2", "alice", time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSession(ctx, "tok1"); err != store.ErrNotFound {
		t.Errorf("old token should be gone, err = %v", err)
	}

	// Expired tokens behave as missing
	if err := s.PutSession(ctx, "tok3", "bob", -time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSession(ctx, "tok3"); err != store.ErrNotFound {
		t.Errorf("expired token err = %v, want ErrNotFound", err)
	}

	if err := s.DeleteSession(ctx, "tok2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSession(ctx, "tok2"); err != store.ErrNotFound {
		t.Errorf("deleted token err = %v, want ErrNotFound", err)
	}
}

func TestFilterNewProofs(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedAccount(t, s, "alice", 0)

	fresh, err := s.FilterNewProofs(ctx, "alice", []string{"p1", "p2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 2 {
		t.Fatalf("first pass fresh = %d, want 2", len(fresh))
	}

	fresh, err = s.FilterNewProofs(ctx, "alice", []string{"p1", "p2", "p3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 || fresh[0] != "p3" {
		t.Errorf("replayed keys must be filtered, fresh = %v", fresh)
	}

	// Forgotten keys are accepted again
	if err := s.ForgetProofs(ctx, "alice", []string{"p1"}); err != nil {
		t.Fatal(err)
	}
	fresh, err = s.FilterNewProofs(ctx, "alice", []string{"p1", "p2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 || fresh[0] != "p1" {
		t.Errorf("forgotten key must be fresh again, fresh = %v", fresh)
	}
}

func TestTopBalancesAndStats(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	seedAccount(t, s, "alice", 3)
	seedAccount(t, s, "bob", 7)
	seedAccount(t, s, "carol", 5)

	top, err := s.TopBalances(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0].Name != "bob" || top[1].Name != "carol" {
		t.Errorf("unexpected top order: %+v", top)
	}

	count, total, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 || total != 15 {
		t.Errorf("Stats = (%d, %v), want (3, 15)", count, total)
	}
}
