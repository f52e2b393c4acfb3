package ledger

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/internal/store/memory"
	"github.com/jefeCoincmd/jefe-coin/pkg/errors"
	"github.com/jefeCoincmd/jefe-coin/pkg/log"
)

func newTestLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	st := memory.New(25, time.Hour)
	logger := log.New("ledger-test", "test", "error", "json")
	return New(st, logger), st
}

func seedAccount(t *testing.T, st *memory.Store, name, address string, balance float64) {
	t.Helper()
	err := st.CreateAccount(context.Background(), &store.Account{
		Name:      name,
		Address:   address,
		Balance:   balance,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateAccount(%s) error = %v", name, err)
	}
}

func TestCreditUpdatesBalanceAndTotalMined(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()
	seedAccount(t, st, "alice", "jefe1alice", 0)

	acct, err := l.Credit(ctx, "alice", 0.0025, KindMining, "solo reward")
	if err != nil {
		t.Fatalf("Credit() error = %v", err)
	}
	if acct.Balance != 0.0025 {
		t.Errorf("Balance = %v, want 0.0025", acct.Balance)
	}
	if acct.TotalMined != 0.0025 {
		t.Errorf("TotalMined = %v, want 0.0025", acct.TotalMined)
	}

	entries, err := l.Activity(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Activity() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != KindMining {
		t.Errorf("activity = %+v, want one %q entry", entries, KindMining)
	}
}

func TestCreditTransferInDoesNotCountAsMined(t *testing.T) {
	l, st := newTestLedger(t)
	seedAccount(t, st, "alice", "jefe1alice", 0)

	acct, err := l.Credit(context.Background(), "alice", 5, KindTransferIn, "gift")
	if err != nil {
		t.Fatalf("Credit() error = %v", err)
	}
	if acct.TotalMined != 0 {
		t.Errorf("TotalMined = %v, want 0 for transfer credit", acct.TotalMined)
	}
}

func TestCreditValidation(t *testing.T) {
	l, st := newTestLedger(t)
	seedAccount(t, st, "alice", "jefe1alice", 0)

	tests := []struct {
		name    string
		account string
		amount  float64
	}{
		{"zero amount", "alice", 0},
		{"negative amount", "alice", -1},
		{"empty account", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Credit(context.Background(), tt.account, tt.amount, KindMining, "")
			if !errors.IsType(err, errors.ErrorTypeValidation) {
				t.Errorf("Credit() error = %v, want validation error", err)
			}
		})
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()
	seedAccount(t, st, "alice", "jefe1alice", 10)

	_, err := l.Debit(ctx, "alice", 15, KindTransferOut, "")
	if !errors.IsType(err, errors.ErrorTypeState) {
		t.Fatalf("Debit() error = %v, want state error", err)
	}

	// Failed debit must leave the balance untouched
	acct, err := l.Account(ctx, "alice")
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if acct.Balance != 10 {
		t.Errorf("Balance = %v after failed debit, want 10", acct.Balance)
	}
}

func TestTransfer(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()
	seedAccount(t, st, "alice", "jefe1alice", 10)
	seedAccount(t, st, "bob", "jefe1bob", 1)

	result, err := l.Transfer(ctx, "alice", "jefe1bob", 2.5)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if result.To != "bob" || result.NewBalance != 7.5 {
		t.Errorf("result = %+v, want to=bob new_balance=7.5", result)
	}

	bob, _ := l.Account(ctx, "bob")
	if bob.Balance != 3.5 {
		t.Errorf("recipient balance = %v, want 3.5", bob.Balance)
	}
	if bob.TotalMined != 0 {
		t.Errorf("recipient TotalMined = %v, want 0", bob.TotalMined)
	}

	entries, _ := l.Activity(ctx, "bob", 5)
	if len(entries) != 1 || entries[0].Kind != KindTransferIn {
		t.Errorf("recipient activity = %+v, want one transfer_in entry", entries)
	}
}

func TestTransferFailures(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()
	seedAccount(t, st, "alice", "jefe1alice", 10)
	seedAccount(t, st, "bob", "jefe1bob", 0)

	tests := []struct {
		name     string
		from     string
		toAddr   string
		amount   float64
		wantType errors.ErrorType
	}{
		{"insufficient funds", "alice", "jefe1bob", 15, errors.ErrorTypeState},
		{"zero amount", "alice", "jefe1bob", 0, errors.ErrorTypeValidation},
		{"negative amount", "alice", "jefe1bob", -3, errors.ErrorTypeValidation},
		{"self transfer", "alice", "jefe1alice", 1, errors.ErrorTypeValidation},
		{"unknown address", "alice", "jefe1nobody", 1, errors.ErrorTypeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Transfer(ctx, tt.from, tt.toAddr, tt.amount)
			if !errors.IsType(err, tt.wantType) {
				t.Errorf("Transfer() error = %v, want type %s", err, tt.wantType)
			}
		})
	}

	// No partial effects from any failed attempt
	alice, _ := l.Account(ctx, "alice")
	bob, _ := l.Account(ctx, "bob")
	if alice.Balance != 10 || bob.Balance != 0 {
		t.Errorf("balances = %v/%v after failed transfers, want 10/0", alice.Balance, bob.Balance)
	}
}

func TestTopDeterministicOrdering(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()
	seedAccount(t, st, "carol", "jefe1carol", 5)
	seedAccount(t, st, "alice", "jefe1alice", 5)
	seedAccount(t, st, "bob", "jefe1bob", 9)

	entries, err := l.Top(ctx, 10)
	if err != nil {
		t.Fatalf("Top() error = %v", err)
	}

	wantNames := []string{"bob", "alice", "carol"}
	if len(entries) != len(wantNames) {
		t.Fatalf("Top() returned %d entries, want %d", len(entries), len(wantNames))
	}
	for i, want := range wantNames {
		if entries[i].Name != want {
			t.Errorf("entries[%d].Name = %s, want %s", i, entries[i].Name, want)
		}
		if entries[i].Rank != i+1 {
			t.Errorf("entries[%d].Rank = %d, want %d", i, entries[i].Rank, i+1)
		}
	}
}

func TestTopTiedBoundaryStableAcrossCalls(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	// Six accounts all tied: a truncated read must still settle on the same
	// members every time, not whichever three the store happened to hand back
	for _, name := range []string{"miner4", "miner2", "miner6", "miner1", "miner5", "miner3"} {
		seedAccount(t, st, name, "jefe1"+name, 5)
	}

	wantNames := []string{"miner1", "miner2", "miner3"}
	for i := 0; i < 10; i++ {
		entries, err := l.Top(ctx, 3)
		if err != nil {
			t.Fatalf("Top() error = %v", err)
		}
		if len(entries) != len(wantNames) {
			t.Fatalf("iteration %d: Top() returned %d entries, want %d", i, len(entries), len(wantNames))
		}
		for j, want := range wantNames {
			if entries[j].Name != want {
				t.Fatalf("iteration %d: rank %d is %q, want %q", i, j+1, entries[j].Name, want)
			}
			if entries[j].Rank != j+1 {
				t.Errorf("iteration %d: entries[%d].Rank = %d, want %d", i, j, entries[j].Rank, j+1)
			}
		}
	}
}

func TestRank(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()
	seedAccount(t, st, "alice", "jefe1alice", 3)
	seedAccount(t, st, "bob", "jefe1bob", 7)

	rank, err := l.Rank(ctx, "alice")
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if rank != 2 {
		t.Errorf("Rank(alice) = %d, want 2", rank)
	}

	rank, err = l.Rank(ctx, "nobody")
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if rank != 0 {
		t.Errorf("Rank(nobody) = %d, want 0", rank)
	}
}

func TestTotalStats(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()
	seedAccount(t, st, "alice", "jefe1alice", 1.5)
	seedAccount(t, st, "bob", "jefe1bob", 2.5)

	stats, err := l.TotalStats(ctx)
	if err != nil {
		t.Fatalf("TotalStats() error = %v", err)
	}
	if stats.Accounts != 2 {
		t.Errorf("Accounts = %d, want 2", stats.Accounts)
	}
	if math.Abs(stats.Circulating-4.0) > 1e-9 {
		t.Errorf("Circulating = %v, want 4.0", stats.Circulating)
	}
}

func TestCreditUnknownAccount(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Credit(context.Background(), "ghost", 1, KindMining, "")
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		t.Errorf("Credit() error = %v, want not_found", err)
	}
}
