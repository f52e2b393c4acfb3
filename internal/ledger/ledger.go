// Package ledger implements account balance accounting for the JEFE COIN
// economy: credits, debits, atomic transfers between accounts, the balance
// leaderboard, and aggregate circulation stats. Every mutation commits the
// balance change, the activity-log entry, and the ranking update as one unit.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/pkg/errors"
	"github.com/jefeCoincmd/jefe-coin/pkg/log"
)

// Activity kinds recorded against accounts.
const (
	KindMining      = "mining"
	KindBonus       = "bonus"
	KindSync        = "sync"
	KindTransferIn  = "transfer_in"
	KindTransferOut = "transfer_out"
)

// Ledger coordinates balance mutations over the account store.
type Ledger struct {
	accounts store.AccountStore
	logger   *log.Logger
}

// New creates a ledger over the given account store.
func New(accounts store.AccountStore, logger *log.Logger) *Ledger {
	return &Ledger{
		accounts: accounts,
		logger:   logger.WithComponent("ledger"),
	}
}

// Stats aggregates the economy.
type Stats struct {
	Accounts    int64   `json:"total_users"`
	Circulating float64 `json:"total_jefe_mined"`
}

// TransferResult reports the sender's state after a completed transfer.
type TransferResult struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	ToAddress  string  `json:"to_address"`
	Amount     float64 `json:"amount"`
	NewBalance float64 `json:"new_balance"`
}

// Credit adds amount to the account's balance. Earning events (mining, bonus,
// sync) also advance the lifetime-mined total; transfer credits do not.
func (l *Ledger) Credit(ctx context.Context, name string, amount float64, kind, note string) (*store.Account, error) {
	if name == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "ledger_credit", "account name is required")
	}
	if amount <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "ledger_credit", "amount must be positive").
			WithContext("amount", amount)
	}

	earned := kind == KindMining || kind == KindBonus || kind == KindSync

	acct, err := l.accounts.UpdateAccount(ctx, name, func(tx *store.AccountTx) error {
		tx.Account.Balance += amount
		if earned {
			tx.Account.TotalMined += amount
		}
		tx.Log(kind, amount, note)
		return nil
	})
	if err != nil {
		return nil, translate(err, "ledger_credit", name)
	}
	return acct, nil
}

// Debit removes amount from the account's balance, failing when the balance
// cannot cover it.
func (l *Ledger) Debit(ctx context.Context, name string, amount float64, kind, note string) (*store.Account, error) {
	if name == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "ledger_debit", "account name is required")
	}
	if amount <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "ledger_debit", "amount must be positive").
			WithContext("amount", amount)
	}

	acct, err := l.accounts.UpdateAccount(ctx, name, func(tx *store.AccountTx) error {
		if tx.Account.Balance < amount {
			return errors.New(errors.ErrorTypeState, "ledger_debit", "insufficient funds").
				WithContext("balance", tx.Account.Balance).
				WithContext("amount", amount)
		}
		tx.Account.Balance -= amount
		tx.Log(kind, -amount, note)
		return nil
	})
	if err != nil {
		return nil, translate(err, "ledger_debit", name)
	}
	return acct, nil
}

// Transfer moves amount from the named sender to the account owning the
// recipient address. Debit and credit commit together or not at all.
func (l *Ledger) Transfer(ctx context.Context, from, toAddress string, amount float64) (*TransferResult, error) {
	if amount <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "ledger_transfer", "amount must be positive").
			WithContext("amount", amount)
	}
	if toAddress == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "ledger_transfer", "recipient address is required")
	}

	to, err := l.accounts.ResolveAddress(ctx, toAddress)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errors.New(errors.ErrorTypeNotFound, "ledger_transfer", "recipient address not found").
				WithContext("address", toAddress)
		}
		return nil, translate(err, "ledger_transfer", from)
	}
	if to == from {
		return nil, errors.New(errors.ErrorTypeValidation, "ledger_transfer", "cannot transfer to own address")
	}

	var result *TransferResult
	err = l.accounts.UpdateAccounts(ctx, from, to, func(sender, recipient *store.AccountTx) error {
		if sender.Account.Balance < amount {
			return errors.New(errors.ErrorTypeState, "ledger_transfer", "insufficient funds").
				WithContext("balance", sender.Account.Balance).
				WithContext("amount", amount)
		}
		sender.Account.Balance -= amount
		recipient.Account.Balance += amount
		sender.Log(KindTransferOut, -amount, fmt.Sprintf("sent to %s", to))
		recipient.Log(KindTransferIn, amount, fmt.Sprintf("received from %s", from))

		result = &TransferResult{
			From:       from,
			To:         to,
			ToAddress:  toAddress,
			Amount:     amount,
			NewBalance: sender.Account.Balance,
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "ledger_transfer", from)
	}

	l.logger.LogTransfer(from, to, amount)
	return result, nil
}

// Account fetches one account record.
func (l *Ledger) Account(ctx context.Context, name string) (*store.Account, error) {
	acct, err := l.accounts.GetAccount(ctx, name)
	if err != nil {
		return nil, translate(err, "ledger_account", name)
	}
	return acct, nil
}

// Top returns up to limit accounts ordered by descending balance, ties broken
// by ascending name, each annotated with its 1-based rank.
func (l *Ledger) Top(ctx context.Context, limit int) ([]store.RankEntry, error) {
	entries, err := l.accounts.TopBalances(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "ledger_top", "failed to query leaderboard")
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Balance != entries[j].Balance {
			return entries[i].Balance > entries[j].Balance
		}
		return entries[i].Name < entries[j].Name
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// Rank returns a single account's 1-based leaderboard position, or 0 when the
// account holds no ranked balance.
func (l *Ledger) Rank(ctx context.Context, name string) (int, error) {
	entries, err := l.Top(ctx, 0)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if entry.Name == name {
			return entry.Rank, nil
		}
	}
	return 0, nil
}

// TotalStats reports account count and circulating balance.
func (l *Ledger) TotalStats(ctx context.Context) (*Stats, error) {
	count, total, err := l.accounts.Stats(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "ledger_stats", "failed to aggregate stats")
	}
	return &Stats{Accounts: count, Circulating: total}, nil
}

// Activity returns the account's most recent activity entries, newest first.
func (l *Ledger) Activity(ctx context.Context, name string, limit int) ([]store.Activity, error) {
	entries, err := l.accounts.Activity(ctx, name, limit)
	if err != nil {
		return nil, translate(err, "ledger_activity", name)
	}
	return entries, nil
}

// translate maps store sentinels onto the service error taxonomy; errors that
// already carry a type pass through unchanged.
func translate(err error, operation, account string) error {
	if _, ok := err.(*errors.ServiceError); ok {
		return err
	}
	switch err {
	case store.ErrNotFound:
		return errors.New(errors.ErrorTypeNotFound, operation, "account not found").
			WithContext("account", account)
	case store.ErrConflict:
		return errors.New(errors.ErrorTypeConflict, operation, "storage conflict, retry the operation").
			WithContext("account", account)
	case store.ErrAlreadyExists:
		return errors.New(errors.ErrorTypeConflict, operation, "account already exists").
			WithContext("account", account)
	default:
		return errors.Wrap(err, errors.ErrorTypeDatabase, operation, "storage operation failed")
	}
}
