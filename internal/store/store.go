// Package store defines the persistent state layout of the JEFE COIN economy
// and the atomic primitives the engines are built on: optimistic or locked
// read-modify-write on accounts, the exactly-once work claim, and CAS job
// status transitions. Two backends implement these interfaces: an in-memory
// arena (package memory) and Redis (package redisstore).
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends. Engines translate these into the
// service error taxonomy at the boundary.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrAlreadyExists  = errors.New("store: already exists")
	ErrAlreadyClaimed = errors.New("store: challenge already claimed")
	ErrNotActive      = errors.New("store: job not active")
	ErrConflict       = errors.New("store: transaction conflict")
)

// JobStatus is the lifecycle state of a group job. Transitions are monotonic:
// active jobs become completed or expired, never active again.
type JobStatus string

const (
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobExpired   JobStatus = "expired"
)

// Account is one participant's ledger record.
type Account struct {
	Name           string    `json:"username"`
	Address        string    `json:"wallet_address"`
	HashedPassword string    `json:"password_hash"`
	Balance        float64   `json:"balance"`
	TotalMined     float64   `json:"total_mined"`
	CreatedAt      time.Time `json:"created_at"`
}

// Activity is one bounded-log entry for an account.
type Activity struct {
	Kind   string    `json:"kind"`
	Amount float64   `json:"amount"`
	Note   string    `json:"note"`
	At     time.Time `json:"at"`
}

// RankEntry is one leaderboard row.
type RankEntry struct {
	Name       string  `json:"username"`
	Balance    float64 `json:"balance"`
	TotalMined float64 `json:"total_mined"`
	Rank       int     `json:"rank"`
}

// Job is a group job's metadata. The unclaimed-work set and contribution map
// live behind the JobStore primitives, never on this struct.
type Job struct {
	ID            string    `json:"id"`
	Size          int       `json:"size"`
	Difficulty    int       `json:"difficulty"`
	RewardPerUnit float64   `json:"reward_per_unit"`
	BonusPool     float64   `json:"bonus_pool"`
	Status        JobStatus `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// JobListing is a job plus its remaining unclaimed challenges, as exposed to
// solvers.
type JobListing struct {
	Job       Job
	Unclaimed []string
}

// AccountTx is the mutable view handed to an account update function. Balance
// mutations, activity appends, and the ranking update commit as one unit.
type AccountTx struct {
	Account *Account
	entries []Activity
}

// Log appends one activity entry to the commit.
func (tx *AccountTx) Log(kind string, amount float64, note string) {
	tx.entries = append(tx.entries, Activity{
		Kind:   kind,
		Amount: amount,
		Note:   note,
		At:     time.Now(),
	})
}

// Entries returns the activity entries queued in this transaction. Backends
// persist them; engines have no use for this.
func (tx *AccountTx) Entries() []Activity {
	return tx.entries
}

// AccountStore owns account records, the address index, the ranking index,
// the bounded activity logs, and the offline-proof replay guard.
type AccountStore interface {
	// CreateAccount inserts a new account and its address mapping.
	// ErrAlreadyExists when the name or address is taken.
	CreateAccount(ctx context.Context, acct *Account) error

	// GetAccount returns a snapshot of one account.
	GetAccount(ctx context.Context, name string) (*Account, error)

	// ResolveAddress maps a wallet address to an account name.
	ResolveAddress(ctx context.Context, address string) (string, error)

	// UpdateAccount runs fn against the current account state and commits the
	// resulting balance, activity entries, and ranking update atomically.
	// An error from fn aborts with no state change. Concurrent writers to the
	// same account serialize; conflicts retry internally a bounded number of
	// times before surfacing ErrConflict.
	UpdateAccount(ctx context.Context, name string, fn func(tx *AccountTx) error) (*Account, error)

	// UpdateAccounts is UpdateAccount over two distinct accounts in one
	// commit; both change or neither does.
	UpdateAccounts(ctx context.Context, nameA, nameB string, fn func(a, b *AccountTx) error) error

	// TopBalances returns up to limit entries ordered by descending balance.
	// Equal balances arrive in unspecified order; the ledger applies the
	// deterministic tie-break.
	TopBalances(ctx context.Context, limit int) ([]RankEntry, error)

	// Stats returns the account count and the total circulating balance.
	Stats(ctx context.Context) (int64, float64, error)

	// Activity returns up to limit most-recent entries, newest first.
	Activity(ctx context.Context, name string, limit int) ([]Activity, error)

	// FilterNewProofs marks the given proof keys as credited for the account
	// and returns only the keys that were not already marked.
	FilterNewProofs(ctx context.Context, name string, keys []string) ([]string, error)

	// ForgetProofs removes proof-key marks set by FilterNewProofs, so a batch
	// whose credit failed to commit can be resubmitted.
	ForgetProofs(ctx context.Context, name string, keys []string) error
}

// SessionStore owns opaque bearer tokens. One live session per account: a new
// token invalidates the previous one.
type SessionStore interface {
	PutSession(ctx context.Context, token, name string, ttl time.Duration) error
	GetSession(ctx context.Context, token string) (string, error)
	DeleteSession(ctx context.Context, token string) error
}

// JobStore owns job records, their unclaimed-work sets, contribution maps,
// and the active-job index.
type JobStore interface {
	// InsertJob commits job metadata, its initial unclaimed-work set, and the
	// active-index registration as one unit. ErrAlreadyExists on ID collision;
	// a collision never overwrites the existing job.
	InsertJob(ctx context.Context, job *Job, challenges []string) error

	// GetJob returns a snapshot of one job's metadata.
	GetJob(ctx context.Context, id string) (*Job, error)

	// ListActive returns every job in the active index with its remaining
	// unclaimed challenges.
	ListActive(ctx context.Context) ([]*JobListing, error)

	// Claim removes one challenge from the job's unclaimed-work set,
	// increments the account's contribution count for that job, credits the
	// reward to the account's balance and lifetime total, appends the given
	// activity entry, and updates the ranking index, committing all of it as
	// one unit. Returns the number of challenges remaining after removal and
	// the account's balance after the credit.
	// ErrAlreadyClaimed when the challenge is absent (claimed or never
	// issued); ErrNotActive when the job is not active; ErrNotFound when the
	// job or the account does not exist, with the challenge left in place.
	Claim(ctx context.Context, jobID, challenge, account string, credit Activity) (int, float64, error)

	// Contributions returns the job's account -> unit count map.
	Contributions(ctx context.Context, jobID string) (map[string]int, error)

	// CompleteJob transitions active -> completed. Returns true only for the
	// caller that performed the transition, so completion side effects run
	// exactly once.
	CompleteJob(ctx context.Context, jobID string) (bool, error)

	// ExpireJob transitions active -> expired, with the same exactly-once
	// contract as CompleteJob.
	ExpireJob(ctx context.Context, jobID string) (bool, error)

	// RemoveJob discards a terminal job's record, unclaimed-work set, and
	// contribution map.
	RemoveJob(ctx context.Context, jobID string) error
}

// Store is the full persistence surface a backend provides.
type Store interface {
	AccountStore
	SessionStore
	JobStore

	Health(ctx context.Context) error
	Close() error
}
