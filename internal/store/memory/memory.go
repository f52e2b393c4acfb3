// Package memory provides the in-memory storage backend. Every account and
// job is an independently locked arena entry; there is no global lock around
// balances or unclaimed-work sets. Used by tests and standalone deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/store"
)

type accountEntry struct {
	mu       sync.Mutex
	acct     store.Account
	activity []store.Activity // newest first, capped
	proofs   map[string]time.Time
}

type jobEntry struct {
	mu        sync.Mutex
	job       store.Job
	unclaimed map[string]struct{}
	contrib   map[string]int
}

type session struct {
	name    string
	expires time.Time
}

// Store is the in-memory backend.
type Store struct {
	activityCap int
	guardTTL    time.Duration

	mu        sync.RWMutex // guards the maps, not entry state
	accounts  map[string]*accountEntry
	addresses map[string]string
	jobs      map[string]*jobEntry

	sessMu     sync.Mutex
	sessions   map[string]session
	userTokens map[string]string
}

// New creates an empty in-memory store. activityCap bounds each account's
// activity log; guardTTL bounds how long credited proof keys are remembered.
func New(activityCap int, guardTTL time.Duration) *Store {
	return &Store{
		activityCap: activityCap,
		guardTTL:    guardTTL,
		accounts:    make(map[string]*accountEntry),
		addresses:   make(map[string]string),
		jobs:        make(map[string]*jobEntry),
		sessions:    make(map[string]session),
		userTokens:  make(map[string]string),
	}
}

// Health always succeeds for the in-memory backend.
func (s *Store) Health(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

// Account operations

func (s *Store) CreateAccount(ctx context.Context, acct *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.Name]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := s.addresses[acct.Address]; ok {
		return store.ErrAlreadyExists
	}

	copied := *acct
	s.accounts[acct.Name] = &accountEntry{
		acct:   copied,
		proofs: make(map[string]time.Time),
	}
	s.addresses[acct.Address] = acct.Name
	return nil
}

func (s *Store) GetAccount(ctx context.Context, name string) (*store.Account, error) {
	entry, err := s.account(name)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	snapshot := entry.acct
	return &snapshot, nil
}

func (s *Store) ResolveAddress(ctx context.Context, address string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name, ok := s.addresses[address]
	if !ok {
		return "", store.ErrNotFound
	}
	return name, nil
}

func (s *Store) UpdateAccount(ctx context.Context, name string, fn func(tx *store.AccountTx) error) (*store.Account, error) {
	entry, err := s.account(name)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := entry.acct
	tx := &store.AccountTx{Account: &working}
	if err := fn(tx); err != nil {
		return nil, err
	}

	entry.acct = working
	entry.appendActivity(tx.Entries(), s.activityCap)

	snapshot := working
	return &snapshot, nil
}

func (s *Store) UpdateAccounts(ctx context.Context, nameA, nameB string, fn func(a, b *store.AccountTx) error) error {
	entryA, err := s.account(nameA)
	if err != nil {
		return err
	}
	entryB, err := s.account(nameB)
	if err != nil {
		return err
	}

	// Lock in lexical name order so concurrent pair updates cannot deadlock
	first, second := entryA, entryB
	if nameB < nameA {
		first, second = entryB, entryA
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	workingA := entryA.acct
	workingB := entryB.acct
	txA := &store.AccountTx{Account: &workingA}
	txB := &store.AccountTx{Account: &workingB}
	if err := fn(txA, txB); err != nil {
		return err
	}

	entryA.acct = workingA
	entryB.acct = workingB
	entryA.appendActivity(txA.Entries(), s.activityCap)
	entryB.appendActivity(txB.Entries(), s.activityCap)
	return nil
}

func (s *Store) TopBalances(ctx context.Context, limit int) ([]store.RankEntry, error) {
	s.mu.RLock()
	entries := make([]*accountEntry, 0, len(s.accounts))
	for _, e := range s.accounts {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]store.RankEntry, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, store.RankEntry{
			Name:       e.acct.Name,
			Balance:    e.acct.Balance,
			TotalMined: e.acct.TotalMined,
		})
		e.mu.Unlock()
	}

	// Descending balance, ascending name. The tie-break has to happen before
	// the cut so equal balances at the boundary always keep the same members.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Balance != out[j].Balance {
			return out[i].Balance > out[j].Balance
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (int64, float64, error) {
	s.mu.RLock()
	entries := make([]*accountEntry, 0, len(s.accounts))
	for _, e := range s.accounts {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var total float64
	for _, e := range entries {
		e.mu.Lock()
		total += e.acct.Balance
		e.mu.Unlock()
	}
	return int64(len(entries)), total, nil
}

func (s *Store) Activity(ctx context.Context, name string, limit int) ([]store.Activity, error) {
	entry, err := s.account(name)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	n := len(entry.activity)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]store.Activity, n)
	copy(out, entry.activity[:n])
	return out, nil
}

func (s *Store) FilterNewProofs(ctx context.Context, name string, keys []string) ([]string, error) {
	entry, err := s.account(name)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := time.Now()
	for key, marked := range entry.proofs {
		if s.guardTTL > 0 && now.Sub(marked) > s.guardTTL {
			delete(entry.proofs, key)
		}
	}

	fresh := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, seen := entry.proofs[key]; seen {
			continue
		}
		entry.proofs[key] = now
		fresh = append(fresh, key)
	}
	return fresh, nil
}

func (s *Store) ForgetProofs(ctx context.Context, name string, keys []string) error {
	entry, err := s.account(name)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	for _, key := range keys {
		delete(entry.proofs, key)
	}
	return nil
}

func (s *Store) account(name string) (*accountEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.accounts[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return entry, nil
}

// appendActivity inserts entries at the front and evicts beyond the cap.
// Caller holds the entry lock.
func (e *accountEntry) appendActivity(entries []store.Activity, limit int) {
	for _, a := range entries {
		e.activity = append([]store.Activity{a}, e.activity...)
	}
	if limit > 0 && len(e.activity) > limit {
		e.activity = e.activity[:limit]
	}
}

// Session operations

func (s *Store) PutSession(ctx context.Context, token, name string, ttl time.Duration) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	// One session at a time per account
	if old, ok := s.userTokens[name]; ok {
		delete(s.sessions, old)
	}
	s.sessions[token] = session{name: name, expires: time.Now().Add(ttl)}
	s.userTokens[name] = token
	return nil
}

func (s *Store) GetSession(ctx context.Context, token string) (string, error) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return "", store.ErrNotFound
	}
	if time.Now().After(sess.expires) {
		delete(s.sessions, token)
		delete(s.userTokens, sess.name)
		return "", store.ErrNotFound
	}
	return sess.name, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	if sess, ok := s.sessions[token]; ok {
		delete(s.sessions, token)
		if s.userTokens[sess.name] == token {
			delete(s.userTokens, sess.name)
		}
	}
	return nil
}

// Job operations

func (s *Store) InsertJob(ctx context.Context, job *store.Job, challenges []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrAlreadyExists
	}

	unclaimed := make(map[string]struct{}, len(challenges))
	for _, c := range challenges {
		unclaimed[c] = struct{}{}
	}
	s.jobs[job.ID] = &jobEntry{
		job:       *job,
		unclaimed: unclaimed,
		contrib:   make(map[string]int),
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*store.Job, error) {
	entry, err := s.job(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	snapshot := entry.job
	return &snapshot, nil
}

func (s *Store) ListActive(ctx context.Context) ([]*store.JobListing, error) {
	s.mu.RLock()
	entries := make([]*jobEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*store.JobListing
	for _, e := range entries {
		e.mu.Lock()
		if e.job.Status == store.JobActive {
			listing := &store.JobListing{
				Job:       e.job,
				Unclaimed: make([]string, 0, len(e.unclaimed)),
			}
			for c := range e.unclaimed {
				listing.Unclaimed = append(listing.Unclaimed, c)
			}
			sort.Strings(listing.Unclaimed)
			out = append(out, listing)
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Job.CreatedAt.Before(out[j].Job.CreatedAt)
	})
	return out, nil
}

func (s *Store) Claim(ctx context.Context, jobID, challenge, account string, credit store.Activity) (int, float64, error) {
	entry, err := s.job(jobID)
	if err != nil {
		return 0, 0, err
	}
	// Resolve the account up front so a missing one fails before the
	// challenge is consumed.
	acct, err := s.account(account)
	if err != nil {
		return 0, 0, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.job.Status != store.JobActive {
		return 0, 0, store.ErrNotActive
	}
	// Stale jobs stay inert between expiry and the next reconcile pass
	if time.Now().After(entry.job.ExpiresAt) {
		return 0, 0, store.ErrNotActive
	}

	if _, ok := entry.unclaimed[challenge]; !ok {
		return 0, 0, store.ErrAlreadyClaimed
	}

	// Job lock then account lock. No other path nests the two, so the order
	// cannot deadlock.
	acct.mu.Lock()
	defer acct.mu.Unlock()

	delete(entry.unclaimed, challenge)
	entry.contrib[account]++
	acct.acct.Balance += credit.Amount
	acct.acct.TotalMined += credit.Amount
	acct.appendActivity([]store.Activity{credit}, s.activityCap)

	return len(entry.unclaimed), acct.acct.Balance, nil
}

func (s *Store) Contributions(ctx context.Context, jobID string) (map[string]int, error) {
	entry, err := s.job(jobID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	out := make(map[string]int, len(entry.contrib))
	for name, count := range entry.contrib {
		out[name] = count
	}
	return out, nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID string) (bool, error) {
	return s.transition(jobID, store.JobCompleted)
}

func (s *Store) ExpireJob(ctx context.Context, jobID string) (bool, error) {
	return s.transition(jobID, store.JobExpired)
}

func (s *Store) transition(jobID string, to store.JobStatus) (bool, error) {
	entry, err := s.job(jobID)
	if err != nil {
		return false, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.job.Status != store.JobActive {
		return false, nil
	}
	entry.job.Status = to
	return true, nil
}

func (s *Store) RemoveJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobID)
	return nil
}

func (s *Store) job(id string) (*jobEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return entry, nil
}
