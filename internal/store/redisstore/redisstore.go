// Package redisstore provides the Redis storage backend for the JEFE COIN
// economy. Account records are JSON blobs, the leaderboard is a sorted set,
// each job's unclaimed-work set is a Redis set, and the exactly-once claim is
// a Lua script over that set. Read-modify-write sections run as WATCH/MULTI
// transactions with bounded retries.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/pkg/errors"
	"github.com/jefeCoincmd/jefe-coin/pkg/retry"
)

// claimScript removes one challenge from a job's pool and, only when the
// removal succeeded, increments the claimer's contribution count, credits the
// reward to the account blob, refreshes the leaderboard, and pushes the
// activity entry. The whole claim commits as one script call. Returns
// {remaining, balance}, {-1, '0'} when the challenge was already gone, or
// {-2, '0'} when the account does not exist.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 0 then
  return {-2, '0'}
end
if redis.call('SREM', KEYS[1], ARGV[1]) ~= 1 then
  return {-1, '0'}
end
redis.call('HINCRBY', KEYS[2], ARGV[2], 1)
local acct = cjson.decode(redis.call('GET', KEYS[3]))
local reward = tonumber(ARGV[3])
acct['balance'] = acct['balance'] + reward
acct['total_mined'] = acct['total_mined'] + reward
redis.call('SET', KEYS[3], cjson.encode(acct))
redis.call('ZADD', KEYS[4], acct['balance'], ARGV[2])
redis.call('LPUSH', KEYS[5], ARGV[4])
local cap = tonumber(ARGV[5])
if cap > 0 then
  redis.call('LTRIM', KEYS[5], 0, cap - 1)
end
return {redis.call('SCARD', KEYS[1]), tostring(acct['balance'])}
`)

// Store is the Redis backend.
type Store struct {
	rdb         *redis.Client
	activityCap int
	guardTTL    time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL          string
	ActivityCap  int
	GuardTTL     time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates a Redis-backed store and verifies connectivity.
func New(cfg *Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Store{
		rdb:         rdb,
		activityCap: cfg.ActivityCap,
		guardTTL:    cfg.GuardTTL,
	}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Health checks Redis connectivity.
func (s *Store) Health(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Key builders

func accountKey(name string) string   { return fmt.Sprintf("user:%s", name) }
func addressKey(addr string) string   { return fmt.Sprintf("wallet:%s", addr) }
func activityKey(name string) string  { return fmt.Sprintf("activity:%s", name) }
func proofsKey(name string) string    { return fmt.Sprintf("proofs:%s", name) }
func tokenKey(token string) string    { return fmt.Sprintf("token:%s", token) }
func userTokenKey(name string) string { return fmt.Sprintf("user_token:%s", name) }
func jobKey(id string) string         { return fmt.Sprintf("job:%s", id) }
func jobPoolKey(id string) string     { return fmt.Sprintf("job:%s:pool", id) }
func jobContribKey(id string) string  { return fmt.Sprintf("job:%s:contrib", id) }

const (
	leaderboardKey = "leaderboard"
	activeJobsKey  = "jobs:active"
)

// Account operations

func (s *Store) CreateAccount(ctx context.Context, acct *store.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	txn := func(tx *redis.Tx) error {
		nameTaken, err := tx.Exists(ctx, accountKey(acct.Name)).Result()
		if err != nil {
			return err
		}
		addrTaken, err := tx.Exists(ctx, addressKey(acct.Address)).Result()
		if err != nil {
			return err
		}
		if nameTaken > 0 || addrTaken > 0 {
			return store.ErrAlreadyExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, accountKey(acct.Name), data, 0)
			pipe.Set(ctx, addressKey(acct.Address), acct.Name, 0)
			pipe.ZAdd(ctx, leaderboardKey, redis.Z{Score: acct.Balance, Member: acct.Name})
			return nil
		})
		return err
	}

	return s.watch(ctx, txn, accountKey(acct.Name), addressKey(acct.Address))
}

func (s *Store) GetAccount(ctx context.Context, name string) (*store.Account, error) {
	return s.getAccount(ctx, s.rdb, name)
}

func (s *Store) getAccount(ctx context.Context, c redis.Cmdable, name string) (*store.Account, error) {
	data, err := c.Get(ctx, accountKey(name)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	acct := &store.Account{}
	if err := json.Unmarshal([]byte(data), acct); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return acct, nil
}

func (s *Store) ResolveAddress(ctx context.Context, address string) (string, error) {
	name, err := s.rdb.Get(ctx, addressKey(address)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("failed to resolve address: %w", err)
	}
	return name, nil
}

func (s *Store) UpdateAccount(ctx context.Context, name string, fn func(tx *store.AccountTx) error) (*store.Account, error) {
	var updated *store.Account

	txn := func(tx *redis.Tx) error {
		acct, err := s.getAccount(ctx, tx, name)
		if err != nil {
			return err
		}

		atx := &store.AccountTx{Account: acct}
		if err := fn(atx); err != nil {
			return err
		}

		data, err := json.Marshal(acct)
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, accountKey(name), data, 0)
			pipe.ZAdd(ctx, leaderboardKey, redis.Z{Score: acct.Balance, Member: name})
			s.pushActivity(ctx, pipe, name, atx.Entries())
			return nil
		})
		if err != nil {
			return err
		}

		updated = acct
		return nil
	}

	if err := s.watch(ctx, txn, accountKey(name)); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) UpdateAccounts(ctx context.Context, nameA, nameB string, fn func(a, b *store.AccountTx) error) error {
	txn := func(tx *redis.Tx) error {
		acctA, err := s.getAccount(ctx, tx, nameA)
		if err != nil {
			return err
		}
		acctB, err := s.getAccount(ctx, tx, nameB)
		if err != nil {
			return err
		}

		txA := &store.AccountTx{Account: acctA}
		txB := &store.AccountTx{Account: acctB}
		if err := fn(txA, txB); err != nil {
			return err
		}

		dataA, err := json.Marshal(acctA)
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}
		dataB, err := json.Marshal(acctB)
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, accountKey(nameA), dataA, 0)
			pipe.Set(ctx, accountKey(nameB), dataB, 0)
			pipe.ZAdd(ctx, leaderboardKey, redis.Z{Score: acctA.Balance, Member: nameA})
			pipe.ZAdd(ctx, leaderboardKey, redis.Z{Score: acctB.Balance, Member: nameB})
			s.pushActivity(ctx, pipe, nameA, txA.Entries())
			s.pushActivity(ctx, pipe, nameB, txB.Entries())
			return nil
		})
		return err
	}

	return s.watch(ctx, txn, accountKey(nameA), accountKey(nameB))
}

// pushActivity queues LPUSH+LTRIM commands for the given entries; part of the
// surrounding MULTI.
func (s *Store) pushActivity(ctx context.Context, pipe redis.Pipeliner, name string, entries []store.Activity) {
	if len(entries) == 0 {
		return
	}
	for _, entry := range entries {
		if data, err := json.Marshal(entry); err == nil {
			pipe.LPush(ctx, activityKey(name), data)
		}
	}
	if s.activityCap > 0 {
		pipe.LTrim(ctx, activityKey(name), 0, int64(s.activityCap-1))
	}
}

func (s *Store) TopBalances(ctx context.Context, limit int) ([]store.RankEntry, error) {
	// Full range: ZREVRANGE orders equal scores by member descending, so a
	// truncated read could hand back different members for a tied boundary.
	// Pull everything, tie-break ascending by name, then cut.
	members, err := s.rdb.ZRevRangeWithScores(ctx, leaderboardKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}

	out := make([]store.RankEntry, 0, len(members))
	for _, z := range members {
		name, _ := z.Member.(string)
		out = append(out, store.RankEntry{Name: name, Balance: z.Score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Balance != out[j].Balance {
			return out[i].Balance > out[j].Balance
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	for i := range out {
		// Total-mined lives on the account record, not in the sorted set
		if acct, err := s.getAccount(ctx, s.rdb, out[i].Name); err == nil {
			out[i].TotalMined = acct.TotalMined
			out[i].Balance = acct.Balance
		}
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (int64, float64, error) {
	count, err := s.rdb.ZCard(ctx, leaderboardKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count accounts: %w", err)
	}

	members, err := s.rdb.ZRangeWithScores(ctx, leaderboardKey, 0, -1).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum balances: %w", err)
	}

	var total float64
	for _, z := range members {
		total += z.Score
	}
	return count, total, nil
}

func (s *Store) Activity(ctx context.Context, name string, limit int) ([]store.Activity, error) {
	if exists, err := s.rdb.Exists(ctx, accountKey(name)).Result(); err != nil {
		return nil, fmt.Errorf("failed to check account: %w", err)
	} else if exists == 0 {
		return nil, store.ErrNotFound
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	items, err := s.rdb.LRange(ctx, activityKey(name), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activity: %w", err)
	}

	out := make([]store.Activity, 0, len(items))
	for _, item := range items {
		var entry store.Activity
		if err := json.Unmarshal([]byte(item), &entry); err == nil {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) FilterNewProofs(ctx context.Context, name string, keys []string) ([]string, error) {
	if exists, err := s.rdb.Exists(ctx, accountKey(name)).Result(); err != nil {
		return nil, fmt.Errorf("failed to check account: %w", err)
	} else if exists == 0 {
		return nil, store.ErrNotFound
	}

	pipe := s.rdb.Pipeline()
	adds := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		adds[i] = pipe.SAdd(ctx, proofsKey(name), key)
	}
	if s.guardTTL > 0 {
		pipe.Expire(ctx, proofsKey(name), s.guardTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to record proofs: %w", err)
	}

	fresh := make([]string, 0, len(keys))
	for i, cmd := range adds {
		if cmd.Val() == 1 {
			fresh = append(fresh, keys[i])
		}
	}
	return fresh, nil
}

func (s *Store) ForgetProofs(ctx context.Context, name string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]interface{}, len(keys))
	for i, key := range keys {
		members[i] = key
	}
	if err := s.rdb.SRem(ctx, proofsKey(name), members...).Err(); err != nil {
		return fmt.Errorf("failed to unmark proofs: %w", err)
	}
	return nil
}

// Session operations

func (s *Store) PutSession(ctx context.Context, token, name string, ttl time.Duration) error {
	// Invalidate the previous token so each account has one live session
	old, err := s.rdb.Get(ctx, userTokenKey(name)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to look up previous session: %w", err)
	}

	pipe := s.rdb.Pipeline()
	if old != "" {
		pipe.Del(ctx, tokenKey(old))
	}
	pipe.Set(ctx, tokenKey(token), name, ttl)
	pipe.Set(ctx, userTokenKey(name), token, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, token string) (string, error) {
	name, err := s.rdb.Get(ctx, tokenKey(token)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("failed to get session: %w", err)
	}
	return name, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	name, err := s.rdb.Get(ctx, tokenKey(token)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, tokenKey(token))
	if name != "" {
		pipe.Del(ctx, userTokenKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Job operations

func (s *Store) InsertJob(ctx context.Context, job *store.Job, challenges []string) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	txn := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, jobKey(job.ID)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return store.ErrAlreadyExists
		}

		members := make([]interface{}, len(challenges))
		for i, c := range challenges {
			members[i] = c
		}

		// Metadata, pool, and the active-index registration commit together;
		// a partially created job is never visible
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, jobKey(job.ID), data, 0)
			pipe.SAdd(ctx, jobPoolKey(job.ID), members...)
			pipe.SAdd(ctx, activeJobsKey, job.ID)
			return nil
		})
		return err
	}

	return s.watch(ctx, txn, jobKey(job.ID))
}

func (s *Store) GetJob(ctx context.Context, id string) (*store.Job, error) {
	return s.getJob(ctx, s.rdb, id)
}

func (s *Store) getJob(ctx context.Context, c redis.Cmdable, id string) (*store.Job, error) {
	data, err := c.Get(ctx, jobKey(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job := &store.Job{}
	if err := json.Unmarshal([]byte(data), job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return job, nil
}

func (s *Store) ListActive(ctx context.Context) ([]*store.JobListing, error) {
	ids, err := s.rdb.SMembers(ctx, activeJobsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	var out []*store.JobListing
	for _, id := range ids {
		job, err := s.getJob(ctx, s.rdb, id)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		if job.Status != store.JobActive {
			continue
		}

		unclaimed, err := s.rdb.SMembers(ctx, jobPoolKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read job pool: %w", err)
		}
		out = append(out, &store.JobListing{Job: *job, Unclaimed: unclaimed})
	}
	return out, nil
}

func (s *Store) Claim(ctx context.Context, jobID, challenge, account string, credit store.Activity) (int, float64, error) {
	job, err := s.getJob(ctx, s.rdb, jobID)
	if err != nil {
		return 0, 0, err
	}
	if job.Status != store.JobActive {
		return 0, 0, store.ErrNotActive
	}
	// Lazily-detected expiry still blocks new claims
	if time.Now().After(job.ExpiresAt) {
		return 0, 0, store.ErrNotActive
	}

	entry, err := json.Marshal(credit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to marshal activity: %w", err)
	}

	res, err := claimScript.Run(ctx, s.rdb,
		[]string{jobPoolKey(jobID), jobContribKey(jobID), accountKey(account), leaderboardKey, activityKey(account)},
		challenge, account, credit.Amount, string(entry), s.activityCap,
	).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to run claim script: %w", err)
	}
	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return 0, 0, fmt.Errorf("unexpected claim script reply: %v", res)
	}
	code, _ := reply[0].(int64)
	switch {
	case code == -2:
		return 0, 0, store.ErrNotFound
	case code < 0:
		return 0, 0, store.ErrAlreadyClaimed
	}
	raw, _ := reply[1].(string)
	balance, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse claim balance: %w", err)
	}
	return int(code), balance, nil
}

func (s *Store) Contributions(ctx context.Context, jobID string) (map[string]int, error) {
	if exists, err := s.rdb.Exists(ctx, jobKey(jobID)).Result(); err != nil {
		return nil, fmt.Errorf("failed to check job: %w", err)
	} else if exists == 0 {
		return nil, store.ErrNotFound
	}

	raw, err := s.rdb.HGetAll(ctx, jobContribKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read contributions: %w", err)
	}

	out := make(map[string]int, len(raw))
	for name, val := range raw {
		var count int
		if _, err := fmt.Sscanf(val, "%d", &count); err == nil {
			out[name] = count
		}
	}
	return out, nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID string) (bool, error) {
	return s.transition(ctx, jobID, store.JobCompleted)
}

func (s *Store) ExpireJob(ctx context.Context, jobID string) (bool, error) {
	return s.transition(ctx, jobID, store.JobExpired)
}

func (s *Store) transition(ctx context.Context, jobID string, to store.JobStatus) (bool, error) {
	won := false

	txn := func(tx *redis.Tx) error {
		job, err := s.getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != store.JobActive {
			won = false
			return nil
		}

		job.Status = to
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, jobKey(jobID), data, 0)
			pipe.SRem(ctx, activeJobsKey, jobID)
			return nil
		})
		if err != nil {
			return err
		}
		won = true
		return nil
	}

	if err := s.watch(ctx, txn, jobKey(jobID)); err != nil {
		return false, err
	}
	return won, nil
}

func (s *Store) RemoveJob(ctx context.Context, jobID string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, jobKey(jobID), jobPoolKey(jobID), jobContribKey(jobID))
	pipe.SRem(ctx, activeJobsKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove job: %w", err)
	}
	return nil
}

// watch runs an optimistic transaction, retrying WATCH conflicts with the
// store backoff preset and surfacing store.ErrConflict once attempts are
// exhausted. Non-conflict errors from the transaction body return as-is on
// the first attempt.
func (s *Store) watch(ctx context.Context, txn func(tx *redis.Tx) error, keys ...string) error {
	var conflicted bool
	err := retry.Do(ctx, retry.StoreConfig(), func() error {
		conflicted = false
		if err := s.rdb.Watch(ctx, txn, keys...); err != nil {
			if err == redis.TxFailedErr {
				conflicted = true
				return errors.New(errors.ErrorTypeConflict, "redis_tx", "optimistic transaction conflict")
			}
			return err
		}
		return nil
	})
	if err != nil && conflicted {
		return store.ErrConflict
	}
	return err
}
