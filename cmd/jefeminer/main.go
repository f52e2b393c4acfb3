// Package main implements jefeminer, a headless JEFE COIN mining client.
// It claims units from the shared job pool while the coordinator is
// reachable and falls back to solo offline mining when it is not,
// replaying stored proofs on reconnect.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/notify"
	"github.com/jefeCoincmd/jefe-coin/internal/pow"
	"github.com/jefeCoincmd/jefe-coin/internal/syncer"
	"github.com/jefeCoincmd/jefe-coin/pkg/log"
)

const (
	offlineDifficulty = 5
	offlineBudget     = 8 * time.Second
	claimBudget       = 2 * time.Minute
	idlePollInterval  = 10 * time.Second
	reconnectInterval = 30 * time.Second
)

type options struct {
	server   string
	username string
	password string
	register bool
	once     bool
	workers  int
	zmq      string
	logLevel string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.server, "server", envOr("JEFE_SERVER", "http://localhost:8000"), "coordinator base URL")
	flag.StringVar(&opts.username, "user", os.Getenv("JEFE_USER"), "account username")
	flag.StringVar(&opts.password, "pass", os.Getenv("JEFE_PASS"), "account password")
	flag.BoolVar(&opts.register, "register", false, "register the account before logging in")
	flag.BoolVar(&opts.once, "once", false, "run a single mining pass and exit")
	flag.IntVar(&opts.workers, "workers", runtime.NumCPU(), "concurrent challenge solvers")
	flag.StringVar(&opts.zmq, "zmq", os.Getenv("JEFE_ZMQ"), "optional ZMQ endpoint for job notifications")
	flag.StringVar(&opts.logLevel, "log-level", "info", "log level")
	flag.Parse()

	logger := log.New("jefeminer", "dev", opts.logLevel, "text")

	if opts.username == "" || opts.password == "" {
		fmt.Fprintln(os.Stderr, "username and password are required (-user/-pass or JEFE_USER/JEFE_PASS)")
		os.Exit(1)
	}
	if opts.workers < 1 {
		opts.workers = 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := &miner{
		opts:      opts,
		client:    NewClient(opts.server),
		logger:    logger,
		statePath: statePath(),
	}
	m.state = loadState(m.statePath)

	if err := m.run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("miner failed")
		os.Exit(1)
	}
	logger.Info("jefeminer stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type miner struct {
	opts      options
	client    *Client
	logger    *log.Logger
	statePath string
	state     *localState

	wake chan struct{}
}

func (m *miner) run(ctx context.Context) error {
	if m.opts.zmq != "" {
		m.wake = make(chan struct{}, 1)
		go m.listenForJobs(ctx)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if m.client.Ping(ctx) {
			if err := m.onlinePass(ctx); err != nil {
				m.logger.WithError(err).Warn("online pass failed")
			}
		} else {
			m.logger.Info("coordinator unreachable, mining offline",
				"stored_proofs", len(m.state.Proofs))
			m.offlinePass(ctx)
		}

		if m.opts.once {
			return nil
		}
		m.waitForWork(ctx)
	}
}

// onlinePass logs in if needed, replays stored offline proofs, then mines
// and claims every unclaimed challenge across the active jobs.
func (m *miner) onlinePass(ctx context.Context) error {
	if err := m.login(ctx); err != nil {
		return err
	}

	if len(m.state.Proofs) > 0 {
		if err := m.replayProofs(ctx); err != nil {
			m.logger.WithError(err).Warn("failed to sync offline proofs")
		}
	}

	jobs, err := m.client.Jobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	for _, job := range jobs {
		if len(job.Unclaimed) == 0 {
			continue
		}
		m.mineJob(ctx, job)
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

func (m *miner) login(ctx context.Context) error {
	if m.opts.register {
		if err := m.client.Register(ctx, m.opts.username, m.opts.password); err != nil {
			var apiErr *apiError
			// An existing account is fine; we only need to be able to log in.
			if !(errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict) {
				return fmt.Errorf("failed to register: %w", err)
			}
		}
	}
	if err := m.client.Login(ctx, m.opts.username, m.opts.password); err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	m.state.Username = m.opts.username
	m.state.Token = m.client.token
	if err := m.state.save(m.statePath); err != nil {
		m.logger.WithError(err).Warn("failed to persist session")
	}
	return nil
}

// mineJob solves the job's unclaimed challenges with a bounded worker pool
// and submits a claim for each solution. Lost races are expected when other
// miners work the same job.
func (m *miner) mineJob(ctx context.Context, job JobInfo) {
	m.logger.Info("working job",
		"job_id", job.JobID,
		"difficulty", job.Difficulty,
		"remaining", len(job.Unclaimed),
	)

	challenges := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < m.opts.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for challenge := range challenges {
				m.solveAndClaim(ctx, job, challenge)
			}
		}()
	}

	for _, challenge := range job.Unclaimed {
		select {
		case challenges <- challenge:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(challenges)
	wg.Wait()
}

func (m *miner) solveAndClaim(ctx context.Context, job JobInfo, challenge string) {
	sol, ok := pow.Search(ctx, challenge, job.Difficulty, claimBudget)
	if !ok {
		return
	}

	result, err := m.client.Claim(ctx, job.JobID, challenge, sol.Nonce, sol.Digest)
	if err != nil {
		m.logger.WithError(err).Warn("claim failed", "job_id", job.JobID)
		return
	}
	switch result.Outcome {
	case "accepted":
		m.logger.Info("claim accepted",
			"job_id", job.JobID,
			"reward", result.Reward,
			"balance", result.NewBalance,
			"remaining", result.Remaining,
		)
	case "already_claimed":
		m.logger.Debug("lost claim race", "job_id", job.JobID, "challenge", challenge)
	default:
		m.logger.Warn("claim rejected", "job_id", job.JobID, "outcome", result.Outcome)
	}
}

// offlinePass mines one solo proof and stores it for later sync.
func (m *miner) offlinePass(ctx context.Context) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		m.logger.WithError(err).Error("failed to generate challenge")
		return
	}
	challenge := hex.EncodeToString(buf)

	sol, ok := pow.Search(ctx, challenge, offlineDifficulty, offlineBudget)
	if !ok {
		m.logger.Debug("no solution within budget", "difficulty", offlineDifficulty)
		return
	}

	m.state.Proofs = append(m.state.Proofs, syncer.Proof{
		Challenge:  sol.Challenge,
		Nonce:      sol.Nonce,
		Digest:     sol.Digest,
		Difficulty: sol.Difficulty,
	})
	if err := m.state.save(m.statePath); err != nil {
		m.logger.WithError(err).Error("failed to store proof")
		return
	}
	m.logger.Info("offline proof stored",
		"digest", sol.Digest[:16],
		"stored_proofs", len(m.state.Proofs),
	)
}

func (m *miner) replayProofs(ctx context.Context) error {
	result, err := m.client.Sync(ctx, m.state.Proofs)
	if err != nil {
		return err
	}
	m.logger.Info("offline proofs synced",
		"valid", result.ValidProofs,
		"credited", result.TotalCoinsSynced,
		"balance", result.NewBalance,
	)
	m.state.Proofs = nil
	return m.state.save(m.statePath)
}

// listenForJobs subscribes to coordinator notifications so a new job wakes
// the mining loop immediately instead of waiting out the poll interval.
func (m *miner) listenForJobs(ctx context.Context) {
	listener, err := notify.NewListener(m.opts.zmq, m.logger.Logger, notify.TopicJobCreated)
	if err != nil {
		m.logger.WithError(err).Warn("failed to subscribe to job notifications")
		return
	}
	defer listener.Close()

	for ctx.Err() == nil {
		topic, _, err := listener.Recv()
		if err != nil {
			m.logger.WithError(err).Debug("notification receive failed")
			return
		}
		if topic != notify.TopicJobCreated {
			continue
		}
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}

func (m *miner) waitForWork(ctx context.Context) {
	interval := idlePollInterval
	if !m.client.Ping(ctx) {
		interval = reconnectInterval
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-m.wake:
	}
}
