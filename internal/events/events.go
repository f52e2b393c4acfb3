// Package events composes the optional pool-event consumers (Kafka, Influx,
// Postgres archive, ZMQ broadcast) behind the single sink the job pool
// manager publishes to.
package events

import (
	"context"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/archive"
	"github.com/jefeCoincmd/jefe-coin/internal/jobpool"
	"github.com/jefeCoincmd/jefe-coin/internal/metrics"
	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/pkg/log"
)

// archiveTimeout bounds each best-effort archive write.
const archiveTimeout = 5 * time.Second

// Fanout delivers every event to each configured sink in order.
type Fanout []jobpool.Sink

var _ jobpool.Sink = Fanout{}

func (f Fanout) JobCreated(job *store.Job) {
	for _, s := range f {
		s.JobCreated(job)
	}
}

func (f Fanout) JobRetired(job *store.Job, contributors int) {
	for _, s := range f {
		s.JobRetired(job, contributors)
	}
}

func (f Fanout) ClaimRecorded(account string, job *store.Job, remaining int, reward float64) {
	for _, s := range f {
		s.ClaimRecorded(account, job, remaining, reward)
	}
}

func (f Fanout) BonusPaid(jobID, account string, units int, share float64) {
	for _, s := range f {
		s.BonusPaid(jobID, account, units, share)
	}
}

// MetricsSink records pool events as Influx time-series points.
type MetricsSink struct {
	client *metrics.Client
}

// NewMetricsSink creates a metrics sink.
func NewMetricsSink(client *metrics.Client) *MetricsSink {
	return &MetricsSink{client: client}
}

func (s *MetricsSink) JobCreated(job *store.Job) {
	s.client.WriteJobMetric(job.ID, string(job.Status), job.Size, job.Difficulty, 0)
}

func (s *MetricsSink) JobRetired(job *store.Job, contributors int) {
	s.client.WriteJobMetric(job.ID, string(job.Status), job.Size, job.Difficulty, contributors)
}

func (s *MetricsSink) ClaimRecorded(account string, job *store.Job, remaining int, reward float64) {
	s.client.WriteClaimMetric(account, job.ID, "accepted", reward, remaining)
}

func (s *MetricsSink) BonusPaid(jobID, account string, units int, share float64) {
	s.client.WriteRewardMetric(account, "bonus", share)
}

// ArchiveSink appends retired jobs and payouts to the Postgres audit trail.
// Writes are fire-and-forget; an unreachable archive never stalls a claim.
type ArchiveSink struct {
	jobs    *archive.JobRepository
	payouts *archive.PayoutRepository
	logger  *log.Logger
}

// NewArchiveSink creates an archive sink over the given repositories.
func NewArchiveSink(jobs *archive.JobRepository, payouts *archive.PayoutRepository, logger *log.Logger) *ArchiveSink {
	return &ArchiveSink{
		jobs:    jobs,
		payouts: payouts,
		logger:  logger.WithComponent("archive"),
	}
}

func (s *ArchiveSink) JobCreated(*store.Job) {}

func (s *ArchiveSink) JobRetired(job *store.Job, contributors int) {
	record := &archive.RetiredJob{
		JobID:         job.ID,
		Size:          job.Size,
		Difficulty:    job.Difficulty,
		RewardPerUnit: job.RewardPerUnit,
		BonusPool:     job.BonusPool,
		Status:        string(job.Status),
		Contributors:  contributors,
		CreatedAt:     job.CreatedAt,
		RetiredAt:     time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := s.jobs.ArchiveJob(ctx, record); err != nil {
			s.logger.WithError(err).Warn("failed to archive retired job", "job_id", record.JobID)
		}
	}()
}

func (s *ArchiveSink) ClaimRecorded(string, *store.Job, int, float64) {}

func (s *ArchiveSink) BonusPaid(jobID, account string, units int, share float64) {
	record := &archive.Payout{
		JobID:   jobID,
		Account: account,
		Units:   units,
		Share:   share,
		PaidAt:  time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := s.payouts.ArchivePayout(ctx, record); err != nil {
			s.logger.WithError(err).Warn("failed to archive payout", "job_id", jobID, "account", account)
		}
	}()
}
